package llmclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dshills/corepipe/landscape"
)

// NewAuditedHTTPClient returns a tracing-instrumented http.Client that
// also records one Call row per request/response pair against stateID.
// Plugins that need to reach an external HTTP API directly (rather than
// through a ChatModel adapter) get the same audit guarantee as LLM calls.
func NewAuditedHTTPClient(recorder Recorder, stateID string) *http.Client {
	traced := otelhttp.NewTransport(http.DefaultTransport)
	return &http.Client{Transport: &auditedTransport{base: traced, recorder: recorder, stateID: stateID}}
}

type auditedTransport struct {
	base     http.RoundTripper
	recorder Recorder
	stateID  string
}

func (t *auditedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	_, _ = t.recorder.RecordCall(req.Context(), t.stateID, landscape.CallInput{
		Provider:   "http",
		Model:      req.URL.Host,
		Request:    map[string]interface{}{"method": req.Method, "url": req.URL.String()},
		Response:   map[string]interface{}{"status": status},
		DurationMS: duration,
		Err:        errText,
	})
	return resp, err
}
