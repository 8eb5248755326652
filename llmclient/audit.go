package llmclient

import (
	"context"
	"time"

	"github.com/dshills/corepipe/landscape"
)

// Recorder is the narrow slice of landscape.Recorder this package needs:
// one call row per invocation, keyed against the node state that made it.
// landscape.Recorder satisfies this directly.
type Recorder interface {
	RecordCall(ctx context.Context, stateID string, call landscape.CallInput) (callID string, err error)
}

// AuditedClient wraps a provider ChatModel so every Chat call is recorded
// against a fixed node state before its result reaches the caller,
// regardless of whether the underlying call succeeded.
type AuditedClient struct {
	provider string
	model    string
	inner    ChatModel
	recorder Recorder
	stateID  string
}

// NewAuditedClient binds inner to recorder and stateID: every call made
// through the returned client is recorded as one Call row for that node
// state visit.
func NewAuditedClient(provider, modelName string, inner ChatModel, recorder Recorder, stateID string) *AuditedClient {
	return &AuditedClient{provider: provider, model: modelName, inner: inner, recorder: recorder, stateID: stateID}
}

// Chat implements ChatModel, recording the call's request, response,
// duration, and error (if any) before returning.
func (c *AuditedClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	start := time.Now()
	out, err := c.inner.Chat(ctx, messages, tools)
	duration := time.Since(start).Milliseconds()

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	_, recErr := c.recorder.RecordCall(ctx, c.stateID, landscape.CallInput{
		Provider:   c.provider,
		Model:      c.model,
		Request:    map[string]interface{}{"messages": messagesToMap(messages), "tools": toolsToMap(tools)},
		Response:   outToMap(out),
		DurationMS: duration,
		Err:        errText,
	})
	if err == nil && recErr != nil {
		return out, recErr
	}
	return out, err
}
