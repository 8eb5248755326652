package llmclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuditedHTTPClientRecordsOneCallPerRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &fakeRecorder{}
	client := NewAuditedHTTPClient(rec, "state-3")

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if len(rec.calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(rec.calls))
	}
	if rec.calls[0].Provider != "http" {
		t.Errorf("Provider = %q, want http", rec.calls[0].Provider)
	}
	if rec.calls[0].Response["status"] != http.StatusOK {
		t.Errorf("Response[status] = %v, want 200", rec.calls[0].Response["status"])
	}
}
