package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/corepipe/landscape"
)

// fakeChatModel returns canned responses, repeating the last one once
// exhausted, mirroring the teacher's MockChatModel behavior.
type fakeChatModel struct {
	responses []ChatOut
	errs      []error
	calls     int
}

func (f *fakeChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return ChatOut{}, f.errs[i]
	}
	if len(f.responses) == 0 {
		return ChatOut{}, nil
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

type fakeRecorder struct {
	calls []landscape.CallInput
}

func (f *fakeRecorder) RecordCall(ctx context.Context, stateID string, call landscape.CallInput) (string, error) {
	f.calls = append(f.calls, call)
	return "call-1", nil
}

func TestAuditedClientRecordsSuccessfulCall(t *testing.T) {
	inner := &fakeChatModel{responses: []ChatOut{{Text: "hello"}}}
	rec := &fakeRecorder{}
	client := NewAuditedClient("anthropic", "claude-test", inner, rec, "state-1")

	out, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "hello" {
		t.Errorf("Text = %q, want hello", out.Text)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(rec.calls))
	}
	if rec.calls[0].Provider != "anthropic" || rec.calls[0].Model != "claude-test" {
		t.Errorf("call = %+v", rec.calls[0])
	}
	if rec.calls[0].Err != "" {
		t.Errorf("Err = %q, want empty", rec.calls[0].Err)
	}
}

func TestAuditedClientRecordsFailedCallAndPropagatesError(t *testing.T) {
	wantErr := errors.New("rate limited")
	inner := &fakeChatModel{errs: []error{wantErr}}
	rec := &fakeRecorder{}
	client := NewAuditedClient("openai", "gpt-test", inner, rec, "state-2")

	_, err := client.Chat(context.Background(), nil, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if len(rec.calls) != 1 || rec.calls[0].Err != wantErr.Error() {
		t.Fatalf("recorded call = %+v", rec.calls)
	}
}
