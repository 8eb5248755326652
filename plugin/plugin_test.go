package plugin

import (
	"context"
	"testing"

	"github.com/dshills/corepipe/schema"
)

func TestPipelineRowCloneIsDeep(t *testing.T) {
	row := PipelineRow{
		Data:     map[string]interface{}{"a": 1},
		Contract: schema.Contract{Mode: schema.ModeDynamic},
	}
	clone := row.Clone()
	clone.Data["a"] = 2
	if row.Data["a"] != 1 {
		t.Fatalf("expected original row untouched, got %v", row.Data["a"])
	}
}

func TestTransformResultConstructors(t *testing.T) {
	row := PipelineRow{Data: map[string]interface{}{"x": 1}}

	if r := Success(row, "ok"); r.Kind != ResultSuccess || r.SuccessReason != "ok" {
		t.Fatalf("unexpected success result: %+v", r)
	}
	if r := SuccessMulti([]PipelineRow{row, row}, "split"); r.Kind != ResultSuccessMulti || len(r.Rows) != 2 {
		t.Fatalf("unexpected success_multi result: %+v", r)
	}
	if r := Error("bad input", false); r.Kind != ResultError || r.Retryable {
		t.Fatalf("unexpected error result: %+v", r)
	}
	if r := Error("rate limited", true); !r.Retryable {
		t.Fatalf("expected retryable error result")
	}
	if r := Pending(map[string]string{"batch_id": "b1"}); r.Kind != ResultPending {
		t.Fatalf("unexpected pending result: %+v", r)
	}
}

type recordingRecorder struct {
	nodeStateID string
	reason      string
	rawData     map[string]interface{}
}

func (r *recordingRecorder) RecordValidationError(ctx context.Context, nodeStateID, reason string, rawData map[string]interface{}) error {
	r.nodeStateID = nodeStateID
	r.reason = reason
	r.rawData = rawData
	return nil
}

func TestContextRecordValidationError(t *testing.T) {
	rec := &recordingRecorder{}
	pc := Context{NodeStateID: "state-1", Recorder: rec}
	if err := pc.RecordValidationError(context.Background(), "missing field x", map[string]interface{}{"y": 2}); err != nil {
		t.Fatal(err)
	}
	if rec.nodeStateID != "state-1" || rec.reason != "missing field x" {
		t.Fatalf("unexpected recorder state: %+v", rec)
	}
}

func TestContextRecordValidationErrorNilRecorder(t *testing.T) {
	pc := Context{}
	if err := pc.RecordValidationError(context.Background(), "x", nil); err != nil {
		t.Fatalf("expected nil recorder to no-op, got %v", err)
	}
}

// uppercaseTransform is a minimal Transform used to confirm the
// interface shape is satisfiable by a realistic implementation.
type uppercaseTransform struct{}

func (uppercaseTransform) Name() string         { return "uppercase" }
func (uppercaseTransform) CreatesTokens() bool   { return false }
func (uppercaseTransform) Process(ctx context.Context, row PipelineRow, pc Context) (TransformResult, error) {
	v, ok := row.Data["text"].(string)
	if !ok {
		return Error("text field missing or not a string", false), nil
	}
	out := row.Clone()
	out.Data["text"] = v + "!"
	return Success(out, "uppercased"), nil
}

func TestTransformInterfaceSatisfiedByImplementation(t *testing.T) {
	var tf Transform = uppercaseTransform{}
	row := PipelineRow{Data: map[string]interface{}{"text": "hi"}}
	res, err := tf.Process(context.Background(), row, Context{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultSuccess || res.Row.Data["text"] != "hi!" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
