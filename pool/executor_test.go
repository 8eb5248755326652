package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/corepipe/plugin"
)

func fastConfig(poolSize int) Config {
	return Config{
		PoolSize:         poolSize,
		MaxCapacityRetry: time.Second,
		Throttle: ThrottleConfig{
			BaseRate:       1000,
			MinRate:        1,
			Burst:          1000,
			DecreaseFactor: 0.5,
			RecoveryStep:   1000,
		},
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	e := NewExecutor(fastConfig(4))
	contexts := make([]RowContext, 10)
	for i := range contexts {
		contexts[i] = RowContext{Row: map[string]interface{}{"i": i}, StateID: "s", Index: i}
	}

	fn := func(ctx context.Context, row map[string]interface{}, stateID string) (plugin.TransformResult, error) {
		// Process in reverse-ish order by sleeping inversely to index,
		// so completion order differs from submission order.
		i := row["i"].(int)
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		return plugin.Success(plugin.PipelineRow{Data: row}, "ok"), nil
	}

	results, _, err := e.ExecuteBatch(context.Background(), contexts, fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Row.Data["i"] != i {
			t.Fatalf("result %d out of order: got i=%v", i, r.Row.Data["i"])
		}
	}
}

func TestExecuteBatchBoundsConcurrency(t *testing.T) {
	e := NewExecutor(fastConfig(2))
	contexts := make([]RowContext, 8)
	for i := range contexts {
		contexts[i] = RowContext{Row: map[string]interface{}{"i": i}, StateID: "s"}
	}

	var active, peak int32
	fn := func(ctx context.Context, row map[string]interface{}, stateID string) (plugin.TransformResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return plugin.Success(plugin.PipelineRow{Data: row}, "ok"), nil
	}

	_, _, err := e.ExecuteBatch(context.Background(), contexts, fn)
	if err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Fatalf("expected concurrency bounded at 2, observed peak %d", peak)
	}
}

func TestExecuteBatchRetriesCapacityErrorThenSucceeds(t *testing.T) {
	e := NewExecutor(fastConfig(1))
	contexts := []RowContext{{Row: map[string]interface{}{"i": 0}, StateID: "s"}}

	var attempts int32
	fn := func(ctx context.Context, row map[string]interface{}, stateID string) (plugin.TransformResult, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return plugin.TransformResult{}, &CapacityError{Reason: "rate limited", StatusCode: 429}
		}
		return plugin.Success(plugin.PipelineRow{Data: row}, "ok"), nil
	}

	results, stats, err := e.ExecuteBatch(context.Background(), contexts, fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Kind != plugin.ResultSuccess {
		t.Fatalf("expected eventual success, got %+v", results)
	}
	if stats.Throttle.CapacityRetries != 2 {
		t.Fatalf("expected 2 capacity retries recorded, got %d", stats.Throttle.CapacityRetries)
	}
}

func TestExecuteBatchCapacityErrorTimesOut(t *testing.T) {
	cfg := fastConfig(1)
	cfg.MaxCapacityRetry = 20 * time.Millisecond
	e := NewExecutor(cfg)
	contexts := []RowContext{{Row: map[string]interface{}{"i": 0}, StateID: "s"}}

	fn := func(ctx context.Context, row map[string]interface{}, stateID string) (plugin.TransformResult, error) {
		return plugin.TransformResult{}, &CapacityError{Reason: "always busy", StatusCode: 429}
	}

	results, _, err := e.ExecuteBatch(context.Background(), contexts, fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Kind != plugin.ResultError || results[0].Retryable {
		t.Fatalf("expected terminal non-retryable timeout result, got %+v", results)
	}
}

func TestExecuteBatchEmpty(t *testing.T) {
	e := NewExecutor(fastConfig(2))
	results, _, err := e.ExecuteBatch(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
