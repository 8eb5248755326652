package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/corepipe/plugin"
	"github.com/dshills/corepipe/reorder"
)

// RowContext carries one row through the pool: its data, the node
// state it is audited under (shared across a batch when used with
// aggregation), and its position for result ordering.
type RowContext struct {
	Row     map[string]interface{}
	StateID string
	Index   int
}

// ProcessFunc processes a single row. A *CapacityError triggers the
// executor's retry-with-backoff policy; any other error becomes a
// terminal, non-retryable TransformResult.
type ProcessFunc func(ctx context.Context, row map[string]interface{}, stateID string) (plugin.TransformResult, error)

// Config configures an Executor.
type Config struct {
	PoolSize         int
	MaxCapacityRetry time.Duration
	Throttle         ThrottleConfig
}

// Stats is what Executor.ExecuteBatch returns alongside its results;
// recording it against a node state is left to the caller.
type Stats struct {
	PoolSize         int
	MaxCapacityRetry time.Duration
	Throttle         ThrottleStats
}

// Executor dispatches row-processing callables in parallel, bounded by
// a semaphore of size PoolSize, and returns results in submission
// order via a reorder.Buffer.
type Executor struct {
	cfg      Config
	sem      chan struct{}
	throttle *Throttle
}

// NewExecutor builds an Executor from cfg.
func NewExecutor(cfg Config) *Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Executor{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.PoolSize),
		throttle: NewThrottle(cfg.Throttle),
	}
}

// ExecuteBatch processes every context in parallel (bounded by
// PoolSize) and returns results in the same order as contexts.
func (e *Executor) ExecuteBatch(ctx context.Context, contexts []RowContext, fn ProcessFunc) ([]plugin.TransformResult, Stats, error) {
	stats := Stats{PoolSize: e.cfg.PoolSize, MaxCapacityRetry: e.cfg.MaxCapacityRetry}
	if len(contexts) == 0 {
		stats.Throttle = e.throttle.Stats()
		return nil, stats, nil
	}

	buf := reorder.NewBuffer(len(contexts))
	var wg sync.WaitGroup

	for _, rc := range contexts {
		ticket, err := buf.Submit(ctx)
		if err != nil {
			stats.Throttle = e.throttle.Stats()
			return nil, stats, fmt.Errorf("pool: submit: %w", err)
		}
		wg.Add(1)
		go func(rc RowContext, ticket reorder.Ticket) {
			defer wg.Done()
			result := e.executeSingle(ctx, rc, fn)
			// Complete never legitimately fails here: each ticket is
			// submitted and completed exactly once by this goroutine.
			_ = buf.Complete(ticket, result, nil)
		}(rc, ticket)
	}

	results := make([]plugin.TransformResult, 0, len(contexts))
	collectDone := make(chan error, 1)
	go func() {
		for i := 0; i < len(contexts); i++ {
			r, err := buf.WaitForNextRelease(ctx, 0)
			if err != nil {
				collectDone <- err
				return
			}
			results = append(results, r.Payload.(plugin.TransformResult))
		}
		collectDone <- nil
	}()

	wg.Wait()
	err := <-collectDone
	stats.Throttle = e.throttle.Stats()
	if err != nil {
		return results, stats, fmt.Errorf("pool: collect: %w", err)
	}
	return results, stats, nil
}

// executeSingle runs fn for one row, acquiring the pool semaphore
// inside the worker (never in ExecuteBatch's dispatch loop) and
// retrying capacity errors until MaxCapacityRetry elapses.
//
// Deadlock guard: on a capacity error the worker releases the
// semaphore before waiting out the throttle, then reacquires before
// retrying. Acquiring in ExecuteBatch instead would let the dispatcher
// hold permits that blocked workers need to reacquire, since the
// throttle wait happens here, not there.
func (e *Executor) executeSingle(ctx context.Context, rc RowContext, fn ProcessFunc) plugin.TransformResult {
	start := time.Now()
	maxTime := start.Add(e.cfg.MaxCapacityRetry)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return plugin.Error("context canceled waiting for pool slot", false)
	}
	holding := true
	defer func() {
		if holding {
			<-e.sem
		}
	}()

	if err := e.throttle.Wait(ctx); err != nil {
		return plugin.Error(fmt.Sprintf("throttle wait: %v", err), false)
	}

	for {
		result, err := fn(ctx, rc.Row, rc.StateID)
		if err == nil {
			e.throttle.OnSuccess()
			return result
		}

		var capErr *CapacityError
		if !errors.As(err, &capErr) {
			return plugin.Error(err.Error(), false)
		}

		if time.Now().After(maxTime) {
			return plugin.Error(fmt.Sprintf(
				"capacity_retry_timeout: %s (elapsed %s, max %s)",
				capErr.Error(), time.Since(start), e.cfg.MaxCapacityRetry,
			), false)
		}

		e.throttle.OnCapacityError()

		<-e.sem
		holding = false

		// Throttle sleep happens here, between release and reacquire, so
		// a retrying worker never holds a pool slot during backoff.
		if err := e.throttle.Wait(ctx); err != nil {
			return plugin.Error(fmt.Sprintf("throttle wait: %v", err), false)
		}

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return plugin.Error("context canceled during capacity retry", false)
		}
		holding = true
	}
}
