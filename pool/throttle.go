// Package pool implements the pooled executor and AIMD throttle that
// dispatch row-processing callables in parallel while preserving
// submission order on output and backing off under capacity pressure.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig tunes the AIMD rate controller. The throttle wraps a
// golang.org/x/time/rate.Limiter as the steady-state pacing mechanism;
// AIMD only decides what rate to set it to.
type ThrottleConfig struct {
	// BaseRate is the steady-state dispatch rate with no backpressure.
	BaseRate rate.Limit
	// MinRate is the floor the rate is never throttled below, even
	// under sustained capacity errors.
	MinRate rate.Limit
	// Burst is the limiter's token bucket size.
	Burst int
	// DecreaseFactor multiplies the current rate on a capacity error
	// (e.g. 0.5 halves it). Must be in (0, 1).
	DecreaseFactor float64
	// RecoveryStep is added to the current rate on every success,
	// capped at BaseRate (additive increase back toward steady state).
	RecoveryStep rate.Limit
}

// DefaultThrottleConfig returns reasonable AIMD bounds for an external
// API call: 10 req/s steady state, halved on capacity pressure down to
// a floor of 1 req/s, recovering by 1 req/s per success.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		BaseRate:       10,
		MinRate:        1,
		Burst:          10,
		DecreaseFactor: 0.5,
		RecoveryStep:   1,
	}
}

// ThrottleStats is a snapshot of a Throttle's counters, returned inside
// the executor's Stats.
type ThrottleStats struct {
	CapacityRetries int
	Successes       int
	PeakWait        time.Duration
	CurrentRate     rate.Limit
	TotalWaitTime   time.Duration
}

// Throttle is the AIMD delay controller shared across the workers of
// one Executor. Wait is called inside each worker (never by the
// dispatcher) so that a worker paced by the limiter never holds a
// permit another worker needs to retry; see Executor.executeSingle for
// the deadlock-avoidance discipline this enables.
type Throttle struct {
	mu      sync.Mutex
	cfg     ThrottleConfig
	limiter *rate.Limiter

	currentRate     rate.Limit
	peakWait        time.Duration
	capacityRetries int
	successes       int
	totalWaitTime   time.Duration
}

// NewThrottle builds a Throttle from cfg.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	return &Throttle{
		cfg:         cfg,
		limiter:     rate.NewLimiter(cfg.BaseRate, cfg.Burst),
		currentRate: cfg.BaseRate,
	}
}

// Wait blocks until the limiter admits the next dispatch attempt,
// recording how long the caller waited.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	waited := time.Since(start)
	t.mu.Lock()
	t.totalWaitTime += waited
	if waited > t.peakWait {
		t.peakWait = waited
	}
	t.mu.Unlock()
	return nil
}

// OnSuccess nudges the rate back up toward BaseRate.
func (t *Throttle) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes++
	next := t.currentRate + t.cfg.RecoveryStep
	if next > t.cfg.BaseRate {
		next = t.cfg.BaseRate
	}
	t.currentRate = next
	t.limiter.SetLimit(next)
}

// OnCapacityError backs the rate off multiplicatively, floored at
// MinRate.
func (t *Throttle) OnCapacityError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacityRetries++
	next := rate.Limit(float64(t.currentRate) * t.cfg.DecreaseFactor)
	if next < t.cfg.MinRate {
		next = t.cfg.MinRate
	}
	t.currentRate = next
	t.limiter.SetLimit(next)
}

// Stats returns a snapshot of the throttle's counters.
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThrottleStats{
		CapacityRetries: t.capacityRetries,
		Successes:       t.successes,
		PeakWait:        t.peakWait,
		CurrentRate:     t.currentRate,
		TotalWaitTime:   t.totalWaitTime,
	}
}
