// Package reorder implements a FIFO ordering primitive: results complete
// out of order (driven by a pooled executor's concurrent workers) but
// must be released to downstream consumers strictly in submission
// order. It is the reordering half of the pooled executor described in
// spec.md §4.10, extracted as its own primitive because the property it
// guarantees — released sequence is always a prefix of submission
// order — is useful anywhere a parallel stage feeds an order-sensitive
// one.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrShutdown is returned to every blocked and future caller once
// Shutdown has been called.
var ErrShutdown = errors.New("reorder: buffer shut down")

// ErrDoubleComplete is returned by Complete when the ticket was already
// completed or evicted.
var ErrDoubleComplete = errors.New("reorder: ticket already completed")

// Ticket identifies a submitted slot by its monotonically increasing
// sequence number.
type Ticket uint64

// Released is one result delivered in submission order.
type Released struct {
	Ticket  Ticket
	Payload interface{}
	Err     error
}

// Buffer is a bounded FIFO reordering buffer. The zero value is not
// usable; construct with NewBuffer. Safe for concurrent use.
type Buffer struct {
	mu sync.Mutex

	capacity int
	sem      chan struct{} // one slot reserved per outstanding (submitted, unreleased) ticket

	nextSeq     uint64
	nextRelease uint64

	done    map[uint64]Released
	evicted map[uint64]bool

	releaseCh chan Released
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewBuffer returns a Buffer with the given capacity (maximum number of
// outstanding submitted-but-unreleased tickets).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		capacity:  capacity,
		sem:       make(chan struct{}, capacity),
		done:      make(map[uint64]Released),
		evicted:   make(map[uint64]bool),
		releaseCh: make(chan Released, capacity),
		closeCh:   make(chan struct{}),
	}
}

// Submit reserves the next sequence number, blocking until a slot is
// free or ctx is canceled.
func (b *Buffer) Submit(ctx context.Context) (Ticket, error) {
	select {
	case <-b.closeCh:
		return 0, ErrShutdown
	default:
	}
	select {
	case b.sem <- struct{}{}:
	case <-b.closeCh:
		return 0, ErrShutdown
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	b.mu.Lock()
	seq := b.nextSeq
	b.nextSeq++
	b.mu.Unlock()
	return Ticket(seq), nil
}

// Complete marks ticket done with payload/err. If ticket is now the
// head of the queue, it and every subsequent already-complete ticket
// are released in sequence.
func (b *Buffer) Complete(ticket Ticket, payload interface{}, err error) error {
	seq := uint64(ticket)

	b.mu.Lock()
	if b.evicted[seq] {
		b.mu.Unlock()
		return fmt.Errorf("%w: ticket %d was evicted", ErrDoubleComplete, seq)
	}
	if seq < b.nextRelease {
		b.mu.Unlock()
		return fmt.Errorf("%w: ticket %d already released", ErrDoubleComplete, seq)
	}
	if _, exists := b.done[seq]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: ticket %d", ErrDoubleComplete, seq)
	}
	b.done[seq] = Released{Ticket: ticket, Payload: payload, Err: err}
	toRelease := b.drainReleasable()
	b.mu.Unlock()

	return b.publish(toRelease)
}

// Evict removes an abandoned ticket (one whose row is being retried
// under a new ticket) so release can proceed past it without ever
// completing.
func (b *Buffer) Evict(ticket Ticket) error {
	seq := uint64(ticket)

	b.mu.Lock()
	if _, exists := b.done[seq]; exists {
		b.mu.Unlock()
		return fmt.Errorf("reorder: ticket %d already completed, cannot evict", seq)
	}
	b.evicted[seq] = true
	toRelease := b.drainReleasable()
	b.mu.Unlock()

	return b.publish(toRelease)
}

// drainReleasable must be called with mu held. It advances nextRelease
// past every contiguous completed or evicted ticket, freeing one
// capacity slot per ticket advanced, and returns the completed results
// to publish to releaseCh (evicted tickets are not published).
func (b *Buffer) drainReleasable() []Released {
	var out []Released
	for {
		if b.evicted[b.nextRelease] {
			delete(b.evicted, b.nextRelease)
			b.nextRelease++
			<-b.sem
			continue
		}
		r, ok := b.done[b.nextRelease]
		if !ok {
			return out
		}
		delete(b.done, b.nextRelease)
		b.nextRelease++
		<-b.sem
		out = append(out, r)
	}
}

func (b *Buffer) publish(results []Released) error {
	for _, r := range results {
		select {
		case b.releaseCh <- r:
		case <-b.closeCh:
			return ErrShutdown
		}
	}
	return nil
}

// WaitForNextRelease blocks until the next sequential ticket is
// released, the buffer is shut down, or timeout elapses (timeout <= 0
// means wait indefinitely).
func (b *Buffer) WaitForNextRelease(ctx context.Context, timeout time.Duration) (Released, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case r := <-b.releaseCh:
		return r, nil
	case <-b.closeCh:
		return Released{}, ErrShutdown
	case <-ctx.Done():
		return Released{}, ctx.Err()
	case <-timeoutCh:
		return Released{}, context.DeadlineExceeded
	}
}

// Shutdown wakes every blocked Submit and WaitForNextRelease call with
// ErrShutdown. Idempotent.
func (b *Buffer) Shutdown() {
	b.closeOnce.Do(func() { close(b.closeCh) })
}
