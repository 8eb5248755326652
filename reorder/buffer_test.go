package reorder

import (
	"context"
	"testing"
	"time"
)

func TestReleaseOrderIsPrefixOfSubmission(t *testing.T) {
	b := NewBuffer(4)
	ctx := context.Background()

	var tickets []Ticket
	for i := 0; i < 4; i++ {
		tk, err := b.Submit(ctx)
		if err != nil {
			t.Fatal(err)
		}
		tickets = append(tickets, tk)
	}

	// Complete out of order: 3, 1, 0, 2.
	if err := b.Complete(tickets[3], "d", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Complete(tickets[1], "b", nil); err != nil {
		t.Fatal(err)
	}

	// Nothing should release yet: ticket 0 is still outstanding.
	select {
	case r := <-b.releaseCh:
		t.Fatalf("unexpected early release: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	if err := b.Complete(tickets[0], "a", nil); err != nil {
		t.Fatal(err)
	}
	// Completing 0 should release 0 then 1 (already done), but not 2.
	first, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if first.Payload != "a" {
		t.Fatalf("expected a, got %v", first.Payload)
	}
	second, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if second.Payload != "b" {
		t.Fatalf("expected b, got %v", second.Payload)
	}

	if err := b.Complete(tickets[2], "c", nil); err != nil {
		t.Fatal(err)
	}
	third, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if third.Payload != "c" {
		t.Fatalf("expected c, got %v", third.Payload)
	}
	fourth, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if fourth.Payload != "d" {
		t.Fatalf("expected d, got %v", fourth.Payload)
	}
}

func TestDoubleCompleteIsError(t *testing.T) {
	b := NewBuffer(2)
	tk, _ := b.Submit(context.Background())
	if err := b.Complete(tk, "x", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Complete(tk, "x", nil); err == nil {
		t.Fatal("expected double-complete error")
	}
}

func TestEvictAllowsReleaseToProceed(t *testing.T) {
	b := NewBuffer(3)
	ctx := context.Background()
	t0, _ := b.Submit(ctx)
	t1, _ := b.Submit(ctx)
	t2, _ := b.Submit(ctx)

	if err := b.Complete(t1, "b", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Complete(t2, "c", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Evict(t0); err != nil {
		t.Fatal(err)
	}

	first, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if first.Payload != "b" {
		t.Fatalf("expected b released after evicting head, got %v", first.Payload)
	}
	second, err := b.WaitForNextRelease(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if second.Payload != "c" {
		t.Fatalf("expected c, got %v", second.Payload)
	}
}

func TestSubmitBlocksAtCapacityUntilRelease(t *testing.T) {
	b := NewBuffer(1)
	ctx := context.Background()
	t0, err := b.Submit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := b.Submit(blockedCtx); err == nil {
		t.Fatal("expected Submit to block at capacity and time out")
	}

	if err := b.Complete(t0, "a", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.WaitForNextRelease(ctx, time.Second); err != nil {
		t.Fatal(err)
	}

	if _, err := b.Submit(ctx); err != nil {
		t.Fatalf("expected capacity freed after release, got %v", err)
	}
}

func TestShutdownWakesWaiters(t *testing.T) {
	b := NewBuffer(2)
	done := make(chan error, 1)
	go func() {
		_, err := b.WaitForNextRelease(context.Background(), 0)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Shutdown()
	select {
	case err := <-done:
		if err != ErrShutdown {
			t.Fatalf("expected ErrShutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by shutdown")
	}
}
