package payload

import (
	"context"
	"testing"
)

func TestFSStorePutIdempotent(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	d1, err := s.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := s.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("expected same digest, got %s vs %s", d1, d2)
	}
	b, err := s.Get(ctx, d1)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("got %s", b)
	}
}

func TestFSStoreNotFound(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), "deadbeef"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreHas(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	d, err := s.Put(ctx, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Has(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Has to return true")
	}
	ok, err = s.Has(ctx, "notthere")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected Has to return false")
	}
}
