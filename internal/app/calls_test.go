package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallRegistry_AddRemove(t *testing.T) {
	t.Parallel()

	r := newCallRegistry()
	id1 := r.add(func() {})
	id2 := r.add(func() {})
	if id1 == id2 {
		t.Fatalf("ids collide: %d", id1)
	}
	if r.active() != 2 {
		t.Fatalf("active = %d, want 2", r.active())
	}

	r.remove(id1)
	r.remove(id1) // second remove of the same id is a no-op
	if r.active() != 1 {
		t.Fatalf("active = %d, want 1", r.active())
	}
}

func TestCallRegistry_CancelAll(t *testing.T) {
	t.Parallel()

	r := newCallRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.add(cancel1)
	r.add(cancel2)

	r.cancelAll()
	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Fatal("cancelAll left a call context alive")
	}
	// Cancelled calls stay registered until their handlers remove them.
	if r.active() != 2 {
		t.Fatalf("active = %d, want 2", r.active())
	}
}

func TestCallRegistry_WaitBlocksUntilEmpty(t *testing.T) {
	t.Parallel()

	r := newCallRegistry()
	id := r.add(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait with active call = %v, want deadline exceeded", err)
	}

	r.remove(id)
	if err := r.wait(context.Background()); err != nil {
		t.Fatalf("wait on empty registry = %v", err)
	}
}
