package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(NameUsers)
	ctx := t.Context()

	if err := q.EnqueueMany(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for _, want := range []string{"a", "b", "c"} {
		id, ok, err := q.Fetch(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("fetch: ok=%v err=%v", ok, err)
		}
		if id != want {
			t.Errorf("expected %q, got %q", want, id)
		}
	}

	if n, _ := q.Depth(ctx); n != 0 {
		t.Errorf("expected depth 0, got %d", n)
	}
	if q.InFlight() != 3 {
		t.Errorf("expected 3 in flight, got %d", q.InFlight())
	}
}

func TestMemoryQueue_FetchTimeoutIsNotError(t *testing.T) {
	q := NewMemoryQueue(NameRooms)

	start := time.Now()
	id, ok, err := q.Fetch(t.Context(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || id != "" {
		t.Errorf("expected empty result, got %q ok=%v", id, ok)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("fetch returned before timeout")
	}
}

func TestMemoryQueue_FetchWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue(NameRooms)
	ctx := t.Context()

	got := make(chan string, 1)
	go func() {
		id, _, _ := q.Fetch(ctx, 5*time.Second)
		got <- id
	}()

	time.Sleep(10 * time.Millisecond)
	_ = q.Enqueue(ctx, "W1N1")

	select {
	case id := <-got:
		if id != "W1N1" {
			t.Errorf("expected W1N1, got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not wake on enqueue")
	}
}

func TestMemoryQueue_CompetingConsumersSeeEachIDOnce(t *testing.T) {
	q := NewMemoryQueue(NameUsers)
	ctx := t.Context()

	const total = 200
	ids := make([]string, total)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('0'+i/26))
	}
	_ = q.EnqueueMany(ctx, ids)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok, err := q.Fetch(ctx, 20*time.Millisecond)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
				_ = q.MarkDone(ctx, id)
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct ids, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("id %q fetched %d times", id, n)
		}
	}
}

func TestMemoryQueue_WaitUntilDrained(t *testing.T) {
	q := NewMemoryQueue(NameUsers)
	ctx := t.Context()
	_ = q.EnqueueMany(ctx, []string{"u1", "u2"})

	drained := make(chan error, 1)
	go func() { drained <- q.WaitUntilDrained(ctx) }()

	id1, _, _ := q.Fetch(ctx, time.Second)
	id2, _, _ := q.Fetch(ctx, time.Second)
	_ = q.MarkDone(ctx, id1)

	select {
	case <-drained:
		t.Fatal("drained while an id was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	_ = q.MarkDone(ctx, id2)

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return")
	}
}

func TestMemoryQueue_DuplicatesTrackedSeparately(t *testing.T) {
	q := NewMemoryQueue(NameUsers)
	ctx := t.Context()
	_ = q.EnqueueMany(ctx, []string{"u1", "u1"})

	_, _, _ = q.Fetch(ctx, time.Second)
	_, _, _ = q.Fetch(ctx, time.Second)
	_ = q.MarkDone(ctx, "u1")

	if q.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", q.InFlight())
	}
	_ = q.MarkDone(ctx, "u1")
	if q.InFlight() != 0 {
		t.Fatalf("expected 0 in flight, got %d", q.InFlight())
	}
}

func TestMemoryQueue_Reset(t *testing.T) {
	q := NewMemoryQueue(NameRooms)
	ctx := t.Context()
	_ = q.EnqueueMany(ctx, []string{"a", "b"})
	_, _, _ = q.Fetch(ctx, time.Second)

	if err := q.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := q.Depth(ctx); n != 0 {
		t.Errorf("expected depth 0, got %d", n)
	}

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := q.WaitUntilDrained(dctx); err != nil {
		t.Errorf("expected drained after reset, got %v", err)
	}
}

func TestMemoryQueue_ContextCanceled(t *testing.T) {
	q := NewMemoryQueue(NameRooms)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, _, err := q.Fetch(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(NameRooms)
	_ = q.Close()

	if err := q.Enqueue(t.Context(), "x"); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryFactory_SameNameSameQueue(t *testing.T) {
	f := NewMemoryFactory()
	defer func() { _ = f.Close() }()

	a, _ := f.Open(NameUsers)
	b, _ := f.Open(NameUsers)
	if a != b {
		t.Error("expected identical queue for identical name")
	}
	c, _ := f.Open(NameRooms)
	if a == c {
		t.Error("expected distinct queues for distinct names")
	}
}
