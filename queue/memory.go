package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue.
// Waiters are woken through a broadcast channel that is closed and replaced
// on every state change.
type MemoryQueue struct {
	name string

	mu       sync.Mutex
	pending  []string
	inFlight map[string]int
	changed  chan struct{}
	closed   bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:     name,
		inFlight: make(map[string]int),
		changed:  make(chan struct{}),
	}
}

// Name implements Queue.
func (q *MemoryQueue) Name() string { return q.name }

// broadcastLocked wakes every waiter. Caller must hold mu.
func (q *MemoryQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, id string) error {
	return q.EnqueueMany(ctx, []string{id})
}

// EnqueueMany implements Queue.
func (q *MemoryQueue) EnqueueMany(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, ids...)
	q.broadcastLocked()
	return nil
}

// Fetch implements Queue.
func (q *MemoryQueue) Fetch(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", false, ErrQueueClosed
		}
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending[0] = ""
			q.pending = q.pending[1:]
			q.inFlight[id]++
			q.broadcastLocked()
			q.mu.Unlock()
			return id, true, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// MarkDone implements Queue. Unknown ids are ignored.
func (q *MemoryQueue) MarkDone(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.inFlight[id]
	if !ok {
		return nil
	}
	if n <= 1 {
		delete(q.inFlight, id)
	} else {
		q.inFlight[id] = n - 1
	}
	q.broadcastLocked()
	return nil
}

// Reset implements Queue.
func (q *MemoryQueue) Reset(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.inFlight = make(map[string]int)
	q.broadcastLocked()
	return nil
}

// WaitUntilDrained implements Queue.
func (q *MemoryQueue) WaitUntilDrained(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.pending) == 0 && len(q.inFlight) == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// InFlight returns the number of fetched ids not yet marked done.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.inFlight {
		n += c
	}
	return n
}

// Close wakes all waiters; subsequent operations fail with ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
	return nil
}

// MemoryFactory hands out process-local queues, one per name.
type MemoryFactory struct {
	mu     sync.Mutex
	queues map[string]*MemoryQueue
}

// NewMemoryFactory creates a factory for in-memory queues.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{queues: make(map[string]*MemoryQueue)}
}

// Open implements Factory. Opening the same name twice returns the same queue.
func (f *MemoryFactory) Open(name string) (Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok {
		return q, nil
	}
	q := NewMemoryQueue(name)
	f.queues[name] = q
	return q, nil
}

// Close closes every queue opened by the factory.
func (f *MemoryFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		_ = q.Close()
	}
	return nil
}

var (
	_ Queue   = (*MemoryQueue)(nil)
	_ Factory = (*MemoryFactory)(nil)
)
