// Package queue defines the durable, named FIFO of opaque work ids that
// feeds the loop schedulers, with in-memory and Redis backends.
//
// Semantics shared by every backend:
//   - Fetch removes and returns exactly one id, atomically with respect to all
//     other fetchers. An empty result on timeout is not an error.
//   - Fetched ids stay in flight until MarkDone.
//   - Duplicates are allowed; consumers dedupe or stay idempotent per id.
//   - WaitUntilDrained returns once nothing is pending and nothing is in flight.
//     New enqueues extend the wait.
package queue

import (
	"context"
	"errors"
	"time"
)

// Well-known queue names.
const (
	NameUsers = "users"
	NameRooms = "rooms"
)

// ErrQueueClosed is returned by operations on a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a competing-consumer work queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue appends one id.
	Enqueue(ctx context.Context, id string) error

	// EnqueueMany appends ids in order.
	EnqueueMany(ctx context.Context, ids []string) error

	// Fetch waits up to timeout for an id. ok is false when nothing arrived.
	Fetch(ctx context.Context, timeout time.Duration) (id string, ok bool, err error)

	// MarkDone releases one in-flight occurrence of id.
	MarkDone(ctx context.Context, id string) error

	// Reset discards every pending and in-flight id.
	Reset(ctx context.Context) error

	// WaitUntilDrained blocks until zero pending and zero in-flight ids.
	WaitUntilDrained(ctx context.Context) error

	// Depth returns the number of pending ids.
	Depth(ctx context.Context) (int64, error)
}

// Factory opens named queues on one backend.
type Factory interface {
	Open(name string) (Queue, error)
	Close() error
}
