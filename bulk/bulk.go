// Package bulk stages document mutations during a room pass and commits them
// as one unordered batch per collection.
//
// A Writer is owned by one room pass at a time. Execute submits everything
// staged and clears the buffer whether or not the submit succeeded; the
// owning step decides what a failure means. No cross-document atomicity is
// implied.
package bulk

import (
	"context"
	"fmt"
)

// Collections written by the room processor.
const (
	CollectionObjects = "rooms.objects"
	CollectionRooms   = "rooms"
	CollectionFlags   = "rooms.flags"
	CollectionUsers   = "users"
)

// OpKind identifies a staged operation.
type OpKind string

// Operation kinds.
const (
	OpUpdate    OpKind = "update"
	OpInsert    OpKind = "insert"
	OpRemove    OpKind = "remove"
	OpIncrement OpKind = "inc"
	OpAddToSet  OpKind = "addToSet"
	OpPull      OpKind = "pull"
)

// Operation is one staged mutation keyed by document id.
type Operation struct {
	Kind OpKind `json:"kind" msgpack:"kind"`
	ID   string `json:"id" msgpack:"id"`
	// Set holds update fields. Keys may be dotted paths ("store.energy").
	Set map[string]any `json:"set,omitempty" msgpack:"set,omitempty"`
	// Doc is the full document for inserts.
	Doc map[string]any `json:"doc,omitempty" msgpack:"doc,omitempty"`
	// Field, Amount and Value serve inc / addToSet / pull.
	Field  string `json:"field,omitempty" msgpack:"field,omitempty"`
	Amount int64  `json:"amount,omitempty" msgpack:"amount,omitempty"`
	Value  any    `json:"value,omitempty" msgpack:"value,omitempty"`
}

// Batch is the unit submitted to a Store.
type Batch struct {
	// ID correlates the batch in logs.
	ID         string
	Collection string
	Ops        []Operation
}

// Store applies batches. Implementations provide their own concurrent-write
// safety; batches are unordered across documents.
type Store interface {
	BulkWrite(ctx context.Context, batch *Batch) error
}

// BatchError reports a failed batch submit.
type BatchError struct {
	Collection string
	BatchID    string
	Ops        int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("bulk write %s (batch %s, %d ops): %v", e.Collection, e.BatchID, e.Ops, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Kind names the error for scheduler telemetry.
func (e *BatchError) Kind() string { return "BulkWriteError" }
