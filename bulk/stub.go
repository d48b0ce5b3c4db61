package bulk

import (
	"context"
	"sync"
)

// StubStore records batches without persisting. Used in tests.
type StubStore struct {
	mu sync.Mutex

	// Batches holds every accepted batch in submit order.
	Batches []*Batch
	// OpsWritten is the total number of operations accepted.
	OpsWritten int64
	// ErrorOnWrite, if non-nil, is returned by BulkWrite.
	ErrorOnWrite error
}

// NewStubStore creates an empty stub store.
func NewStubStore() *StubStore {
	return &StubStore{}
}

// BulkWrite records the batch.
func (s *StubStore) BulkWrite(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Batches = append(s.Batches, batch)
	s.OpsWritten += int64(len(batch.Ops))
	return nil
}

// BatchesFor returns the recorded batches of one collection.
func (s *StubStore) BatchesFor(collection string) []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Batch
	for _, b := range s.Batches {
		if b.Collection == collection {
			out = append(out, b)
		}
	}
	return out
}

// SetError changes the error returned by BulkWrite.
func (s *StubStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorOnWrite = err
}

var _ Store = (*StubStore)(nil)
