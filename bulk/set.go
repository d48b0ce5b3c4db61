package bulk

import (
	"context"
	"errors"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
)

// Set groups the writers of one room pass, one per collection.
type Set struct {
	order   []string
	writers map[string]*Writer
}

// NewSet creates writers for the processor collections on store.
func NewSet(store Store, logger *log.Logger, m *metrics.Collector) *Set {
	s := &Set{writers: make(map[string]*Writer)}
	for _, c := range []string{CollectionObjects, CollectionRooms, CollectionFlags, CollectionUsers} {
		s.order = append(s.order, c)
		s.writers[c] = NewWriter(c, store, logger, m)
	}
	return s
}

// Objects is the rooms.objects writer.
func (s *Set) Objects() *Writer { return s.writers[CollectionObjects] }

// Rooms is the rooms writer.
func (s *Set) Rooms() *Writer { return s.writers[CollectionRooms] }

// Flags is the rooms.flags writer.
func (s *Set) Flags() *Writer { return s.writers[CollectionFlags] }

// Users is the users writer.
func (s *Set) Users() *Writer { return s.writers[CollectionUsers] }

// HasPendingOperations reports whether any writer has staged operations.
func (s *Set) HasPendingOperations() bool {
	for _, c := range s.order {
		if s.writers[c].HasPendingOperations() {
			return true
		}
	}
	return false
}

// Len returns the total staged operation count.
func (s *Set) Len() int {
	n := 0
	for _, c := range s.order {
		n += s.writers[c].Len()
	}
	return n
}

// Clear discards everything staged.
func (s *Set) Clear() {
	for _, c := range s.order {
		s.writers[c].Clear()
	}
}

// Execute runs every writer with pending operations in collection order.
// All writers are attempted; failures are joined.
func (s *Set) Execute(ctx context.Context) error {
	var errs []error
	for _, c := range s.order {
		w := s.writers[c]
		if !w.HasPendingOperations() {
			continue
		}
		if err := w.Execute(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
