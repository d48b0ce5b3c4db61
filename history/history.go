// Package history records processed room ticks: one record per tick and,
// every ChunkSize ticks, a zstd-compressed diff chunk from which any tick
// of the chunk can be rebuilt.
package history

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/colony/types"
)

// Tick is one processed room tick.
type Tick struct {
	Room     string
	GameTime int64
	// Objects holds the room object documents after the tick, keyed by id.
	Objects map[string]map[string]any
	Events  []types.RoomEvent
}

// Sink receives processed ticks. Implementations must be safe for
// concurrent use by different rooms.
type Sink interface {
	AppendTick(ctx context.Context, t *Tick) error
	// Flush uploads every partially filled chunk.
	Flush(ctx context.Context) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) AppendTick(context.Context, *Tick) error { return nil }
func (Nop) Flush(context.Context) error             { return nil }
func (Nop) Close() error                            { return nil }

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// StubSink records ticks in memory for tests.
type StubSink struct {
	mu      sync.Mutex
	ticks   []Tick
	flushes int
	err     error
}

// NewStubSink creates an empty stub.
func NewStubSink() *StubSink { return &StubSink{} }

// FailWith makes subsequent appends return err.
func (s *StubSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// AppendTick implements Sink.
func (s *StubSink) AppendTick(_ context.Context, t *Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *t
	cp.Objects = maps.Clone(t.Objects)
	s.ticks = append(s.ticks, cp)
	return nil
}

// Flush implements Sink.
func (s *StubSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Close implements Sink.
func (s *StubSink) Close() error { return nil }

// Ticks returns the recorded ticks.
func (s *StubSink) Ticks() []Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tick, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// Flushes returns the number of Flush calls.
func (s *StubSink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

var (
	_ Sink = Nop{}
	_ Sink = (*StubSink)(nil)
)
