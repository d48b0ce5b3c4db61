// Package telemetry carries runtime and room-processing observations to
// exporters. Delivery is best-effort: a lost payload never affects a tick.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

// Sink accepts telemetry from schedulers, coordinators and room processors.
type Sink interface {
	PublishTelemetry(ctx context.Context, p *types.RuntimeTelemetryPayload) error
	PublishWatchdogAlert(ctx context.Context, a *types.RuntimeWatchdogAlert) error
	PublishRoomTelemetry(ctx context.Context, p *types.RoomTelemetryPayload) error
}

// Stamp fills in an id and timestamp when missing.
func Stamp(p *types.RuntimeTelemetryPayload) *types.RuntimeTelemetryPayload {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	return p
}

// StampAlert fills in an id and timestamp when missing.
func StampAlert(a *types.RuntimeWatchdogAlert) *types.RuntimeWatchdogAlert {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return a
}

// StampRoom fills in an id and timestamp when missing.
func StampRoom(p *types.RoomTelemetryPayload) *types.RoomTelemetryPayload {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	return p
}

// FanOut publishes to every subscriber. Subscriber errors are logged and
// swallowed, so FanOut itself never fails.
type FanOut struct {
	sinks  []Sink
	logger *log.Logger
}

// NewFanOut composes sinks. Nil sinks are skipped.
func NewFanOut(logger *log.Logger, sinks ...Sink) *FanOut {
	f := &FanOut{logger: log.OrNop(logger)}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of subscribers.
func (f *FanOut) Len() int { return len(f.sinks) }

// PublishTelemetry implements Sink.
func (f *FanOut) PublishTelemetry(ctx context.Context, p *types.RuntimeTelemetryPayload) error {
	Stamp(p)
	for _, s := range f.sinks {
		if err := s.PublishTelemetry(ctx, p); err != nil {
			f.logger.Warn("telemetry delivery failed", map[string]any{
				"kind": "runtime", "item_id": p.ItemID, "error": err.Error(),
			})
		}
	}
	return nil
}

// PublishWatchdogAlert implements Sink.
func (f *FanOut) PublishWatchdogAlert(ctx context.Context, a *types.RuntimeWatchdogAlert) error {
	StampAlert(a)
	for _, s := range f.sinks {
		if err := s.PublishWatchdogAlert(ctx, a); err != nil {
			f.logger.Warn("telemetry delivery failed", map[string]any{
				"kind": "watchdog", "item_id": a.ItemID, "error": err.Error(),
			})
		}
	}
	return nil
}

// PublishRoomTelemetry implements Sink.
func (f *FanOut) PublishRoomTelemetry(ctx context.Context, p *types.RoomTelemetryPayload) error {
	StampRoom(p)
	for _, s := range f.sinks {
		if err := s.PublishRoomTelemetry(ctx, p); err != nil {
			f.logger.Warn("telemetry delivery failed", map[string]any{
				"kind": "room", "room": p.Room, "error": err.Error(),
			})
		}
	}
	return nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishTelemetry(context.Context, *types.RuntimeTelemetryPayload) error  { return nil }
func (Nop) PublishWatchdogAlert(context.Context, *types.RuntimeWatchdogAlert) error { return nil }
func (Nop) PublishRoomTelemetry(context.Context, *types.RoomTelemetryPayload) error { return nil }

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// RecordingSink keeps every payload in memory. Used in tests and by the
// `tick` command to print a summary.
type RecordingSink struct {
	mu     sync.Mutex
	runs   []types.RuntimeTelemetryPayload
	alerts []types.RuntimeWatchdogAlert
	rooms  []types.RoomTelemetryPayload
	err    error
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

// FailWith makes every subsequent publish return err after recording.
func (r *RecordingSink) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// PublishTelemetry implements Sink.
func (r *RecordingSink) PublishTelemetry(_ context.Context, p *types.RuntimeTelemetryPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *p)
	return r.err
}

// PublishWatchdogAlert implements Sink.
func (r *RecordingSink) PublishWatchdogAlert(_ context.Context, a *types.RuntimeWatchdogAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *a)
	return r.err
}

// PublishRoomTelemetry implements Sink.
func (r *RecordingSink) PublishRoomTelemetry(_ context.Context, p *types.RoomTelemetryPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, *p)
	return r.err
}

// Telemetry returns a copy of the recorded runtime payloads.
func (r *RecordingSink) Telemetry() []types.RuntimeTelemetryPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RuntimeTelemetryPayload, len(r.runs))
	copy(out, r.runs)
	return out
}

// Alerts returns a copy of the recorded watchdog alerts.
func (r *RecordingSink) Alerts() []types.RuntimeWatchdogAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RuntimeWatchdogAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Rooms returns a copy of the recorded room payloads.
func (r *RecordingSink) Rooms() []types.RoomTelemetryPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.RoomTelemetryPayload, len(r.rooms))
	copy(out, r.rooms)
	return out
}

// Reset drops everything recorded so far.
func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs, r.alerts, r.rooms = nil, nil, nil
}

var (
	_ Sink = (*FanOut)(nil)
	_ Sink = Nop{}
	_ Sink = (*RecordingSink)(nil)
)
