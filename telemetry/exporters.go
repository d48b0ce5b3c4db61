package telemetry

import (
	"context"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

// LogSink writes telemetry as structured log entries. Failed items and
// watchdog alerts log at warn, everything else at debug.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink on logger.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: log.OrNop(logger).Named("telemetry")}
}

// PublishTelemetry implements Sink.
func (s *LogSink) PublishTelemetry(_ context.Context, p *types.RuntimeTelemetryPayload) error {
	fields := map[string]any{
		"loop":         p.Loop,
		"item_id":      p.ItemID,
		"game_time":    p.GameTime,
		"cpu_used":     p.CPUUsed,
		"cpu_bucket":   p.CPUBucket,
		"timed_out":    p.TimedOut,
		"script_error": p.ScriptError,
		"throttled":    p.Throttled,
		"duration_ms":  p.DurationMs,
	}
	if p.ErrorMessage != "" {
		fields["error"] = p.ErrorMessage
		s.logger.Warn("work item failed", fields)
		return nil
	}
	s.logger.Debug("work item handled", fields)
	return nil
}

// PublishWatchdogAlert implements Sink.
func (s *LogSink) PublishWatchdogAlert(_ context.Context, a *types.RuntimeWatchdogAlert) error {
	s.logger.Warn("watchdog alert", map[string]any{
		"loop":    a.Loop,
		"item_id": a.ItemID,
		"worker":  a.WorkerIndex,
		"scope":   a.Scope,
		"streak":  a.Streak,
		"error":   a.ErrorMessage,
	})
	return nil
}

// PublishRoomTelemetry implements Sink.
func (s *LogSink) PublishRoomTelemetry(_ context.Context, p *types.RoomTelemetryPayload) error {
	s.logger.Debug("room processed", map[string]any{
		"room":        p.Room,
		"game_time":   p.GameTime,
		"objects":     p.ObjectCount,
		"intents":     p.IntentCount,
		"accepted":    p.AcceptedIntents,
		"rejected":    p.RejectedIntents,
		"mutations":   p.MutationCount,
		"duration_ms": p.DurationMs,
	})
	return nil
}

// AdapterSink forwards telemetry as envelopes through a downstream adapter
// (Redis pub/sub or webhook).
type AdapterSink struct {
	adapter adapter.Adapter
	// rooms controls whether per-room payloads are forwarded; they are the
	// highest-volume stream.
	rooms bool
}

// NewAdapterSink wraps a. When includeRooms is false, room payloads are dropped.
func NewAdapterSink(a adapter.Adapter, includeRooms bool) *AdapterSink {
	return &AdapterSink{adapter: a, rooms: includeRooms}
}

// PublishTelemetry implements Sink.
func (s *AdapterSink) PublishTelemetry(ctx context.Context, p *types.RuntimeTelemetryPayload) error {
	return s.adapter.Publish(ctx, adapter.NewEnvelope(adapter.EventRuntimeTelemetry, p))
}

// PublishWatchdogAlert implements Sink.
func (s *AdapterSink) PublishWatchdogAlert(ctx context.Context, a *types.RuntimeWatchdogAlert) error {
	return s.adapter.Publish(ctx, adapter.NewEnvelope(adapter.EventWatchdogAlert, a))
}

// PublishRoomTelemetry implements Sink.
func (s *AdapterSink) PublishRoomTelemetry(ctx context.Context, p *types.RoomTelemetryPayload) error {
	if !s.rooms {
		return nil
	}
	return s.adapter.Publish(ctx, adapter.NewEnvelope(adapter.EventRoomTelemetry, p))
}

// Close closes the underlying adapter.
func (s *AdapterSink) Close() error {
	return s.adapter.Close()
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*AdapterSink)(nil)
)
