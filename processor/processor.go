// Package processor applies one tick to one room: world rules, validated
// intents and the event log, committed through bulk writers.
//
// Steps run strictly in order against one RoomState and see each other's
// mutations. A failing step clears everything staged for the room and
// aborts it; other rooms are unaffected.
package processor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/scheduler"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/telemetry"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/validation"
)

// Step is one stage of room processing.
type Step interface {
	Name() string
	Process(ctx context.Context, rc *RoomContext) error
}

// RoomContext is the mutable state of one room pass.
type RoomContext struct {
	State  *types.RoomState
	Bulk   *bulk.Set
	Stats  *validation.Statistics
	Logger *log.Logger

	Accepted int
	Rejected int
}

// GameTime is the tick being processed.
func (rc *RoomContext) GameTime() int64 { return rc.State.GameTime }

// Update stages field changes of an object already mutated in State.
func (rc *RoomContext) Update(o *types.RoomObject, delta map[string]any) {
	rc.Bulk.Objects().Update(o.ID, delta)
}

// Insert adds a new object to State and stages its insert.
func (rc *RoomContext) Insert(o *types.RoomObject) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Room == "" {
		o.Room = rc.State.Room.ID
	}
	doc, err := bulk.ToDocument(o)
	if err != nil {
		return fmt.Errorf("encode object %s: %w", o.ID, err)
	}
	rc.Bulk.Objects().Insert(doc, o.ID)
	rc.State.Objects[o.ID] = o
	return nil
}

// Remove deletes an object from State and stages its removal.
func (rc *RoomContext) Remove(o *types.RoomObject) {
	delete(rc.State.Objects, o.ID)
	rc.Bulk.Objects().Remove(o.ID)
}

// SortedObjects returns the room objects ordered by id.
func (rc *RoomContext) SortedObjects() []*types.RoomObject {
	ids := slices.Sorted(maps.Keys(rc.State.Objects))
	out := make([]*types.RoomObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, rc.State.Objects[id])
	}
	return out
}

// StepError reports the step that aborted a room.
type StepError struct {
	Room string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("room %s: step %s: %v", e.Room, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Outcome summarizes one processed room.
type Outcome struct {
	Room      string
	GameTime  int64
	Objects   int
	Intents   int
	Accepted  int
	Rejected  int
	Mutations int
	// Timings maps step name to duration in microseconds.
	Timings map[string]int64
	Stats   validation.StatisticsSnapshot
}

// Repositories are the storage collaborators of a Processor.
type Repositories struct {
	Rooms   storage.RoomRepository
	Intents storage.IntentRepository
	Users   storage.UserRepository
	Bulk    bulk.Store
}

// Processor runs the step pipeline for rooms. It holds no per-room state
// and is safe for concurrent use across rooms.
type Processor struct {
	repos     Repositories
	snapshots *SnapshotProvider
	steps     []Step
	stats     *validation.Statistics

	sink    telemetry.Sink
	metrics *metrics.Collector
	logger  *log.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithTelemetry sets the room telemetry sink.
func WithTelemetry(s telemetry.Sink) Option { return func(p *Processor) { p.sink = s } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(p *Processor) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(p *Processor) { p.logger = l } }

// WithStatistics sets the aggregate validation statistics.
func WithStatistics(s *validation.Statistics) Option { return func(p *Processor) { p.stats = s } }

// New creates a processor running steps in the given order.
func New(repos Repositories, snapshots *SnapshotProvider, steps []Step, opts ...Option) (*Processor, error) {
	if repos.Rooms == nil || repos.Intents == nil || repos.Users == nil || repos.Bulk == nil {
		return nil, fmt.Errorf("processor requires room, intent, user and bulk repositories")
	}
	if snapshots == nil {
		snapshots = NewSnapshotProvider(repos.Rooms, 0)
	}
	p := &Processor{
		repos:     repos,
		snapshots: snapshots,
		steps:     slices.Clone(steps),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.stats == nil {
		p.stats = validation.NewStatistics()
	}
	p.sink = telemetry.OrNop(p.sink)
	p.logger = log.OrNop(p.logger).Named("processor")
	return p, nil
}

// Steps returns the step names in execution order.
func (p *Processor) Steps() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Name()
	}
	return out
}

// Statistics returns the aggregate validation statistics.
func (p *Processor) Statistics() *validation.Statistics { return p.stats }

// Snapshots returns the snapshot provider.
func (p *Processor) Snapshots() *SnapshotProvider { return p.snapshots }

// Handler adapts the processor to a scheduler over the rooms queue.
func (p *Processor) Handler(env storage.EnvironmentRepository) scheduler.Handler {
	return func(ctx context.Context, room string) error {
		gameTime, err := env.GameTime(ctx)
		if err != nil {
			return fmt.Errorf("load game time: %w", err)
		}
		_, err = p.Process(ctx, room, gameTime)
		return err
	}
}

// Process runs every step for room at gameTime and commits the result.
func (p *Processor) Process(ctx context.Context, room string, gameTime int64) (*Outcome, error) {
	start := time.Now()
	state, err := p.load(ctx, room, gameTime)
	if err != nil {
		p.metrics.RecordRoom(true, 0, 0)
		return nil, err
	}
	intentCount := state.Intents.Count()

	rc := &RoomContext{
		State:  state,
		Bulk:   bulk.NewSet(p.repos.Bulk, p.logger, p.metrics),
		Stats:  validation.NewStatistics(),
		Logger: p.logger.With(map[string]any{"room": room, "game_time": gameTime}),
	}

	timings := make(map[string]int64, len(p.steps))
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			rc.Bulk.Clear()
			return nil, err
		}
		stepStart := time.Now()
		if err := step.Process(ctx, rc); err != nil {
			rc.Bulk.Clear()
			p.metrics.RecordRoom(true, rc.Accepted, rc.Rejected)
			return nil, &StepError{Room: room, Step: step.Name(), Err: err}
		}
		timings[step.Name()] = time.Since(stepStart).Microseconds()
	}

	mutations := rc.Bulk.Len()
	if rc.Bulk.HasPendingOperations() {
		if err := rc.Bulk.Execute(ctx); err != nil {
			p.metrics.RecordRoom(true, rc.Accepted, rc.Rejected)
			return nil, fmt.Errorf("commit room %s: %w", room, err)
		}
	}
	if intentCount > 0 {
		if err := p.repos.Intents.ClearRoomIntents(ctx, room); err != nil {
			return nil, fmt.Errorf("clear intents of %s: %w", room, err)
		}
	}
	p.snapshots.Put(room, state.Room)
	p.stats.Merge(rc.Stats)
	p.metrics.RecordRoom(false, rc.Accepted, rc.Rejected)

	snap := rc.Stats.Snapshot()
	out := &Outcome{
		Room:      room,
		GameTime:  gameTime,
		Objects:   len(state.Objects),
		Intents:   intentCount,
		Accepted:  rc.Accepted,
		Rejected:  rc.Rejected,
		Mutations: mutations,
		Timings:   timings,
		Stats:     snap,
	}
	_ = p.sink.PublishRoomTelemetry(ctx, telemetry.StampRoom(&types.RoomTelemetryPayload{
		Room:                  room,
		GameTime:              gameTime,
		ObjectCount:           out.Objects,
		IntentCount:           intentCount,
		AcceptedIntents:       rc.Accepted,
		RejectedIntents:       rc.Rejected,
		MutationCount:         mutations,
		StepTimings:           timings,
		RejectionsByErrorCode: snap.RejectionsByErrorCode,
		DurationMs:            time.Since(start).Milliseconds(),
	}))
	rc.Logger.Debug("room processed", map[string]any{
		"objects":   out.Objects,
		"intents":   intentCount,
		"accepted":  rc.Accepted,
		"rejected":  rc.Rejected,
		"mutations": mutations,
	})
	return out, nil
}

func (p *Processor) load(ctx context.Context, room string, gameTime int64) (*types.RoomState, error) {
	static, err := p.snapshots.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	objects, err := p.repos.Rooms.LoadObjects(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load objects of %s: %w", room, err)
	}
	flags, err := p.repos.Rooms.LoadFlags(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load flags of %s: %w", room, err)
	}
	intents, err := p.repos.Intents.LoadRoomIntents(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load intents of %s: %w", room, err)
	}
	if intents == nil {
		intents = make(types.RoomIntents)
	}

	ids := make(map[string]struct{})
	for _, o := range objects {
		if o.User != "" {
			ids[o.User] = struct{}{}
		}
	}
	for id := range intents {
		ids[id] = struct{}{}
	}
	users, err := p.repos.Users.LoadUsers(ctx, slices.Sorted(maps.Keys(ids)))
	if err != nil {
		return nil, fmt.Errorf("load users of %s: %w", room, err)
	}

	info := *static.Info
	return &types.RoomState{
		Room:     &info,
		GameTime: gameTime,
		Objects:  objects,
		Users:    users,
		Intents:  intents,
		Terrain:  static.Terrain,
		Flags:    flags,
	}, nil
}
