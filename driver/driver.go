// Package driver advances the world one tick at a time: run every active
// user's script, process every room that may have changed, then advance the
// game time. The phases never overlap.
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/queue"
	"github.com/pithecene-io/colony/storage"
)

// Phase names, as they appear in logs and TickReport.
const (
	PhaseUsers = "users"
	PhaseRooms = "rooms"
)

// Repositories are the storage collaborators of a Driver.
type Repositories struct {
	Users       storage.UserRepository
	Rooms       storage.RoomRepository
	Intents     storage.IntentRepository
	Environment storage.EnvironmentRepository
}

// Queues are the work queues the schedulers consume.
type Queues struct {
	Users queue.Queue
	Rooms queue.Queue
}

// TickReport summarizes one completed tick.
type TickReport struct {
	GameTime     int64
	NextGameTime int64
	Users        int
	Rooms        int
	// Phases maps phase name to its wall-clock duration.
	Phases   map[string]time.Duration
	Duration time.Duration
}

// Driver runs ticks. It is not safe for concurrent Tick calls.
type Driver struct {
	repos   Repositories
	queues  Queues
	metrics *metrics.Collector
	logger  *log.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(d *Driver) { d.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(d *Driver) { d.logger = l } }

// New creates a driver.
func New(repos Repositories, queues Queues, opts ...Option) (*Driver, error) {
	if repos.Users == nil || repos.Rooms == nil || repos.Intents == nil || repos.Environment == nil {
		return nil, errors.New("driver requires user, room, intent and environment repositories")
	}
	if queues.Users == nil || queues.Rooms == nil {
		return nil, errors.New("driver requires users and rooms queues")
	}
	d := &Driver{repos: repos, queues: queues}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = log.OrNop(d.logger).Named("driver")
	return d, nil
}

// Tick runs one full tick. On error the game time is not advanced and the
// queues may still hold work; callers Reset them before retrying.
func (d *Driver) Tick(ctx context.Context) (*TickReport, error) {
	start := time.Now()
	gameTime, err := d.repos.Environment.GameTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("load game time: %w", err)
	}
	report := &TickReport{GameTime: gameTime, Phases: make(map[string]time.Duration, 2)}

	users, err := d.repos.Users.ActiveUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	report.Users = len(users)
	if err := d.phase(ctx, report, PhaseUsers, d.queues.Users, users); err != nil {
		return nil, err
	}

	rooms, err := d.roomsToProcess(ctx)
	if err != nil {
		return nil, err
	}
	report.Rooms = len(rooms)
	if err := d.phase(ctx, report, PhaseRooms, d.queues.Rooms, rooms); err != nil {
		return nil, err
	}

	next, err := d.repos.Environment.AdvanceGameTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("advance game time: %w", err)
	}
	report.NextGameTime = next
	report.Duration = time.Since(start)
	d.metrics.RecordTick(next)
	d.logger.Info("tick complete", map[string]any{
		"game_time":   gameTime,
		"users":       report.Users,
		"rooms":       report.Rooms,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

// phase enqueues ids and blocks until the queue is fully drained.
func (d *Driver) phase(ctx context.Context, report *TickReport, name string, q queue.Queue, ids []string) error {
	start := time.Now()
	if len(ids) > 0 {
		if err := q.EnqueueMany(ctx, ids); err != nil {
			return fmt.Errorf("%s phase: enqueue: %w", name, err)
		}
	}
	if err := q.WaitUntilDrained(ctx); err != nil {
		return fmt.Errorf("%s phase: drain: %w", name, err)
	}
	report.Phases[name] = time.Since(start)
	return nil
}

// roomsToProcess is every active room plus any room holding intents.
func (d *Driver) roomsToProcess(ctx context.Context) ([]string, error) {
	active, err := d.repos.Rooms.ActiveRoomNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	withIntents, err := d.repos.Intents.RoomsWithIntents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms with intents: %w", err)
	}
	set := make(map[string]struct{}, len(active)+len(withIntents))
	for _, r := range active {
		set[r] = struct{}{}
	}
	for _, r := range withIntents {
		set[r] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

// Run ticks until ctx is done or maxTicks ticks completed (0 means no
// limit). Each tick starts at least interval after the previous one started.
func (d *Driver) Run(ctx context.Context, interval time.Duration, maxTicks int) error {
	for n := 0; maxTicks == 0 || n < maxTicks; n++ {
		started := time.Now()
		if _, err := d.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wait := interval - time.Since(started)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return nil
}
