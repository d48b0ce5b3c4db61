// Package scheduler runs a bounded pool of workers against one work queue.
//
// Each worker fetches an id, invokes the handler, and marks the id done.
// Handler failures of any kind (errors, panics, timeouts) are caught,
// reported as telemetry, and never stop the worker. Run returns only after
// cancellation and after every in-flight handler has returned.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/queue"
	"github.com/pithecene-io/colony/telemetry"
	"github.com/pithecene-io/colony/types"
)

// Defaults applied by New.
const (
	DefaultPollTimeout    = time.Second
	DefaultAlertThreshold = 3
	DefaultFetchBackoff   = 250 * time.Millisecond
	markDoneTimeout       = 5 * time.Second
)

// Handler processes one work id.
type Handler func(ctx context.Context, id string) error

// Config configures a Scheduler.
type Config struct {
	// Loop is the logical loop identity (runner, processor, main).
	Loop string
	// Workers is the number of concurrent workers (required, > 0).
	Workers int
	// PollTimeout bounds each queue fetch (default 1s).
	PollTimeout time.Duration
	// AlertThreshold is the consecutive-failure count that raises a
	// watchdog alert (default 3). Negative disables alerts.
	AlertThreshold int
	// HandlerTimeout bounds each handler call via its context. Zero means
	// no per-call deadline.
	HandlerTimeout time.Duration
	// FetchBackoff is the pause after a queue fault (default 250ms).
	FetchBackoff time.Duration
}

// Stats summarizes scheduler activity.
type Stats struct {
	Handled     int64
	Failed      int64
	FetchErrors int64
	Alerts      int64
}

// Option configures optional collaborators.
type Option func(*Scheduler)

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(sc *Scheduler) { sc.sink = telemetry.OrNop(s) }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(sc *Scheduler) { sc.logger = log.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(sc *Scheduler) { sc.metrics = m }
}

// Scheduler is a worker pool bound to one queue and one handler.
type Scheduler struct {
	config  Config
	queue   queue.Queue
	handler Handler

	sink    telemetry.Sink
	logger  *log.Logger
	metrics *metrics.Collector

	streakMu  sync.Mutex
	idStreaks map[string]int

	handled     atomic.Int64
	failed      atomic.Int64
	fetchErrors atomic.Int64
	alerts      atomic.Int64
}

// New creates a scheduler. Returns an error for an invalid config.
func New(q queue.Queue, h Handler, cfg Config, opts ...Option) (*Scheduler, error) {
	if q == nil {
		return nil, errors.New("scheduler requires a queue")
	}
	if h == nil {
		return nil, errors.New("scheduler requires a handler")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", cfg.Workers)
	}
	if cfg.Loop == "" {
		cfg.Loop = q.Name()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = DefaultFetchBackoff
	}

	s := &Scheduler{
		config:    cfg,
		queue:     q,
		handler:   h,
		sink:      telemetry.Nop{},
		logger:    log.NewNop(),
		idStreaks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(map[string]any{"loop": cfg.Loop})
	return s, nil
}

// Loop returns the logical loop identity.
func (s *Scheduler) Loop() string { return s.config.Loop }

// workerLoop is the telemetry loop tag, e.g. "runner-worker".
func (s *Scheduler) workerLoop() string { return s.config.Loop + "-worker" }

// Run starts the workers and blocks until ctx is canceled and all
// in-flight handlers have returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", map[string]any{"workers": s.config.Workers})

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			s.work(ctx, index)
		}(i)
	}
	wg.Wait()

	s.logger.Info("scheduler stopped", map[string]any{
		"handled": s.handled.Load(),
		"failed":  s.failed.Load(),
	})
}

func (s *Scheduler) work(ctx context.Context, index int) {
	streak := 0
	for ctx.Err() == nil {
		id, ok, err := s.queue.Fetch(ctx, s.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fetchFailed(ctx, index, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.FetchBackoff):
			}
			continue
		}
		if !ok {
			continue
		}
		s.dispatch(ctx, index, id, &streak)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, index int, id string, workerStreak *int) {
	start := time.Now()
	err := s.invoke(ctx, id)

	// Released on failure too, so the tick can drain.
	doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markDoneTimeout)
	if mdErr := s.queue.MarkDone(doneCtx, id); mdErr != nil {
		s.logger.Error("mark done failed", map[string]any{"item_id": id, "error": mdErr.Error()})
	}
	cancel()

	if err == nil {
		*workerStreak = 0
		s.resetStreak(id)
		s.handled.Add(1)
		s.metrics.IncHandled(s.config.Loop)
		return
	}

	*workerStreak++
	idStreak := s.bumpStreak(id)
	s.failed.Add(1)
	s.metrics.IncFailed(s.config.Loop)

	msg := ErrorMessage(err)
	fields := map[string]any{"item_id": id, "worker": index, "kind": msg, "error": err.Error()}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields["stack"] = string(pe.Stack)
	}
	s.logger.Error("handler failed", fields)

	pubCtx := context.WithoutCancel(ctx)
	_ = s.sink.PublishTelemetry(pubCtx, telemetry.Stamp(&types.RuntimeTelemetryPayload{
		Loop:         s.workerLoop(),
		ItemID:       id,
		ErrorMessage: msg,
		DurationMs:   time.Since(start).Milliseconds(),
	}))

	threshold := s.config.AlertThreshold
	if threshold <= 0 {
		return
	}
	switch {
	case idStreak >= threshold:
		s.alert(pubCtx, index, id, "id", idStreak, msg)
	case *workerStreak >= threshold:
		s.alert(pubCtx, index, id, "worker", *workerStreak, msg)
	}
}

// invoke runs the handler, converting panics into *PanicError.
func (s *Scheduler) invoke(ctx context.Context, id string) (err error) {
	hctx := ctx
	if s.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, s.config.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.handler(hctx, id)
}

func (s *Scheduler) fetchFailed(ctx context.Context, index int, err error) {
	s.fetchErrors.Add(1)
	s.metrics.IncFetchError(s.config.Loop)
	s.logger.Error("queue fetch failed", map[string]any{"worker": index, "error": err.Error()})
	_ = s.sink.PublishTelemetry(context.WithoutCancel(ctx), telemetry.Stamp(&types.RuntimeTelemetryPayload{
		Loop:         s.workerLoop(),
		ErrorMessage: ErrorMessage(err),
	}))
}

func (s *Scheduler) alert(ctx context.Context, index int, id, scope string, streak int, msg string) {
	s.alerts.Add(1)
	s.metrics.IncWatchdogAlert(s.config.Loop)
	_ = s.sink.PublishWatchdogAlert(ctx, telemetry.StampAlert(&types.RuntimeWatchdogAlert{
		Loop:         s.workerLoop(),
		ItemID:       id,
		WorkerIndex:  index,
		Scope:        scope,
		Streak:       streak,
		ErrorMessage: msg,
	}))
}

func (s *Scheduler) bumpStreak(id string) int {
	s.streakMu.Lock()
	defer s.streakMu.Unlock()
	s.idStreaks[id]++
	return s.idStreaks[id]
}

func (s *Scheduler) resetStreak(id string) {
	s.streakMu.Lock()
	delete(s.idStreaks, id)
	s.streakMu.Unlock()
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Handled:     s.handled.Load(),
		Failed:      s.failed.Load(),
		FetchErrors: s.fetchErrors.Load(),
		Alerts:      s.alerts.Load(),
	}
}
