package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/colony/adapter"
	redisadapter "github.com/pithecene-io/colony/adapter/redis"
	"github.com/pithecene-io/colony/adapter/webhook"
	"github.com/pithecene-io/colony/cli/config"
	"github.com/pithecene-io/colony/driver"
	"github.com/pithecene-io/colony/history"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/notify"
	"github.com/pithecene-io/colony/pathfinder"
	"github.com/pithecene-io/colony/processor"
	"github.com/pithecene-io/colony/queue"
	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/sandbox"
	"github.com/pithecene-io/colony/scheduler"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/storage/sqlite"
	"github.com/pithecene-io/colony/telemetry"
	"github.com/pithecene-io/colony/validation"
)

// historyFlushTimeout bounds the final upload of partial history chunks.
const historyFlushTimeout = 30 * time.Second

// World is every long-lived component of one colony process, built from
// a Config. Close releases them in reverse order of construction.
type World struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Collector

	Store  storage.Store
	Queues queue.Factory
	Users  queue.Queue
	Rooms  queue.Queue

	Telemetry  telemetry.Sink
	Notifier   notify.Sink
	History    history.Sink
	Pathfinder *pathfinder.Service

	Coordinator *runtime.Coordinator
	Processor   *processor.Processor
	Driver      *driver.Driver

	closers []io.Closer
}

// BuildWorld wires a World. On error everything built so far is closed.
func BuildWorld(ctx context.Context, cfg *config.Config, logger *log.Logger) (w *World, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	w = &World{
		Config:  cfg,
		Logger:  log.OrNop(logger),
		Metrics: metrics.NewCollector(cfg.Queue.Backend, cfg.Storage.Backend),
	}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	if err := w.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := w.openQueues(); err != nil {
		return nil, err
	}
	if err := w.openExporters(); err != nil {
		return nil, err
	}
	if err := w.openHistory(ctx); err != nil {
		return nil, err
	}

	w.Pathfinder = pathfinder.New()
	terrain, err := w.Store.LoadAllTerrain(ctx)
	if err != nil {
		return nil, fmt.Errorf("load terrain: %w", err)
	}
	if err := w.Pathfinder.Initialize(terrain); err != nil {
		return nil, fmt.Errorf("index terrain: %w", err)
	}

	if err := w.buildCoordinator(); err != nil {
		return nil, err
	}
	if err := w.buildProcessor(); err != nil {
		return nil, err
	}

	w.Driver, err = driver.New(driver.Repositories{
		Users:       w.Store,
		Rooms:       w.Store,
		Intents:     w.Store,
		Environment: w.Store,
	}, driver.Queues{Users: w.Users, Rooms: w.Rooms},
		driver.WithMetrics(w.Metrics),
		driver.WithLogger(w.Logger.Named("driver")),
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) onClose(c io.Closer) { w.closers = append(w.closers, c) }

func (w *World) openStorage(ctx context.Context) error {
	switch w.Config.Storage.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(w.Config.Storage.Path)
		if err != nil {
			return fmt.Errorf("open sqlite storage: %w", err)
		}
		w.Store = s
	default:
		w.Store = storage.NewMemoryStore()
	}
	w.onClose(w.Store)

	if w.Config.Seed == "" {
		return nil
	}
	seed, err := storage.LoadSeed(w.Config.Seed)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, w.Store); err != nil {
		return fmt.Errorf("apply seed %s: %w", w.Config.Seed, err)
	}
	w.Logger.Info("world seeded", map[string]any{
		"seed":  w.Config.Seed,
		"users": len(seed.Users),
		"rooms": len(seed.Rooms),
	})
	return nil
}

func (w *World) openQueues() error {
	switch w.Config.Queue.Backend {
	case config.BackendRedis:
		f, err := queue.NewRedisFactory(queue.RedisConfig{
			URL:    w.Config.Queue.URL,
			Prefix: w.Config.Queue.Prefix,
		})
		if err != nil {
			return err
		}
		w.Queues = f
	default:
		w.Queues = queue.NewMemoryFactory()
	}
	w.onClose(w.Queues)

	var err error
	if w.Users, err = w.Queues.Open(queue.NameUsers); err != nil {
		return err
	}
	if w.Rooms, err = w.Queues.Open(queue.NameRooms); err != nil {
		return err
	}
	return nil
}

// openExporters builds the telemetry fan-out and the console notifier.
// Console output goes to Redis when a Redis exporter is configured, and to
// the log otherwise.
func (w *World) openExporters() error {
	tc := w.Config.Telemetry
	var sinks []telemetry.Sink
	if tc.Log {
		sinks = append(sinks, telemetry.NewLogSink(w.Logger.Named("telemetry")))
	}

	var consoleAdapter adapter.Adapter
	if tc.Redis.URL != "" {
		a, err := redisadapter.New(redisadapter.Config{
			URL:     tc.Redis.URL,
			Channel: tc.Redis.Channel,
			Timeout: tc.Redis.Timeout.Duration,
			Retries: derefOr(tc.Redis.Retries, redisadapter.DefaultRetries),
		})
		if err != nil {
			return fmt.Errorf("redis exporter: %w", err)
		}
		w.onClose(a)
		sinks = append(sinks, telemetry.NewAdapterSink(a, tc.IncludeRooms))
		consoleAdapter = a
	}
	if tc.Webhook.URL != "" {
		a, err := webhook.New(webhook.Config{
			URL:     tc.Webhook.URL,
			Headers: tc.Webhook.Headers,
			Timeout: tc.Webhook.Timeout.Duration,
			Retries: derefOr(tc.Webhook.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return fmt.Errorf("webhook exporter: %w", err)
		}
		w.onClose(a)
		sinks = append(sinks, telemetry.NewAdapterSink(a, tc.IncludeRooms))
	}
	w.Telemetry = telemetry.NewFanOut(w.Logger.Named("telemetry"), sinks...)

	var console notify.Sink = notify.NewLogSink(w.Logger.Named("console"))
	if consoleAdapter != nil {
		console = notify.NewAdapterSink(consoleAdapter)
	}
	w.Notifier = notify.NewGrouped(console, time.Now)
	return nil
}

func (w *World) openHistory(ctx context.Context) error {
	hc := w.Config.History
	cfg := history.Config{Dataset: hc.Dataset, ChunkSize: int(hc.ChunkSize)}
	opts := []history.Option{
		history.WithLogger(w.Logger),
		history.WithMetrics(w.Metrics),
	}

	var (
		sink *history.LodeSink
		err  error
	)
	switch hc.Backend {
	case config.BackendFS:
		sink, err = history.NewFSSink(cfg, hc.Path, opts...)
	case config.BackendS3:
		bucket, prefix := history.ParseS3Path(hc.Path)
		sink, err = history.NewS3Sink(ctx, cfg, history.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       hc.Region,
			Endpoint:     hc.Endpoint,
			UsePathStyle: hc.PathStyle,
		}, opts...)
	default:
		w.History = history.Nop{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s history: %w", hc.Backend, err)
	}
	w.History = sink
	w.onClose(iox.Closer(func() error {
		fctx, cancel := context.WithTimeout(context.Background(), historyFlushTimeout)
		defer cancel()
		return errors.Join(sink.Flush(fctx), sink.Close())
	}))
	return nil
}

func (w *World) buildCoordinator() error {
	rc := w.Config.Runtime
	pc := w.Config.Pathfinder
	host := sandbox.NewHost(sandbox.Config{
		HeapLimit:  rc.HeapLimit,
		Pathfinder: w.Pathfinder,
		SearchDefaults: pathfinder.Options{
			PlainCost: pc.PlainCost,
			SwampCost: pc.SwampCost,
			RoadCost:  pc.RoadCost,
			MaxOps:    pc.MaxOps,
			MaxRooms:  pc.MaxRooms,
		},
		Logger: w.Logger,
	})
	throttle := runtime.NewThrottleRegistry(runtime.ThrottleConfig{
		Threshold: rc.ThrottleThreshold,
		BaseDelay: rc.ThrottleBaseDelay.Duration,
		MaxDelay:  rc.ThrottleMaxDelay.Duration,
	})

	var err error
	w.Coordinator, err = runtime.NewCoordinator(
		runtime.Repositories{Users: w.Store, Intents: w.Store, Environment: w.Store},
		runtime.NewBundleCache(host, rc.BundleCacheSize),
		host,
		throttle,
		runtime.CoordinatorConfig{
			CPU:         runtime.CPUPolicy{MaxTickLimit: rc.MaxTickLimit, BucketCap: rc.BucketCap},
			MemoryLimit: rc.MemoryLimit,
		},
		runtime.WithNotifier(w.Notifier),
		runtime.WithTelemetry(w.Telemetry),
		runtime.WithMetrics(w.Metrics),
		runtime.WithLogger(w.Logger.Named("runtime")),
	)
	return err
}

func (w *World) buildProcessor() error {
	engine, err := validation.NewEngine()
	if err != nil {
		return err
	}
	w.Processor, err = processor.New(
		processor.Repositories{
			Rooms:   w.Store,
			Intents: w.Store,
			Users:   w.Store,
			Bulk:    w.Store,
		},
		processor.NewSnapshotProvider(w.Store, processor.DefaultSnapshotTTL),
		processor.DefaultSteps(engine, w.Pathfinder, w.History),
		processor.WithTelemetry(w.Telemetry),
		processor.WithMetrics(w.Metrics),
		processor.WithLogger(w.Logger.Named("processor")),
	)
	return err
}

// Schedulers builds the runner and processor loops over the world queues.
func (w *World) Schedulers() (runner, proc *scheduler.Scheduler, err error) {
	lc := w.Config.Loops
	opts := []scheduler.Option{
		scheduler.WithSink(w.Telemetry),
		scheduler.WithMetrics(w.Metrics),
		scheduler.WithLogger(w.Logger),
	}
	runner, err = scheduler.New(w.Users, w.Coordinator.Handler(w.Users), scheduler.Config{
		Loop:           "runner",
		Workers:        lc.RunnerWorkers,
		PollTimeout:    w.Config.Queue.PollTimeout.Duration,
		AlertThreshold: lc.AlertThreshold,
		HandlerTimeout: lc.HandlerTimeout.Duration,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	proc, err = scheduler.New(w.Rooms, w.Processor.Handler(w.Store), scheduler.Config{
		Loop:           "processor",
		Workers:        lc.ProcessorWorkers,
		PollTimeout:    w.Config.Queue.PollTimeout.Duration,
		AlertThreshold: lc.AlertThreshold,
		HandlerTimeout: lc.HandlerTimeout.Duration,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return runner, proc, nil
}

// ResetQueues discards leftover work from an aborted tick.
func (w *World) ResetQueues(ctx context.Context) error {
	return errors.Join(w.Users.Reset(ctx), w.Rooms.Reset(ctx))
}

// Close releases every component. History is flushed first.
func (w *World) Close() error {
	err := iox.CloseAll(w.closers...)
	w.closers = nil
	return err
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
