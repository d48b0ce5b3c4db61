package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/notify"
	"github.com/pithecene-io/colony/queue"
	"github.com/pithecene-io/colony/scheduler"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/telemetry"
	"github.com/pithecene-io/colony/types"
)

// DefaultMemoryLimit is the largest memory blob a tenant may persist.
const DefaultMemoryLimit = 2 << 20

// Segment limits.
const (
	MaxActiveSegments = 10
	MaxSegmentSize    = 100 << 10
	MaxSegmentID      = 99
)

// Errors recorded as tenant script errors.
var (
	ErrMemoryTooLarge  = errors.New("memory size limit exceeded")
	ErrSegmentTooLarge = errors.New("memory segment size limit exceeded")
)

// Repositories are the storage collaborators of a Coordinator.
type Repositories struct {
	Users       storage.UserRepository
	Intents     storage.IntentRepository
	Environment storage.EnvironmentRepository
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	CPU CPUPolicy
	// MemoryLimit bounds the persisted memory blob in bytes.
	MemoryLimit int
}

// Coordinator orchestrates one tenant tick. It holds no per-tenant state
// beyond the shared cache and throttle registry, so it is safe to call
// concurrently for different users.
type Coordinator struct {
	repos    Repositories
	cache    *BundleCache
	sandbox  Sandbox
	throttle *ThrottleRegistry
	config   CoordinatorConfig

	notifier notify.Sink
	sink     telemetry.Sink
	metrics  *metrics.Collector
	logger   *log.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNotifier sets the console/notification sink.
func WithNotifier(n notify.Sink) CoordinatorOption {
	return func(c *Coordinator) { c.notifier = n }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(s telemetry.Sink) CoordinatorOption {
	return func(c *Coordinator) { c.sink = s }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator wires a coordinator.
func NewCoordinator(repos Repositories, cache *BundleCache, sandbox Sandbox, throttle *ThrottleRegistry, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	if repos.Users == nil || repos.Intents == nil || repos.Environment == nil {
		return nil, errors.New("coordinator requires user, intent and environment repositories")
	}
	if cache == nil || sandbox == nil {
		return nil, errors.New("coordinator requires a bundle cache and a sandbox")
	}
	if throttle == nil {
		throttle = NewThrottleRegistry(ThrottleConfig{})
	}
	cfg.CPU = cfg.CPU.withDefaults()
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	c := &Coordinator{
		repos:    repos,
		cache:    cache,
		sandbox:  sandbox,
		throttle: throttle,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notifier = notify.OrNop(c.notifier)
	c.sink = telemetry.OrNop(c.sink)
	c.logger = log.OrNop(c.logger).Named("coordinator")
	return c, nil
}

// Handler adapts the coordinator to a scheduler over the users queue.
func (c *Coordinator) Handler(q queue.Queue) scheduler.Handler {
	return func(ctx context.Context, userID string) error {
		depth, err := q.Depth(ctx)
		if err != nil {
			depth = -1
		}
		_, err = c.Execute(ctx, userID, depth)
		return err
	}
}

// Execute runs one tick for userID. A throttled user returns (nil, nil).
// Tenant faults are reported in the result; only infrastructure failures
// return an error.
func (c *Coordinator) Execute(ctx context.Context, userID string, queueDepth int64) (*types.ExecutionResult, error) {
	start := time.Now()

	if remaining, throttled := c.throttle.Check(userID); throttled {
		c.metrics.IncThrottledSkip()
		c.logger.Debug("tick skipped, throttled", map[string]any{
			"user_id":   userID,
			"remaining": remaining.String(),
		})
		_ = c.sink.PublishTelemetry(ctx, telemetry.Stamp(&types.RuntimeTelemetryPayload{
			Loop:       types.LoopRunner,
			ItemID:     userID,
			QueueDepth: queueDepth,
			Throttled:  true,
		}))
		return nil, nil
	}

	data, err := c.repos.Users.LoadRuntimeData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load runtime data: %w", err)
	}
	gameTime, err := c.repos.Environment.GameTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("load game time: %w", err)
	}

	bucket := c.config.CPU.ClampBucket(data.CPUBucket)
	ec := &types.ExecutionContext{
		UserID:            userID,
		CodeHash:          data.CodeHash,
		CPULimit:          data.CPULimit,
		CPUBucket:         bucket,
		TickLimit:         c.config.CPU.TickLimit(data.CPULimit, bucket),
		GameTime:          gameTime,
		Memory:            data.Memory,
		Segments:          maps.Clone(data.Segments),
		InterShardSegment: data.InterShardSegment,
		RuntimeData:       map[string]any{"activeSegments": slices.Clone(data.ActiveSegments)},
	}

	result, err := c.run(ctx, data, ec)
	if err != nil {
		return nil, err
	}
	c.enforceLimits(result, ec)

	if err := c.persist(ctx, userID, ec, result); err != nil {
		return result, err
	}
	c.publish(ctx, ec, result, queueDepth, time.Since(start))

	failed := result.Metrics.TimedOut || result.Metrics.ScriptError
	c.metrics.RecordExecution(result.Metrics.TimedOut, result.Metrics.ScriptError)
	if failed {
		streak, delay := c.throttle.RegisterFailure(userID)
		if delay > 0 {
			c.logger.Info("tenant throttled", map[string]any{
				"user_id": userID,
				"streak":  streak,
				"delay":   delay.String(),
			})
		}
	} else {
		c.throttle.Clear(userID)
	}
	return result, nil
}

// run resolves the bundle and invokes the sandbox. Compile failures become
// script error results without touching the sandbox.
func (c *Coordinator) run(ctx context.Context, data *types.UserRuntimeData, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	stats := c.cache.Stats()
	bundle, err := c.cache.GetOrAdd(data.CodeHash, data.Modules)
	if after := c.cache.Stats(); after.Compiles > stats.Compiles {
		c.metrics.IncBundleCompile()
	}
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return &types.ExecutionResult{
				Error:   ce.Error(),
				Metrics: types.ExecutionMetrics{ScriptError: true},
			}, nil
		}
		return nil, fmt.Errorf("resolve bundle: %w", err)
	}

	result, err := c.sandbox.Execute(ctx, bundle, ec)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if result == nil {
		return nil, errors.New("sandbox returned no result")
	}
	return result, nil
}

// enforceLimits applies the CPU charge and storage limits to result.
func (c *Coordinator) enforceLimits(result *types.ExecutionResult, ec *types.ExecutionContext) {
	if result.Metrics.TimedOut {
		result.CPUUsed = ec.TickLimit
		result.Memory = nil
		result.Segments = nil
		result.ActiveSegments = nil
		result.InterShardSegment = nil
		result.RoomIntents = nil
		result.GlobalIntents = nil
		return
	}
	if result.CPUUsed < 0 {
		result.CPUUsed = 0
	}

	var violation error
	if result.Memory != nil && len(*result.Memory) > c.config.MemoryLimit {
		violation = ErrMemoryTooLarge
	}
	for id, seg := range result.Segments {
		if id < 0 || id > MaxSegmentID || len(seg) > MaxSegmentSize {
			violation = ErrSegmentTooLarge
		}
	}
	if violation != nil {
		result.Metrics.ScriptError = true
		if result.Error == "" {
			result.Error = violation.Error()
		}
		result.Memory = nil
		result.Segments = nil
		result.ActiveSegments = nil
		result.InterShardSegment = nil
		result.RoomIntents = nil
		result.GlobalIntents = nil
		return
	}

	if result.ActiveSegments != nil {
		active := make([]int, 0, MaxActiveSegments)
		for _, id := range result.ActiveSegments {
			if id >= 0 && id <= MaxSegmentID && !slices.Contains(active, id) && len(active) < MaxActiveSegments {
				active = append(active, id)
			}
		}
		result.ActiveSegments = active
	}
}

// persist writes runtime state, intents and notifications.
func (c *Coordinator) persist(ctx context.Context, userID string, ec *types.ExecutionContext, result *types.ExecutionResult) error {
	bucket := c.config.CPU.NextBucket(ec.CPUBucket, ec.CPULimit, result.CPUUsed)
	update := &storage.RuntimeUpdate{
		Memory:            result.Memory,
		Segments:          result.Segments,
		ActiveSegments:    result.ActiveSegments,
		InterShardSegment: result.InterShardSegment,
		CPUBucket:         &bucket,
	}
	if err := c.repos.Users.SaveRuntimeData(ctx, userID, update); err != nil {
		return fmt.Errorf("save runtime data: %w", err)
	}

	rooms := slices.Sorted(maps.Keys(result.RoomIntents))
	for _, room := range rooms {
		intents := types.UserIntents(result.RoomIntents[room])
		if intents.Count() == 0 {
			continue
		}
		if err := c.repos.Intents.SaveRoomIntents(ctx, room, userID, intents); err != nil {
			return fmt.Errorf("save intents for %s: %w", room, err)
		}
	}
	if len(result.GlobalIntents) > 0 {
		if err := c.repos.Intents.SaveGlobalIntents(ctx, userID, result.GlobalIntents); err != nil {
			return fmt.Errorf("save global intents: %w", err)
		}
	}

	msg := &notify.ConsoleMessage{
		UserID:   userID,
		GameTime: ec.GameTime,
		Log:      result.ConsoleLog,
		Results:  result.ConsoleResults,
		Error:    result.Error,
	}
	if !msg.Empty() {
		if err := c.notifier.PublishConsole(ctx, msg); err != nil {
			c.logger.Warn("console delivery failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
	if len(result.Notifications) > 0 {
		if err := c.notifier.PublishNotifications(ctx, userID, result.Notifications); err != nil {
			c.logger.Warn("notification delivery failed", map[string]any{"user_id": userID, "error": err.Error()})
		}
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, ec *types.ExecutionContext, result *types.ExecutionResult, queueDepth int64, elapsed time.Duration) {
	_ = c.sink.PublishTelemetry(ctx, telemetry.Stamp(&types.RuntimeTelemetryPayload{
		Loop:         types.LoopRunner,
		ItemID:       ec.UserID,
		GameTime:     ec.GameTime,
		QueueDepth:   queueDepth,
		CPULimit:     ec.CPULimit,
		CPUBucket:    ec.CPUBucket,
		CPUUsed:      result.CPUUsed,
		TimedOut:     result.Metrics.TimedOut,
		HeapUsed:     result.Metrics.HeapUsed,
		HeapLimit:    result.Metrics.HeapLimit,
		ScriptError:  result.Metrics.ScriptError,
		ErrorMessage: result.Error,
		DurationMs:   elapsed.Milliseconds(),
	}))
}

// Cache returns the bundle cache.
func (c *Coordinator) Cache() *BundleCache { return c.cache }

// Throttle returns the throttle registry.
func (c *Coordinator) Throttle() *ThrottleRegistry { return c.throttle }
