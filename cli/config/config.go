package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
	BackendFS     = "fs"
	BackendS3     = "s3"
)

// Config represents a colony.yaml configuration file.
// Zero values take the defaults of Default. CLI flags always override
// config values.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Loops      LoopsConfig      `yaml:"loops"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Pathfinder PathfinderConfig `yaml:"pathfinder"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	History    HistoryConfig    `yaml:"history"`
	// Seed is an optional world seed file applied at startup.
	Seed string `yaml:"seed"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend     string   `yaml:"backend"`
	URL         string   `yaml:"url"`
	Prefix      string   `yaml:"prefix"`
	PollTimeout Duration `yaml:"poll_timeout"`
}

// LoopsConfig sizes the worker pools and the tick cadence.
type LoopsConfig struct {
	RunnerWorkers    int      `yaml:"runner_workers"`
	ProcessorWorkers int      `yaml:"processor_workers"`
	AlertThreshold   int      `yaml:"alert_threshold"`
	HandlerTimeout   Duration `yaml:"handler_timeout"`
	TickInterval     Duration `yaml:"tick_interval"`
}

// RuntimeConfig bounds tenant script execution.
type RuntimeConfig struct {
	MaxTickLimit      int      `yaml:"max_tick_limit"`
	BucketCap         int      `yaml:"bucket_cap"`
	HeapLimit         int64    `yaml:"heap_limit"`
	MemoryLimit       int      `yaml:"memory_limit"`
	ThrottleThreshold int      `yaml:"throttle_threshold"`
	ThrottleBaseDelay Duration `yaml:"throttle_base_delay"`
	ThrottleMaxDelay  Duration `yaml:"throttle_max_delay"`
	BundleCacheSize   int      `yaml:"bundle_cache_size"`
}

// PathfinderConfig holds the search defaults offered to scripts.
type PathfinderConfig struct {
	PlainCost int `yaml:"plain_cost"`
	SwampCost int `yaml:"swamp_cost"`
	RoadCost  int `yaml:"road_cost"`
	MaxOps    int `yaml:"max_ops"`
	MaxRooms  int `yaml:"max_rooms"`
}

// TelemetryConfig lists the exporters telemetry fans out to.
type TelemetryConfig struct {
	// Log enables the structured log exporter.
	Log     bool          `yaml:"log"`
	Redis   RedisExporter `yaml:"redis"`
	Webhook WebhookConfig `yaml:"webhook"`
	// IncludeRooms also exports per-room telemetry.
	IncludeRooms bool `yaml:"include_rooms"`
}

// RedisExporter publishes telemetry and console output over pub/sub.
type RedisExporter struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// WebhookConfig posts telemetry to an HTTP endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// HistoryConfig selects where room history chunks are written.
type HistoryConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	Dataset   string `yaml:"dataset"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"s3_path_style"`
	ChunkSize int64  `yaml:"chunk_size"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration of a single-process world.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage:  StorageConfig{Backend: BackendMemory},
		Queue: QueueConfig{
			Backend:     BackendMemory,
			PollTimeout: Duration{time.Second},
		},
		Loops: LoopsConfig{
			RunnerWorkers:    4,
			ProcessorWorkers: 4,
			AlertThreshold:   3,
			TickInterval:     Duration{time.Second},
		},
		Runtime: RuntimeConfig{
			MaxTickLimit:      500,
			BucketCap:         10000,
			HeapLimit:         64 << 20,
			MemoryLimit:       2 << 20,
			ThrottleThreshold: 2,
			ThrottleBaseDelay: Duration{5 * time.Second},
			ThrottleMaxDelay:  Duration{5 * time.Minute},
			BundleCacheSize:   256,
		},
		Pathfinder: PathfinderConfig{
			PlainCost: 1,
			SwampCost: 5,
			RoadCost:  1,
			MaxOps:    2000,
			MaxRooms:  16,
		},
		Telemetry: TelemetryConfig{Log: true},
		History: HistoryConfig{
			Backend:   BackendNone,
			Dataset:   "room_history",
			ChunkSize: 100,
		},
	}
}

// Validate checks backends, worker counts and limits.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("%s: unknown backend %q (want one of %v)", field, value, allowed))
		}
	}
	check("storage.backend", c.Storage.Backend, BackendMemory, BackendSQLite)
	check("queue.backend", c.Queue.Backend, BackendMemory, BackendRedis)
	check("history.backend", c.History.Backend, BackendNone, BackendFS, BackendS3)

	if c.Storage.Backend == BackendSQLite && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
	}
	if c.Queue.Backend == BackendRedis && c.Queue.URL == "" {
		errs = append(errs, errors.New("queue.url is required for the redis backend"))
	}
	if c.History.Backend != BackendNone && c.History.Path == "" {
		errs = append(errs, fmt.Errorf("history.path is required for the %s backend", c.History.Backend))
	}
	if c.Loops.RunnerWorkers <= 0 {
		errs = append(errs, fmt.Errorf("loops.runner_workers must be > 0, got %d", c.Loops.RunnerWorkers))
	}
	if c.Loops.ProcessorWorkers <= 0 {
		errs = append(errs, fmt.Errorf("loops.processor_workers must be > 0, got %d", c.Loops.ProcessorWorkers))
	}
	if c.Runtime.MaxTickLimit <= 0 {
		errs = append(errs, fmt.Errorf("runtime.max_tick_limit must be > 0, got %d", c.Runtime.MaxTickLimit))
	}
	if c.Runtime.BucketCap < c.Runtime.MaxTickLimit {
		errs = append(errs, fmt.Errorf("runtime.bucket_cap (%d) must be >= max_tick_limit (%d)",
			c.Runtime.BucketCap, c.Runtime.MaxTickLimit))
	}
	if c.Runtime.MemoryLimit <= 0 || c.Runtime.HeapLimit <= 0 {
		errs = append(errs, errors.New("runtime.memory_limit and runtime.heap_limit must be > 0"))
	}
	if c.History.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("history.chunk_size must be > 0, got %d", c.History.ChunkSize))
	}
	return errors.Join(errs...)
}
