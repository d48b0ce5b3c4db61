package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `log_level: debug
seed: ./world.yaml

storage:
  backend: sqlite
  path: ./colony.db

queue:
  backend: redis
  url: redis://localhost:6379/0
  prefix: shard0
  poll_timeout: 250ms

loops:
  runner_workers: 8
  processor_workers: 2
  alert_threshold: 5
  handler_timeout: 30s
  tick_interval: 2s

runtime:
  max_tick_limit: 300
  bucket_cap: 5000
  heap_limit: 33554432
  memory_limit: 1048576
  throttle_threshold: 3
  throttle_base_delay: 1s
  throttle_max_delay: 1m
  bundle_cache_size: 64

pathfinder:
  plain_cost: 2
  swamp_cost: 10
  road_cost: 1
  max_ops: 4000
  max_rooms: 4

telemetry:
  log: false
  include_rooms: true
  redis:
    url: redis://localhost:6379/1
    channel: colony:telemetry
    retries: 0
  webhook:
    url: https://hooks.example.com/colony
    headers:
      Authorization: Bearer token123
    timeout: 10s
    retries: 3

history:
  backend: s3
  path: my-bucket/history
  dataset: rooms
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true
  chunk_size: 50
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	assertEqual(t, "log_level", cfg.LogLevel, "debug")
	assertEqual(t, "seed", cfg.Seed, "./world.yaml")
	assertEqual(t, "storage.backend", cfg.Storage.Backend, BackendSQLite)
	assertEqual(t, "storage.path", cfg.Storage.Path, "./colony.db")
	assertEqual(t, "queue.backend", cfg.Queue.Backend, BackendRedis)
	assertEqual(t, "queue.prefix", cfg.Queue.Prefix, "shard0")
	if cfg.Queue.PollTimeout.Duration != 250*time.Millisecond {
		t.Errorf("queue.poll_timeout: got %v", cfg.Queue.PollTimeout)
	}

	if cfg.Loops.RunnerWorkers != 8 || cfg.Loops.ProcessorWorkers != 2 || cfg.Loops.AlertThreshold != 5 {
		t.Errorf("loops: got %+v", cfg.Loops)
	}
	if cfg.Loops.TickInterval.Duration != 2*time.Second {
		t.Errorf("loops.tick_interval: got %v", cfg.Loops.TickInterval)
	}

	rt := cfg.Runtime
	if rt.MaxTickLimit != 300 || rt.BucketCap != 5000 || rt.HeapLimit != 32<<20 || rt.MemoryLimit != 1<<20 {
		t.Errorf("runtime limits: got %+v", rt)
	}
	if rt.ThrottleThreshold != 3 || rt.ThrottleBaseDelay.Duration != time.Second || rt.ThrottleMaxDelay.Duration != time.Minute {
		t.Errorf("runtime throttle: got %+v", rt)
	}
	if rt.BundleCacheSize != 64 {
		t.Errorf("runtime.bundle_cache_size: got %d", rt.BundleCacheSize)
	}

	if cfg.Pathfinder.SwampCost != 10 || cfg.Pathfinder.MaxOps != 4000 || cfg.Pathfinder.MaxRooms != 4 {
		t.Errorf("pathfinder: got %+v", cfg.Pathfinder)
	}

	tel := cfg.Telemetry
	if tel.Log || !tel.IncludeRooms {
		t.Errorf("telemetry flags: got log=%v include_rooms=%v", tel.Log, tel.IncludeRooms)
	}
	assertEqual(t, "telemetry.redis.channel", tel.Redis.Channel, "colony:telemetry")
	if tel.Redis.Retries == nil || *tel.Redis.Retries != 0 {
		t.Errorf("telemetry.redis.retries: expected explicit 0, got %v", tel.Redis.Retries)
	}
	assertEqual(t, "telemetry.webhook.url", tel.Webhook.URL, "https://hooks.example.com/colony")
	assertEqual(t, "telemetry.webhook.headers", tel.Webhook.Headers["Authorization"], "Bearer token123")
	if tel.Webhook.Timeout.Duration != 10*time.Second {
		t.Errorf("telemetry.webhook.timeout: got %v", tel.Webhook.Timeout)
	}

	h := cfg.History
	assertEqual(t, "history.backend", h.Backend, BackendS3)
	assertEqual(t, "history.path", h.Path, "my-bucket/history")
	assertEqual(t, "history.dataset", h.Dataset, "rooms")
	if !h.PathStyle || h.ChunkSize != 50 {
		t.Errorf("history: got %+v", h)
	}
}

func TestLoad_EmptyConfigUsesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Storage != def.Storage || cfg.Loops != def.Loops || cfg.Runtime != def.Runtime {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_PartialSectionKeepsOtherDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "loops:\n  runner_workers: 16\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loops.RunnerWorkers != 16 {
		t.Errorf("runner_workers: got %d", cfg.Loops.RunnerWorkers)
	}
	if cfg.Loops.ProcessorWorkers != Default().Loops.ProcessorWorkers {
		t.Errorf("processor_workers: expected default, got %d", cfg.Loops.ProcessorWorkers)
	}
}

func TestLoad_CommentsOnlyConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, "# nothing here\n# at all\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "log_level", cfg.LogLevel, "info")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/colony.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "storage: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("COLONY_TEST_REDIS", "redis://cache:6379")
	cfg, err := Load(writeTemp(t, "queue:\n  backend: redis\n  url: ${COLONY_TEST_REDIS}\n  prefix: ${COLONY_TEST_PREFIX:-shard9}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "queue.url", cfg.Queue.URL, "redis://cache:6379")
	assertEqual(t, "queue.prefix", cfg.Queue.Prefix, "shard9")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "log_level: info\nbogus_key: should_fail\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "runtime:\n  max_tick_limit: 100\n  unknown_field: bad\n"))
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_RetriesOmittedIsNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "telemetry:\n  webhook:\n    url: http://localhost\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telemetry.Webhook.Retries != nil {
		t.Errorf("expected nil retries, got %d", *cfg.Telemetry.Webhook.Retries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = BackendSQLite }, "storage.path"},
		{"redis without url", func(c *Config) { c.Queue.Backend = BackendRedis }, "queue.url"},
		{"unknown history", func(c *Config) { c.History.Backend = "gcs" }, "history.backend"},
		{"fs history without path", func(c *Config) { c.History.Backend = BackendFS }, "history.path"},
		{"zero runners", func(c *Config) { c.Loops.RunnerWorkers = 0 }, "runner_workers"},
		{"zero processors", func(c *Config) { c.Loops.ProcessorWorkers = -1 }, "processor_workers"},
		{"bucket below tick limit", func(c *Config) { c.Runtime.BucketCap = 10 }, "bucket_cap"},
		{"zero heap", func(c *Config) { c.Runtime.HeapLimit = 0 }, "heap_limit"},
		{"zero chunk", func(c *Config) { c.History.ChunkSize = 0 }, "chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "loops:\n  tick_interval: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestDuration_EmptyKeepsDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, "loops:\n  tick_interval: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loops.TickInterval.Duration != time.Second {
		t.Errorf("expected default tick interval, got %v", cfg.Loops.TickInterval)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colony.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
