package types

import "time"

// Loop identities used in telemetry.
const (
	LoopRunner    = "runner"
	LoopProcessor = "processor"
	LoopMain      = "main"
)

// RuntimeTelemetryPayload describes one handled (or failed) work item.
// Telemetry is observational: losing a payload never affects tick correctness.
type RuntimeTelemetryPayload struct {
	ID string `json:"id"`
	// Loop is the logical loop identity, e.g. "runner-worker".
	Loop       string `json:"loop"`
	ItemID     string `json:"item_id"`
	GameTime   int64  `json:"game_time"`
	QueueDepth int64  `json:"queue_depth"`

	CPULimit  int   `json:"cpu_limit"`
	CPUBucket int   `json:"cpu_bucket"`
	CPUUsed   int   `json:"cpu_used"`
	TimedOut  bool  `json:"timed_out"`
	HeapUsed  int64 `json:"heap_used_bytes"`
	HeapLimit int64 `json:"heap_limit_bytes"`

	ScriptError bool `json:"script_error"`
	// Throttled is set when the tick was skipped by the throttle registry.
	Throttled    bool      `json:"throttled"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// RuntimeWatchdogAlert escalates a streak of consecutive failures.
type RuntimeWatchdogAlert struct {
	ID          string `json:"id"`
	Loop        string `json:"loop"`
	ItemID      string `json:"item_id"`
	WorkerIndex int    `json:"worker_index"`
	// Scope is "id" when the streak belongs to one item, "worker" for a worker slot.
	Scope        string    `json:"scope"`
	Streak       int       `json:"streak"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// RoomTelemetryPayload summarizes one room-processing pass.
type RoomTelemetryPayload struct {
	ID       string `json:"id"`
	Room     string `json:"room"`
	GameTime int64  `json:"game_time"`

	ObjectCount     int `json:"object_count"`
	IntentCount     int `json:"intent_count"`
	AcceptedIntents int `json:"accepted_intents"`
	RejectedIntents int `json:"rejected_intents"`
	MutationCount   int `json:"mutation_count"`

	// StepTimings maps step name to its duration in microseconds.
	StepTimings           map[string]int64 `json:"step_timings_us"`
	RejectionsByErrorCode map[string]int64 `json:"rejections_by_error_code,omitempty"`
	DurationMs            int64            `json:"duration_ms"`
	Timestamp             time.Time        `json:"timestamp"`
}
