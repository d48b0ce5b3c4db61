// Package types defines the shared data model of the tick backend: execution
// contexts and results, intents, room objects and snapshots, and telemetry
// payloads.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// UserRuntimeData is everything storage holds about a tenant that a runtime
// tick needs. Loaded once per tick by the coordinator.
type UserRuntimeData struct {
	// UserID is the tenant identifier.
	UserID string
	// CodeHash is the content hash of Modules. Identical code has an identical hash.
	CodeHash string
	// Modules maps module name to source. "main" is the entry module.
	Modules map[string]string
	// CPULimit is the per-tick CPU allowance in milliseconds.
	CPULimit int
	// CPUBucket is the banked CPU credit in milliseconds.
	CPUBucket int
	// Memory is the raw JSON memory blob.
	Memory string
	// Segments holds the memory segments that were requested active last tick.
	Segments map[int]string
	// ActiveSegments are the segment ids loaded into Segments.
	ActiveSegments []int
	// InterShardSegment is the raw inter-shard segment.
	InterShardSegment string
}

// ExecutionContext is the immutable input of one sandbox call.
// It is owned by the call and never shared between concurrent executions.
type ExecutionContext struct {
	UserID   string
	CodeHash string
	// CPULimit is the per-tick CPU allowance in milliseconds.
	CPULimit int
	// CPUBucket is the banked CPU credit in milliseconds (already clamped).
	CPUBucket int
	// TickLimit is the hard cut-off the sandbox enforces for this call.
	TickLimit int
	GameTime  int64
	Memory    string
	// Segments maps segment id to contents for the active segments.
	Segments          map[int]string
	InterShardSegment string
	// RuntimeData carries host-visible extras (e.g. the rooms the tenant can see).
	RuntimeData map[string]any
}

// ExecutionMetrics describes how the sandbox call went.
type ExecutionMetrics struct {
	TimedOut    bool  `json:"timed_out"`
	ScriptError bool  `json:"script_error"`
	HeapUsed    int64 `json:"heap_used_bytes"`
	HeapLimit   int64 `json:"heap_limit_bytes"`
	// Duration is the wall time spent inside the host.
	Duration time.Duration `json:"duration"`
}

// Notification is a tenant-raised message delivered out of band.
type Notification struct {
	Message string `json:"message" msgpack:"message"`
	// GroupInterval is the minimum number of minutes between grouped deliveries.
	GroupInterval int `json:"group_interval" msgpack:"group_interval"`
}

// ExecutionResult is produced once per sandbox call. Ownership transfers to
// the coordinator, which fans room intents out to per-room storage.
type ExecutionResult struct {
	ConsoleLog     []string
	ConsoleResults []string
	// Error is the fatal tenant error message, empty on success.
	Error string
	// GlobalIntents maps action type to payloads that are not bound to a room.
	GlobalIntents map[string][]map[string]any
	// RoomIntents maps room -> action type -> intent records.
	RoomIntents map[string]map[string][]IntentRecord
	// Memory is the new memory blob. Nil means memory must not be written.
	Memory *string
	// Segments holds the segments the tenant wrote this tick.
	Segments map[int]string
	// ActiveSegments are the segment ids requested for the next tick. Nil keeps the current set.
	ActiveSegments    []int
	InterShardSegment *string
	Notifications     []Notification
	// CPUUsed is the CPU charged for the call in milliseconds.
	CPUUsed int
	Metrics ExecutionMetrics
}

// IntentCount returns the number of room intent records in the result.
func (r *ExecutionResult) IntentCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, byAction := range r.RoomIntents {
		for _, records := range byAction {
			n += len(records)
		}
	}
	return n
}
