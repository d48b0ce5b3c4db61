// Package metrics provides process-wide counters for the tick loops.
//
// The Collector is a leaf package with no internal dependencies. Per-loop
// scheduler counters are keyed by loop name; runtime, processor, bulk and
// driver counters are global.
package metrics

import "sync"

// LoopStats counts scheduler activity for one loop.
type LoopStats struct {
	Handled        int64
	Failed         int64
	FetchErrors    int64
	WatchdogAlerts int64
}

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	Loops map[string]LoopStats

	// Runtime
	Executions     int64
	Timeouts       int64
	ScriptErrors   int64
	ThrottledSkips int64
	BundleCompiles int64

	// Processor
	RoomsProcessed  int64
	RoomsFailed     int64
	IntentsAccepted int64
	IntentsRejected int64

	// Bulk / storage
	BulkCommits  int64
	BulkFailures int64
	BulkOps      int64

	// History
	HistoryWrites   int64
	HistoryFailures int64

	// Driver
	Ticks    int64
	GameTime int64

	// Dimensions (informational, set at construction)
	QueueBackend   string
	StorageBackend string
}

// Collector accumulates counters for the life of the process.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	loops map[string]*LoopStats

	executions     int64
	timeouts       int64
	scriptErrors   int64
	throttledSkips int64
	bundleCompiles int64

	roomsProcessed  int64
	roomsFailed     int64
	intentsAccepted int64
	intentsRejected int64

	bulkCommits  int64
	bulkFailures int64
	bulkOps      int64

	historyWrites   int64
	historyFailures int64

	ticks    int64
	gameTime int64

	queueBackend   string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(queueBackend, storageBackend string) *Collector {
	return &Collector{
		loops:          make(map[string]*LoopStats),
		queueBackend:   queueBackend,
		storageBackend: storageBackend,
	}
}

// loopLocked returns the stats for loop, creating it. Caller must hold mu.
func (c *Collector) loopLocked(loop string) *LoopStats {
	s, ok := c.loops[loop]
	if !ok {
		s = &LoopStats{}
		c.loops[loop] = s
	}
	return s
}

// --- Scheduler ---

// IncHandled records a work item handled without error.
func (c *Collector) IncHandled(loop string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loopLocked(loop).Handled++
	c.mu.Unlock()
}

// IncFailed records a work item whose handler failed or panicked.
func (c *Collector) IncFailed(loop string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loopLocked(loop).Failed++
	c.mu.Unlock()
}

// IncFetchError records a queue backend fault.
func (c *Collector) IncFetchError(loop string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loopLocked(loop).FetchErrors++
	c.mu.Unlock()
}

// IncWatchdogAlert records an escalated failure streak.
func (c *Collector) IncWatchdogAlert(loop string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loopLocked(loop).WatchdogAlerts++
	c.mu.Unlock()
}

// --- Runtime ---

// RecordExecution records one sandbox execution and its fault flags.
func (c *Collector) RecordExecution(timedOut, scriptError bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executions++
	if timedOut {
		c.timeouts++
	}
	if scriptError {
		c.scriptErrors++
	}
	c.mu.Unlock()
}

// IncThrottledSkip records a tick skipped by back-off.
func (c *Collector) IncThrottledSkip() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.throttledSkips++
	c.mu.Unlock()
}

// IncBundleCompile records a bundle cache miss that compiled code.
func (c *Collector) IncBundleCompile() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bundleCompiles++
	c.mu.Unlock()
}

// --- Processor ---

// RecordRoom records one room pass.
func (c *Collector) RecordRoom(failed bool, accepted, rejected int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if failed {
		c.roomsFailed++
	} else {
		c.roomsProcessed++
	}
	c.intentsAccepted += int64(accepted)
	c.intentsRejected += int64(rejected)
	c.mu.Unlock()
}

// --- Bulk ---
// Bulk counters are per batch; BulkOps counts operations inside batches.

// RecordBulk records one submitted batch.
func (c *Collector) RecordBulk(ops int, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if err != nil {
		c.bulkFailures++
	} else {
		c.bulkCommits++
		c.bulkOps += int64(ops)
	}
	c.mu.Unlock()
}

// --- History ---

// RecordHistoryWrite records one history append.
func (c *Collector) RecordHistoryWrite(err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if err != nil {
		c.historyFailures++
	} else {
		c.historyWrites++
	}
	c.mu.Unlock()
}

// --- Driver ---

// RecordTick records a completed tick at gameTime.
func (c *Collector) RecordTick(gameTime int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ticks++
	c.gameTime = gameTime
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	loops := make(map[string]LoopStats, len(c.loops))
	for k, v := range c.loops {
		loops[k] = *v
	}

	return Snapshot{
		Loops: loops,

		Executions:     c.executions,
		Timeouts:       c.timeouts,
		ScriptErrors:   c.scriptErrors,
		ThrottledSkips: c.throttledSkips,
		BundleCompiles: c.bundleCompiles,

		RoomsProcessed:  c.roomsProcessed,
		RoomsFailed:     c.roomsFailed,
		IntentsAccepted: c.intentsAccepted,
		IntentsRejected: c.intentsRejected,

		BulkCommits:  c.bulkCommits,
		BulkFailures: c.bulkFailures,
		BulkOps:      c.bulkOps,

		HistoryWrites:   c.historyWrites,
		HistoryFailures: c.historyFailures,

		Ticks:    c.ticks,
		GameTime: c.gameTime,

		QueueBackend:   c.queueBackend,
		StorageBackend: c.storageBackend,
	}
}
