package runtime

import (
	"sync"
	"time"
)

// Throttle defaults.
const (
	DefaultThrottleThreshold = 2
	DefaultThrottleBaseDelay = 5 * time.Second
	DefaultThrottleMaxDelay  = 5 * time.Minute
)

// ThrottleConfig configures a ThrottleRegistry.
type ThrottleConfig struct {
	// Threshold is the consecutive failure count that starts back-off.
	Threshold int
	// BaseDelay is the delay at the threshold, doubled per further failure.
	BaseDelay time.Duration
	// MaxDelay caps the delay.
	MaxDelay time.Duration
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThrottleThreshold
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultThrottleBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultThrottleMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

type throttleEntry struct {
	streak int
	until  time.Time
}

// ThrottleRegistry tracks per-tenant back-off after repeated timeouts or
// script errors. Safe for concurrent use.
type ThrottleRegistry struct {
	cfg ThrottleConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

// ThrottleOption configures a ThrottleRegistry.
type ThrottleOption func(*ThrottleRegistry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ThrottleOption {
	return func(r *ThrottleRegistry) { r.now = now }
}

// NewThrottleRegistry creates an empty registry.
func NewThrottleRegistry(cfg ThrottleConfig, opts ...ThrottleOption) *ThrottleRegistry {
	r := &ThrottleRegistry{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		entries: make(map[string]*throttleEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check returns the remaining back-off for userID and whether the tick
// must be skipped.
func (r *ThrottleRegistry) Check(userID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.until.IsZero() {
		return 0, false
	}
	remaining := e.until.Sub(r.now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// RegisterFailure records one failed tick and returns the streak and the
// delay now in force (zero below the threshold).
func (r *ThrottleRegistry) RegisterFailure(userID string) (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &throttleEntry{}
		r.entries[userID] = e
	}
	e.streak++
	if e.streak < r.cfg.Threshold {
		return e.streak, 0
	}
	delay := r.delay(e.streak)
	e.until = r.now().Add(delay)
	return e.streak, delay
}

func (r *ThrottleRegistry) delay(streak int) time.Duration {
	d := r.cfg.BaseDelay
	for i := r.cfg.Threshold; i < streak; i++ {
		d *= 2
		if d >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return d
}

// Clear forgets userID after a clean run.
func (r *ThrottleRegistry) Clear(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// Streak returns the current failure streak of userID.
func (r *ThrottleRegistry) Streak(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e.streak
	}
	return 0
}

// Len returns the number of tracked tenants.
func (r *ThrottleRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
