// Package notify delivers tenant console output and Game.notify messages
// out of band. Delivery is best-effort and never affects the tick.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

// ConsoleMessage is one tick's console output for one user.
type ConsoleMessage struct {
	UserID   string   `json:"user_id"`
	GameTime int64    `json:"game_time"`
	Log      []string `json:"log,omitempty"`
	Results  []string `json:"results,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Empty reports whether there is nothing to deliver.
func (m *ConsoleMessage) Empty() bool {
	return len(m.Log) == 0 && len(m.Results) == 0 && m.Error == ""
}

// Sink receives console output and notifications.
type Sink interface {
	PublishConsole(ctx context.Context, msg *ConsoleMessage) error
	PublishNotifications(ctx context.Context, userID string, ns []types.Notification) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishConsole(context.Context, *ConsoleMessage) error { return nil }
func (Nop) PublishNotifications(context.Context, string, []types.Notification) error {
	return nil
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// ChannelPrefix namespaces per-user channels.
const ChannelPrefix = "colony:user"

// ConsoleChannel is the per-user console channel.
func ConsoleChannel(userID string) string {
	return fmt.Sprintf("%s:%s:console", ChannelPrefix, userID)
}

// NotificationChannel is the per-user notification channel.
func NotificationChannel(userID string) string {
	return fmt.Sprintf("%s:%s:notifications", ChannelPrefix, userID)
}

// AdapterSink publishes envelopes on per-user channels through an adapter
// (Redis pub/sub or webhook).
type AdapterSink struct {
	adapter adapter.Adapter
}

// NewAdapterSink wraps a.
func NewAdapterSink(a adapter.Adapter) *AdapterSink {
	return &AdapterSink{adapter: a}
}

// PublishConsole implements Sink.
func (s *AdapterSink) PublishConsole(ctx context.Context, msg *ConsoleMessage) error {
	if msg.Empty() {
		return nil
	}
	env := adapter.NewEnvelope(adapter.EventConsole, msg)
	env.Channel = ConsoleChannel(msg.UserID)
	return s.adapter.Publish(ctx, env)
}

// PublishNotifications implements Sink.
func (s *AdapterSink) PublishNotifications(ctx context.Context, userID string, ns []types.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	env := adapter.NewEnvelope(adapter.EventNotification, map[string]any{
		"user_id":       userID,
		"notifications": ns,
	})
	env.Channel = NotificationChannel(userID)
	return s.adapter.Publish(ctx, env)
}

// Close closes the adapter.
func (s *AdapterSink) Close() error { return s.adapter.Close() }

// LogSink writes console output and notifications to the log at debug level.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink on logger.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: log.OrNop(logger).Named("notify")}
}

// PublishConsole implements Sink.
func (s *LogSink) PublishConsole(_ context.Context, msg *ConsoleMessage) error {
	if msg.Empty() {
		return nil
	}
	s.logger.Debug("console", map[string]any{
		"user_id":   msg.UserID,
		"game_time": msg.GameTime,
		"lines":     len(msg.Log),
		"error":     msg.Error,
	})
	return nil
}

// PublishNotifications implements Sink.
func (s *LogSink) PublishNotifications(_ context.Context, userID string, ns []types.Notification) error {
	for _, n := range ns {
		s.logger.Debug("notification", map[string]any{"user_id": userID, "message": n.Message})
	}
	return nil
}

// Grouped drops repeats of the same message for the same user inside the
// notification's group interval (minutes).
type Grouped struct {
	next Sink
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewGrouped wraps next. A nil clock uses time.Now.
func NewGrouped(next Sink, now func() time.Time) *Grouped {
	if now == nil {
		now = time.Now
	}
	return &Grouped{next: OrNop(next), now: now, seen: make(map[string]time.Time)}
}

// PublishConsole implements Sink.
func (g *Grouped) PublishConsole(ctx context.Context, msg *ConsoleMessage) error {
	return g.next.PublishConsole(ctx, msg)
}

// PublishNotifications implements Sink.
func (g *Grouped) PublishNotifications(ctx context.Context, userID string, ns []types.Notification) error {
	now := g.now()
	g.mu.Lock()
	kept := ns[:0:0]
	for _, n := range ns {
		key := userID + "\x00" + n.Message
		if until, ok := g.seen[key]; ok && now.Before(until) {
			continue
		}
		g.seen[key] = now.Add(time.Duration(n.GroupInterval) * time.Minute)
		kept = append(kept, n)
	}
	g.mu.Unlock()
	if len(kept) == 0 {
		return nil
	}
	return g.next.PublishNotifications(ctx, userID, kept)
}

// RecordingSink keeps everything in memory.
type RecordingSink struct {
	mu       sync.Mutex
	consoles []ConsoleMessage
	notes    map[string][]types.Notification
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{notes: make(map[string][]types.Notification)}
}

// PublishConsole implements Sink.
func (r *RecordingSink) PublishConsole(_ context.Context, msg *ConsoleMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consoles = append(r.consoles, *msg)
	return nil
}

// PublishNotifications implements Sink.
func (r *RecordingSink) PublishNotifications(_ context.Context, userID string, ns []types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[userID] = append(r.notes[userID], ns...)
	return nil
}

// Consoles returns the recorded console messages.
func (r *RecordingSink) Consoles() []ConsoleMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConsoleMessage, len(r.consoles))
	copy(out, r.consoles)
	return out
}

// Notifications returns the notifications recorded for userID.
func (r *RecordingSink) Notifications(userID string) []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Notification, len(r.notes[userID]))
	copy(out, r.notes[userID])
	return out
}

var (
	_ Sink = Nop{}
	_ Sink = (*AdapterSink)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Grouped)(nil)
	_ Sink = (*RecordingSink)(nil)
)
