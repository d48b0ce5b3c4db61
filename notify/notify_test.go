package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/colony/adapter"
	redisadapter "github.com/pithecene-io/colony/adapter/redis"
	"github.com/pithecene-io/colony/types"
)

type captureAdapter struct {
	envs []*adapter.Envelope
}

func (c *captureAdapter) Publish(_ context.Context, env *adapter.Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureAdapter) Close() error { return nil }

func TestAdapterSink_Channels(t *testing.T) {
	sent := &captureAdapter{}
	s := NewAdapterSink(sent)
	ctx := t.Context()

	_ = s.PublishConsole(ctx, &ConsoleMessage{UserID: "u1", GameTime: 5, Log: []string{"hello"}})
	_ = s.PublishConsole(ctx, &ConsoleMessage{UserID: "u1"})
	_ = s.PublishNotifications(ctx, "u1", []types.Notification{{Message: "under attack"}})
	_ = s.PublishNotifications(ctx, "u1", nil)

	if len(sent.envs) != 2 {
		t.Fatalf("expected 2 envelopes (empty ones skipped), got %d", len(sent.envs))
	}
	if sent.envs[0].Channel != "colony:user:u1:console" || sent.envs[0].EventType != adapter.EventConsole {
		t.Errorf("unexpected console envelope %+v", sent.envs[0])
	}
	if sent.envs[1].Channel != "colony:user:u1:notifications" || sent.envs[1].EventType != adapter.EventNotification {
		t.Errorf("unexpected notification envelope %+v", sent.envs[1])
	}
}

func TestAdapterSink_RedisDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := redisadapter.New(redisadapter.Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	s := NewAdapterSink(a)
	defer func() { _ = s.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(ConsoleChannel("u1"))
	got := make(chan miniredis.PubsubMessage, 1)
	go func() { got <- <-sub.Messages() }()

	if err := s.PublishConsole(t.Context(), &ConsoleMessage{UserID: "u1", Log: []string{"tick"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		var env struct {
			EventType string         `json:"event_type"`
			Payload   ConsoleMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(msg.Message), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.EventType != adapter.EventConsole || env.Payload.Log[0] != "tick" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for console message")
	}
}

func TestGrouped_DropsRepeatsInsideInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecordingSink()
	g := NewGrouped(rec, func() time.Time { return now })
	ctx := t.Context()

	n := types.Notification{Message: "spawn idle", GroupInterval: 10}
	_ = g.PublishNotifications(ctx, "u1", []types.Notification{n, n})
	now = now.Add(5 * time.Minute)
	_ = g.PublishNotifications(ctx, "u1", []types.Notification{n})
	_ = g.PublishNotifications(ctx, "u2", []types.Notification{n})

	if got := len(rec.Notifications("u1")); got != 1 {
		t.Errorf("expected 1 grouped notification for u1, got %d", got)
	}
	if got := len(rec.Notifications("u2")); got != 1 {
		t.Errorf("expected 1 notification for u2, got %d", got)
	}

	now = now.Add(6 * time.Minute)
	_ = g.PublishNotifications(ctx, "u1", []types.Notification{n})
	if got := len(rec.Notifications("u1")); got != 2 {
		t.Errorf("expected delivery after the interval, got %d", got)
	}
}

func TestGrouped_ZeroIntervalAlwaysDelivers(t *testing.T) {
	rec := NewRecordingSink()
	g := NewGrouped(rec, nil)
	n := types.Notification{Message: "hi"}
	_ = g.PublishNotifications(t.Context(), "u1", []types.Notification{n})
	_ = g.PublishNotifications(t.Context(), "u1", []types.Notification{n})
	if got := len(rec.Notifications("u1")); got != 2 {
		t.Errorf("expected 2 deliveries, got %d", got)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("expected Nop for nil sink")
	}
	if err := NewLogSink(nil).PublishConsole(t.Context(), &ConsoleMessage{UserID: "u1", Error: "boom"}); err != nil {
		t.Errorf("log sink: %v", err)
	}
}
