package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

func TestFanOut_DeliversToAllAndSwallowsErrors(t *testing.T) {
	failing := NewRecordingSink()
	failing.FailWith(errors.New("exporter down"))
	healthy := NewRecordingSink()

	var buf bytes.Buffer
	f := NewFanOut(log.New(log.Options{Output: &buf}), failing, nil, healthy)
	if f.Len() != 2 {
		t.Fatalf("expected nil sink to be skipped, got %d sinks", f.Len())
	}

	p := &types.RuntimeTelemetryPayload{Loop: "runner-worker", ItemID: "u1"}
	if err := f.PublishTelemetry(t.Context(), p); err != nil {
		t.Fatalf("fan-out must not fail: %v", err)
	}

	if got := healthy.Telemetry(); len(got) != 1 || got[0].ItemID != "u1" {
		t.Errorf("healthy sink did not receive payload: %+v", got)
	}
	if len(failing.Telemetry()) != 1 {
		t.Error("failing sink should still have been called")
	}
	if !strings.Contains(buf.String(), "telemetry delivery failed") {
		t.Errorf("expected warning log, got %q", buf.String())
	}
}

func TestFanOut_StampsMissingFields(t *testing.T) {
	rec := NewRecordingSink()
	f := NewFanOut(nil, rec)

	_ = f.PublishWatchdogAlert(t.Context(), &types.RuntimeWatchdogAlert{Streak: 3})
	_ = f.PublishRoomTelemetry(t.Context(), &types.RoomTelemetryPayload{Room: "W1N1"})

	a := rec.Alerts()[0]
	if a.ID == "" || a.Timestamp.IsZero() {
		t.Errorf("alert not stamped: %+v", a)
	}
	r := rec.Rooms()[0]
	if r.ID == "" || r.Timestamp.IsZero() {
		t.Errorf("room payload not stamped: %+v", r)
	}
}

func TestStamp_KeepsExistingID(t *testing.T) {
	p := Stamp(&types.RuntimeTelemetryPayload{ID: "fixed"})
	if p.ID != "fixed" {
		t.Errorf("expected existing id kept, got %q", p.ID)
	}
}

func TestLogSink_FailedItemsWarn(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(log.New(log.Options{Output: &buf, Level: "warn"}))

	_ = s.PublishTelemetry(t.Context(), &types.RuntimeTelemetryPayload{ItemID: "ok"})
	_ = s.PublishTelemetry(t.Context(), &types.RuntimeTelemetryPayload{ItemID: "bad", ErrorMessage: "scheduler:Panic"})

	out := buf.String()
	if strings.Contains(out, `"ok"`) {
		t.Error("successful item should log below warn")
	}
	if !strings.Contains(out, "scheduler:Panic") {
		t.Errorf("expected failed item at warn, got %q", out)
	}
}

type captureAdapter struct {
	mu   sync.Mutex
	envs []*adapter.Envelope
}

func (c *captureAdapter) Publish(_ context.Context, env *adapter.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *captureAdapter) Close() error { return nil }

func TestAdapterSink_EnvelopesAndRoomFilter(t *testing.T) {
	ca := &captureAdapter{}
	s := NewAdapterSink(ca, false)

	_ = s.PublishTelemetry(t.Context(), &types.RuntimeTelemetryPayload{ItemID: "u1"})
	_ = s.PublishWatchdogAlert(t.Context(), &types.RuntimeWatchdogAlert{ItemID: "u1", Streak: 2})
	_ = s.PublishRoomTelemetry(t.Context(), &types.RoomTelemetryPayload{Room: "W1N1"})

	if len(ca.envs) != 2 {
		t.Fatalf("expected room payload filtered out, got %d envelopes", len(ca.envs))
	}
	if ca.envs[0].EventType != adapter.EventRuntimeTelemetry || ca.envs[1].EventType != adapter.EventWatchdogAlert {
		t.Errorf("unexpected event types %q, %q", ca.envs[0].EventType, ca.envs[1].EventType)
	}
	if ca.envs[0].ContractVersion != types.Version {
		t.Errorf("expected contract version %q, got %q", types.Version, ca.envs[0].ContractVersion)
	}

	body, err := json.Marshal(ca.envs[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"streak":2`) {
		t.Errorf("payload not embedded: %s", body)
	}
}
