package driver

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/queue"
	"github.com/pithecene-io/colony/scheduler"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) handler(prefix string) scheduler.Handler {
	return func(_ context.Context, id string) error {
		time.Sleep(time.Millisecond)
		j.mu.Lock()
		j.entries = append(j.entries, prefix+":"+id)
		j.mu.Unlock()
		return nil
	}
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type harness struct {
	store   *storage.MemoryStore
	users   *queue.MemoryQueue
	rooms   *queue.MemoryQueue
	journal *journal
	metrics *metrics.Collector
	driver  *Driver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := t.Context()
	h := &harness{
		store:   storage.NewMemoryStore(),
		users:   queue.NewMemoryQueue(queue.NameUsers),
		rooms:   queue.NewMemoryQueue(queue.NameRooms),
		journal: &journal{},
		metrics: metrics.NewCollector("memory", "memory"),
	}
	for _, id := range []string{"u2", "u1", "u3"} {
		_ = h.store.PutUser(ctx, &types.User{ID: id, Active: id != "u3"}, nil)
	}
	_ = h.store.PutRoom(ctx, &types.RoomInfo{ID: "W1N1", Active: true}, nil)
	_ = h.store.PutRoom(ctx, &types.RoomInfo{ID: "W2N1", Active: false}, nil)
	_ = h.store.SetGameTime(ctx, 10)

	d, err := New(Repositories{
		Users:       h.store,
		Rooms:       h.store,
		Intents:     h.store,
		Environment: h.store,
	}, Queues{Users: h.users, Rooms: h.rooms}, WithMetrics(h.metrics))
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	h.driver = d
	return h
}

// start runs one scheduler per queue until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, s := range []struct {
		q    queue.Queue
		loop string
		h    scheduler.Handler
	}{
		{h.users, types.LoopRunner, h.journal.handler("user")},
		{h.rooms, types.LoopProcessor, h.journal.handler("room")},
	} {
		sch, err := scheduler.New(s.q, s.h, scheduler.Config{Loop: s.loop, Workers: 2, PollTimeout: 10 * time.Millisecond})
		if err != nil {
			t.Fatalf("new scheduler: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sch.Run(ctx)
		}()
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestTick_PhasesAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	_ = h.store.SaveRoomIntents(t.Context(), "W2N1", "u1", types.UserIntents{
		types.IntentSay: {{ActorID: "c1", Payload: map[string]any{"message": "x"}}},
	})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	report, err := h.driver.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	entries := h.journal.snapshot()
	if len(entries) != 4 {
		t.Fatalf("expected 4 handled ids, got %v", entries)
	}
	users, rooms := entries[:2], entries[2:]
	slices.Sort(users)
	slices.Sort(rooms)
	if diff := cmp.Diff([]string{"user:u1", "user:u2"}, users); diff != "" {
		t.Errorf("user phase mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"room:W1N1", "room:W2N1"}, rooms); diff != "" {
		t.Errorf("room phase mismatch (-want +got):\n%s", diff)
	}

	if report.GameTime != 10 || report.NextGameTime != 11 {
		t.Errorf("unexpected game times %d -> %d", report.GameTime, report.NextGameTime)
	}
	if report.Users != 2 || report.Rooms != 2 {
		t.Errorf("unexpected counts users=%d rooms=%d", report.Users, report.Rooms)
	}
	if gt, _ := h.store.GameTime(t.Context()); gt != 11 {
		t.Errorf("expected stored game time 11, got %d", gt)
	}
	if s := h.metrics.Snapshot(); s.Ticks != 1 || s.GameTime != 11 {
		t.Errorf("unexpected tick metrics %+v", s)
	}
}

func TestTick_DrainTimeoutLeavesGameTime(t *testing.T) {
	h := newHarness(t)
	// No schedulers: the users phase never drains.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	if _, err := h.driver.Tick(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if gt, _ := h.store.GameTime(t.Context()); gt != 10 {
		t.Errorf("expected game time unchanged, got %d", gt)
	}
}

func TestRun_StopsAfterMaxTicks(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := h.driver.Run(ctx, time.Millisecond, 3); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gt, _ := h.store.GameTime(t.Context()); gt != 13 {
		t.Errorf("expected game time 13, got %d", gt)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(Repositories{}, Queues{}); err == nil {
		t.Fatal("expected error")
	}
}
