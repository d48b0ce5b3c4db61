package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "world", "colony.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := t.Context()
	err = s.PutUser(ctx, &types.User{ID: "u1", Username: "alice", CPU: 50, CPUAvailable: 1000, Active: true},
		&types.UserRuntimeData{
			Modules:        map[string]string{"main": "module.exports.loop = function() {}"},
			Memory:         `{"counter":1}`,
			Segments:       map[int]string{0: "zero", 5: "five"},
			ActiveSegments: []int{5},
		})
	if err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := s.PutUser(ctx, &types.User{ID: "u2", Username: "bob"}, nil); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := s.PutRoom(ctx, &types.RoomInfo{ID: "W1N1", Active: true}, make([]byte, types.TileCount)); err != nil {
		t.Fatalf("put room: %v", err)
	}
	if err := s.PutRoom(ctx, &types.RoomInfo{ID: "W2N1"}, nil); err != nil {
		t.Fatalf("put room: %v", err)
	}
	err = s.PutObjects(ctx,
		&types.RoomObject{ID: "c1", Type: types.ObjectCreep, Room: "W1N1", X: 10, Y: 10, User: "u1", Hits: 100},
		&types.RoomObject{ID: "c2", Type: types.ObjectCreep, Room: "W2N1", X: 1, Y: 1, User: "u2", Hits: 100},
	)
	if err != nil {
		t.Fatalf("put objects: %v", err)
	}
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_RuntimeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	data, err := s.LoadRuntimeData(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data.CodeHash != storage.HashModules(data.Modules) {
		t.Errorf("expected code hash derived from modules, got %q", data.CodeHash)
	}
	if data.CPULimit != 50 || data.CPUBucket != 1000 {
		t.Errorf("unexpected cpu %d/%d", data.CPULimit, data.CPUBucket)
	}
	if diff := cmp.Diff(map[int]string{5: "five"}, data.Segments); diff != "" {
		t.Errorf("only active segments should load (-want +got):\n%s", diff)
	}

	mem := `{"counter":2}`
	bucket := 980
	shard := "hello"
	err = s.SaveRuntimeData(ctx, "u1", &storage.RuntimeUpdate{
		Memory:            &mem,
		Segments:          map[int]string{7: "seven"},
		ActiveSegments:    []int{0, 7},
		InterShardSegment: &shard,
		CPUBucket:         &bucket,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err = s.LoadRuntimeData(ctx, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if data.Memory != mem || data.CPUBucket != 980 || data.InterShardSegment != shard {
		t.Errorf("runtime not saved: %+v", data)
	}
	if diff := cmp.Diff(map[int]string{0: "zero", 7: "seven"}, data.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UnknownUser(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LoadRuntimeData(t.Context(), "ghost"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.SaveRuntimeData(t.Context(), "ghost", &storage.RuntimeUpdate{}); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound on save, got %v", err)
	}
}

func TestStore_ActiveLists(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	users, err := s.ActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if diff := cmp.Diff([]string{"u1"}, users); diff != "" {
		t.Errorf("active users (-want +got):\n%s", diff)
	}
	rooms, err := s.ActiveRoomNames(ctx)
	if err != nil {
		t.Fatalf("active rooms: %v", err)
	}
	if diff := cmp.Diff([]string{"W1N1"}, rooms); diff != "" {
		t.Errorf("active rooms (-want +got):\n%s", diff)
	}
}

func TestStore_RoomReads(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	info, err := s.LoadRoom(ctx, "W1N1")
	if err != nil || !info.Active {
		t.Fatalf("load room: %+v %v", info, err)
	}
	if _, err := s.LoadRoom(ctx, "E9S9"); !errors.Is(err, storage.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	objs, err := s.LoadObjects(ctx, "W1N1")
	if err != nil {
		t.Fatalf("load objects: %v", err)
	}
	if len(objs) != 1 || objs["c1"] == nil || objs["c1"].Hits != 100 {
		t.Errorf("unexpected objects %+v", objs)
	}

	terrain, err := s.LoadTerrain(ctx, "W1N1")
	if err != nil || len(terrain) != types.TileCount {
		t.Errorf("terrain: len=%d err=%v", len(terrain), err)
	}
	if missing, _ := s.LoadTerrain(ctx, "W2N1"); missing != nil {
		t.Errorf("expected nil terrain, got %d bytes", len(missing))
	}
	all, _ := s.LoadAllTerrain(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 terrain entry, got %d", len(all))
	}

	_ = s.PutFlags(ctx, types.Flag{Room: "W1N1", Name: "home", User: "u1", X: 3, Y: 4})
	flags, err := s.LoadFlags(ctx, "W1N1")
	if err != nil || len(flags) != 1 || flags[0].ID != "u1/home" {
		t.Errorf("unexpected flags %+v (%v)", flags, err)
	}
}

func TestStore_Intents(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	in := types.UserIntents{
		types.IntentMove: {{ActorID: "c1", Payload: map[string]any{"direction": 3}}},
	}
	if err := s.SaveRoomIntents(ctx, "W1N1", "u1", in); err != nil {
		t.Fatalf("save intents: %v", err)
	}
	_ = s.SaveRoomIntents(ctx, "W2N1", "u2", types.UserIntents{types.IntentSay: {{ActorID: "c2"}}})

	rooms, _ := s.RoomsWithIntents(ctx)
	if diff := cmp.Diff([]string{"W1N1", "W2N1"}, rooms); diff != "" {
		t.Errorf("rooms with intents (-want +got):\n%s", diff)
	}

	got, err := s.LoadRoomIntents(ctx, "W1N1")
	if err != nil {
		t.Fatalf("load intents: %v", err)
	}
	if got.Count() != 1 || got["u1"][types.IntentMove][0].ActorID != "c1" {
		t.Errorf("unexpected intents %+v", got)
	}

	_ = s.ClearRoomIntents(ctx, "W1N1")
	got, _ = s.LoadRoomIntents(ctx, "W1N1")
	if got.Count() != 0 {
		t.Errorf("expected no intents after clear, got %d", got.Count())
	}
}

func TestStore_GlobalIntents(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	empty, err := s.LoadGlobalIntents(ctx, "u1")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty globals, got %v (%v)", empty, err)
	}
	_ = s.SaveGlobalIntents(ctx, "u1", map[string][]map[string]any{"notify": {{"message": "hi"}}})
	got, err := s.LoadGlobalIntents(ctx, "u1")
	if err != nil {
		t.Fatalf("load globals: %v", err)
	}
	if got["notify"][0]["message"] != "hi" {
		t.Errorf("unexpected globals %v", got)
	}
}

func TestStore_BulkWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	batch := &bulk.Batch{
		ID:         "b1",
		Collection: bulk.CollectionObjects,
		Ops: []bulk.Operation{
			{Kind: bulk.OpUpdate, ID: "c1", Set: map[string]any{"x": 11, "fatigue": 2}},
			{Kind: bulk.OpIncrement, ID: "c1", Field: "hits", Amount: -10},
			{Kind: bulk.OpInsert, ID: "s1", Doc: map[string]any{"_id": "s1", "type": "source", "room": "W1N1", "x": 5, "y": 5}},
			{Kind: bulk.OpRemove, ID: "c2"},
			{Kind: bulk.OpUpdate, ID: "missing", Set: map[string]any{"x": 1}},
		},
	}
	if err := s.BulkWrite(ctx, batch); err != nil {
		t.Fatalf("bulk write: %v", err)
	}

	objs, _ := s.LoadObjects(ctx, "W1N1")
	c1 := objs["c1"]
	if c1 == nil || c1.X != 11 || c1.Fatigue != 2 || c1.Hits != 90 {
		t.Errorf("c1 not updated: %+v", c1)
	}
	if objs["s1"] == nil || objs["s1"].Type != types.ObjectSource {
		t.Errorf("s1 not inserted: %+v", objs)
	}
	if gone, _ := s.LoadObjects(ctx, "W2N1"); len(gone) != 0 {
		t.Errorf("c2 not removed: %+v", gone)
	}
	if _, ok := objs["missing"]; ok {
		t.Error("update of unknown id must not create a document")
	}
}

func TestStore_BulkWriteMovesRoomIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	err := s.BulkWrite(ctx, &bulk.Batch{Collection: bulk.CollectionObjects, Ops: []bulk.Operation{
		{Kind: bulk.OpUpdate, ID: "c1", Set: map[string]any{"room": "W2N1"}},
	}})
	if err != nil {
		t.Fatalf("bulk write: %v", err)
	}
	if objs, _ := s.LoadObjects(ctx, "W2N1"); objs["c1"] == nil {
		t.Errorf("expected c1 in W2N1, got %+v", objs)
	}
}

func TestStore_BulkWriteUnknownCollection(t *testing.T) {
	s := openTestStore(t)
	err := s.BulkWrite(t.Context(), &bulk.Batch{Collection: "market.orders"})
	if !errors.Is(err, storage.ErrUnknownCollection) {
		t.Errorf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestStore_GameTime(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if gt, _ := s.GameTime(ctx); gt != 1 {
		t.Errorf("expected initial game time 1, got %d", gt)
	}
	_ = s.SetGameTime(ctx, 41)
	next, err := s.AdvanceGameTime(ctx)
	if err != nil || next != 42 {
		t.Errorf("expected 42, got %d (%v)", next, err)
	}
}

func TestStore_InvalidTerrain(t *testing.T) {
	s := openTestStore(t)
	err := s.PutRoom(t.Context(), &types.RoomInfo{ID: "E1S1"}, []byte{1, 2, 3})
	if !errors.Is(err, storage.ErrInvalidTerrain) {
		t.Errorf("expected ErrInvalidTerrain, got %v", err)
	}
}

func TestStore_SeedApply(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	seed, err := storage.ParseSeed([]byte(`
gameTime: 100
users:
  - id: u1
    username: alice
    cpu: 20
    active: true
    modules:
      main: "module.exports.loop = function() {}"
rooms:
  - name: W1N1
    active: true
    objects:
      - type: source
        x: 10
        y: 10
`))
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	if err := seed.Apply(t.Context(), s); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if gt, _ := s.GameTime(t.Context()); gt != 100 {
		t.Errorf("expected game time 100, got %d", gt)
	}
	objs, _ := s.LoadObjects(t.Context(), "W1N1")
	if len(objs) != 1 {
		t.Errorf("expected 1 seeded object, got %d", len(objs))
	}
}
