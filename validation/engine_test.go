package validation

import (
	"testing"

	"github.com/pithecene-io/colony/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func body(parts ...string) []types.BodyPart {
	out := make([]types.BodyPart, len(parts))
	for i, p := range parts {
		out[i] = types.BodyPart{Type: p, Hits: 100}
	}
	return out
}

func testRoom() *types.RoomState {
	objs := []*types.RoomObject{
		{ID: "c1", Type: types.ObjectCreep, X: 10, Y: 10, User: "u1", Hits: 300,
			Body:  body(types.PartWork, types.PartCarry, types.PartMove, types.PartAttack),
			Store: map[string]int{types.ResourceEnergy: 50}, StoreCapacity: 50},
		{ID: "c2", Type: types.ObjectCreep, X: 11, Y: 10, User: "u2", Hits: 100, Body: body(types.PartMove)},
		{ID: "src", Type: types.ObjectSource, X: 9, Y: 9, Energy: 3000, EnergyCapacity: 3000},
		{ID: "far", Type: types.ObjectSource, X: 30, Y: 30, Energy: 3000},
		{ID: "spawn1", Type: types.ObjectSpawn, X: 20, Y: 20, User: "u1", Hits: 5000,
			Store: map[string]int{types.ResourceEnergy: 300}, StoreCapacity: 300},
		{ID: "ctrl", Type: types.ObjectController, X: 12, Y: 12, User: "u1", Level: 1},
		{ID: "cont", Type: types.ObjectContainer, X: 11, Y: 11, Hits: 250,
			Store: map[string]int{types.ResourceEnergy: 100}, StoreCapacity: 2000},
	}
	state := &types.RoomState{
		Room:     &types.RoomInfo{ID: "W1N1"},
		GameTime: 100,
		Objects:  make(map[string]*types.RoomObject),
		Terrain:  make([]byte, types.TileCount),
	}
	for _, o := range objs {
		o.Room = "W1N1"
		state.Objects[o.ID] = o
	}
	return state
}

func rec(actor string, payload map[string]any) types.IntentRecord {
	return types.IntentRecord{ActorID: actor, Payload: payload}
}

func TestEngine_Validate(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name    string
		user    string
		intent  string
		record  types.IntentRecord
		mutate  func(s *types.RoomState)
		want    Code
		wantCat Category
	}{
		{name: "harvest ok", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{"id": "src"})},
		{name: "move ok", user: "u1", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 3})},
		{name: "unknown intent", user: "u1", intent: "teleport", record: rec("c1", nil),
			want: CodeUnknownIntentType, wantCat: CategorySchema},
		{name: "missing field", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{}),
			want: CodeInvalidPayload, wantCat: CategorySchema},
		{name: "wrong field type", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{"id": 7}),
			want: CodeInvalidFieldType, wantCat: CategorySchema},
		{name: "bad direction", user: "u1", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 9}),
			want: CodeInvalidEnumValue, wantCat: CategorySchema},
		{name: "negative amount", user: "u1", intent: types.IntentDrop,
			record: rec("c1", map[string]any{"resourceType": "energy", "amount": -5}),
			want:   CodeNegativeAmount, wantCat: CategorySchema},
		{name: "actor missing", user: "u1", intent: types.IntentMove, record: rec("ghost", map[string]any{"direction": 1}),
			want: CodeActorNotFound, wantCat: CategoryState},
		{name: "actor spawning", user: "u1", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 1}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Spawning = true },
			want:   CodeActorSpawning, wantCat: CategoryState},
		{name: "actor dead", user: "u1", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 1}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Hits = 0 },
			want:   CodeActorDead, wantCat: CategoryState},
		{name: "move off the room edge", user: "u1", intent: types.IntentMove,
			record: rec("c1", map[string]any{"direction": types.DirectionTop}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Y = 0 },
			want:   CodeOutOfBounds, wantCat: CategoryState},
		{name: "move along the room edge", user: "u1", intent: types.IntentMove,
			record: rec("c1", map[string]any{"direction": types.DirectionRight}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Y = 0 }},
		{name: "spawn name taken", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "worker", "body": []any{"move"}}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Name = "worker" },
			want:   CodeNameExists, wantCat: CategoryState},
		{name: "spawn name taken by spawning creep", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "worker", "body": []any{"move"}}),
			mutate: func(s *types.RoomState) {
				s.Objects["new"] = &types.RoomObject{ID: "new", Type: types.ObjectCreep, X: 20, Y: 20,
					User: "u1", Name: "worker", Hits: 100, Spawning: true}
			},
			want: CodeNameExists, wantCat: CategoryState},
		{name: "spawn name used by another user", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "worker", "body": []any{"move"}}),
			mutate: func(s *types.RoomState) { s.Objects["c2"].Name = "worker" }},
		{name: "target missing", user: "u1", intent: types.IntentAttack, record: rec("c1", map[string]any{"id": "nobody"}),
			want: CodeTargetNotFound, wantCat: CategoryState},
		{name: "wrong target type", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{"id": "c2"}),
			want: CodeInvalidTargetType, wantCat: CategoryState},
		{name: "target without store", user: "u1", intent: types.IntentTransfer,
			record: rec("c1", map[string]any{"id": "c2", "resourceType": "energy"}),
			want:   CodeTargetNoStore, wantCat: CategoryState},
		{name: "out of range", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{"id": "far"}),
			want: CodeOutOfRange, wantCat: CategoryRange},
		{name: "not owner", user: "u2", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 1}),
			want: CodeNotOwner, wantCat: CategoryPermission},
		{name: "safe mode", user: "u2", intent: types.IntentAttack, record: rec("c2", map[string]any{"id": "c1"}),
			mutate: func(s *types.RoomState) {
				s.Objects["c2"].Body = body(types.PartAttack)
				s.Objects["ctrl"].SafeMode = 500
			},
			want: CodeSafeModeActive, wantCat: CategoryPermission},
		{name: "rampart", user: "u1", intent: types.IntentAttack, record: rec("c1", map[string]any{"id": "c2"}),
			mutate: func(s *types.RoomState) {
				s.Objects["r1"] = &types.RoomObject{ID: "r1", Type: types.ObjectRampart, X: 11, Y: 10, User: "u2", Hits: 1000}
			},
			want: CodeBlockedByRampart, wantCat: CategoryPermission},
		{name: "hostile controller", user: "u1", intent: types.IntentUpgradeController,
			record: rec("c1", map[string]any{"id": "ctrl"}),
			mutate: func(s *types.RoomState) { s.Objects["ctrl"].User = "u2" },
			want:   CodeHostileController, wantCat: CategoryPermission},
		{name: "missing body part", user: "u1", intent: types.IntentHeal, record: rec("c1", map[string]any{"id": "c2"}),
			want: CodeMissingBodyPart, wantCat: CategoryResource},
		{name: "fatigued", user: "u1", intent: types.IntentMove, record: rec("c1", map[string]any{"direction": 1}),
			mutate: func(s *types.RoomState) { s.Objects["c1"].Fatigue = 2 },
			want:   CodeFatigued, wantCat: CategoryResource},
		{name: "source depleted", user: "u1", intent: types.IntentHarvest, record: rec("c1", map[string]any{"id": "src"}),
			mutate: func(s *types.RoomState) { s.Objects["src"].Energy = 0 },
			want:   CodeSourceDepleted, wantCat: CategoryResource},
		{name: "transfer more than held", user: "u1", intent: types.IntentTransfer,
			record: rec("c1", map[string]any{"id": "cont", "resourceType": "energy", "amount": 80}),
			want:   CodeInsufficientResource, wantCat: CategoryResource},
		{name: "withdraw into full creep", user: "u1", intent: types.IntentWithdraw,
			record: rec("c1", map[string]any{"id": "cont", "resourceType": "energy"}),
			want:   CodeInsufficientCapacity, wantCat: CategoryResource},
		{name: "spawn too expensive", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "big", "body": []any{"claim"}}),
			want:   CodeInsufficientResource, wantCat: CategoryResource},
		{name: "spawn ok", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "w1", "body": []any{"work", "carry", "move"}})},
		{name: "spawn cooldown", user: "u1", intent: types.IntentSpawn,
			record: rec("spawn1", map[string]any{"name": "w1", "body": []any{"move"}}),
			mutate: func(s *types.RoomState) { s.Objects["spawn1"].CooldownTime = 101 },
			want:   CodeOnCooldown, wantCat: CategoryResource},
		{name: "upgrade cooldown", user: "u1", intent: types.IntentUpgradeController,
			record: rec("c1", map[string]any{"id": "ctrl"}),
			mutate: func(s *types.RoomState) { s.Objects["ctrl"].CooldownTime = 200 },
			want:   CodeOnCooldown, wantCat: CategoryResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testRoom()
			if tt.mutate != nil {
				tt.mutate(state)
			}
			got := e.Validate(state, tt.user, tt.intent, tt.record)
			if tt.want == "" {
				if !got.Valid {
					t.Fatalf("expected accepted, got %s", got.Code)
				}
				return
			}
			if got.Valid || got.Code != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, got)
			}
			if got.Code.Category() != tt.wantCat {
				t.Errorf("expected category %s, got %s", tt.wantCat, got.Code.Category())
			}
		})
	}
}

func TestEngine_FirstStageWins(t *testing.T) {
	e := newTestEngine(t)
	state := testRoom()

	// Missing target (state) and foreign actor (permission) both fail.
	got := e.Validate(state, "u2", types.IntentAttack, rec("c1", map[string]any{"id": "nobody"}))
	if got.Code != CodeTargetNotFound {
		t.Errorf("expected TargetNotFound, got %s", got.Code)
	}

	// Bad schema and missing actor both fail.
	got = e.Validate(state, "u1", types.IntentMove, rec("ghost", map[string]any{"direction": "up"}))
	if got.Code != CodeInvalidFieldType {
		t.Errorf("expected InvalidFieldType, got %s", got.Code)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e := newTestEngine(t)
	state := testRoom()
	record := rec("c1", map[string]any{"id": 5, "resourceType": "gold", "amount": -1})

	first := e.Validate(state, "u1", types.IntentTransfer, record)
	for range 50 {
		if got := e.Validate(state, "u1", types.IntentTransfer, record); got != first {
			t.Fatalf("non-deterministic result: %+v vs %+v", got, first)
		}
	}
	if first.Code != CodeInvalidFieldType {
		t.Errorf("expected InvalidFieldType to outrank enum and minimum, got %s", first.Code)
	}
}

func TestEngine_AcceptsMsgpackIntegers(t *testing.T) {
	e := newTestEngine(t)
	got := e.Validate(testRoom(), "u1", types.IntentMove, rec("c1", map[string]any{"direction": int8(3)}))
	if !got.Valid {
		t.Errorf("expected small integer payloads to validate, got %s", got.Code)
	}
}

func TestEngine_DoesNotMutatePayload(t *testing.T) {
	e := newTestEngine(t)
	payload := map[string]any{"direction": int64(3)}
	e.Validate(testRoom(), "u1", types.IntentMove, rec("c1", payload))
	if _, ok := payload["direction"].(int64); !ok {
		t.Error("payload was rewritten in place")
	}
}

func TestEngine_Stages(t *testing.T) {
	e := newTestEngine(t)
	got := e.Stages()
	if len(got) != len(Categories) {
		t.Fatalf("expected %d stages, got %d", len(Categories), len(got))
	}
	for i := range got {
		if got[i] != Categories[i] {
			t.Errorf("stage %d: expected %s, got %s", i, Categories[i], got[i])
		}
	}
}

func TestEverySchemaCompiles(t *testing.T) {
	schemas, err := compileSchemas()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, intent := range Intents() {
		if schemas[intent] == nil {
			t.Errorf("no schema for %s", intent)
		}
	}
}
