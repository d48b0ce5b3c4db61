package pathfinder

import (
	"testing"

	"github.com/pithecene-io/colony/types"
)

func plainRoom() []byte {
	return make([]byte, types.TileCount)
}

func wallColumn(t []byte, x int, gapY int) {
	for y := range types.RoomSize {
		if y == gapY {
			continue
		}
		t[y*types.RoomSize+x] = types.TerrainWall
	}
}

func newService(t *testing.T, rooms map[string][]byte) *Service {
	t.Helper()
	s := New()
	if err := s.Initialize(rooms); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func pos(room string, x, y int) types.Position {
	return types.Position{X: x, Y: y, Room: room}
}

func TestSearch_SelfWithinRangeZero(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})

	res, err := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 10, 10)}}, Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Incomplete {
		t.Error("expected complete result")
	}
	if len(res.Path) != 0 {
		t.Errorf("expected empty path, got %v", res.Path)
	}
}

func TestSearch_StraightLine(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})

	res, err := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 15, 10)}}, Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Incomplete || len(res.Path) != 5 {
		t.Fatalf("expected 5-step complete path, got %+v", res)
	}
	if last := res.Path[len(res.Path)-1]; last != pos("W1N1", 15, 10) {
		t.Errorf("path ends at %+v", last)
	}
	if res.Cost != 5 {
		t.Errorf("expected cost 5, got %d", res.Cost)
	}
}

func TestSearch_RangeStopsEarly(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})

	res, _ := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 20, 10), Range: 3}}, Options{})
	if res.Incomplete || len(res.Path) != 7 {
		t.Fatalf("expected 7 steps to reach range 3, got %d (%+v)", len(res.Path), res)
	}
}

func TestSearch_AvoidsSwampWhenCheaper(t *testing.T) {
	terrain := plainRoom()
	for x := 11; x <= 14; x++ {
		terrain[10*types.RoomSize+x] = types.TerrainSwamp
	}
	s := newService(t, map[string][]byte{"W1N1": terrain})

	res, _ := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 15, 10)}}, Options{})
	if res.Incomplete {
		t.Fatal("expected complete path")
	}
	for _, p := range res.Path {
		if p.Y == 10 && p.X >= 11 && p.X <= 14 {
			t.Errorf("path crosses swamp at %+v", p)
		}
	}

	roads := map[string][]types.Position{"W1N1": {
		pos("W1N1", 11, 10), pos("W1N1", 12, 10), pos("W1N1", 13, 10), pos("W1N1", 14, 10),
	}}
	res, _ = s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 15, 10)}}, Options{Roads: roads})
	if res.Cost != 5 || len(res.Path) != 5 {
		t.Errorf("expected straight road path of cost 5, got %+v", res)
	}
}

func TestSearch_WallGap(t *testing.T) {
	terrain := plainRoom()
	wallColumn(terrain, 20, 40)
	s := newService(t, map[string][]byte{"W1N1": terrain})

	res, _ := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 30, 10)}}, Options{})
	if res.Incomplete {
		t.Fatal("expected path through the gap")
	}
	through := false
	for _, p := range res.Path {
		if p.X == 20 {
			if p.Y != 40 {
				t.Fatalf("path crosses wall at %+v", p)
			}
			through = true
		}
	}
	if !through {
		t.Error("expected path through x=20,y=40")
	}
}

func TestSearch_OpsBudgetIncomplete(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})

	res, _ := s.Search(pos("W1N1", 1, 1), []Goal{{Pos: pos("W1N1", 48, 48)}}, Options{MaxOps: 5})
	if !res.Incomplete {
		t.Fatal("expected incomplete result when ops run out")
	}
	if res.Ops > 5 {
		t.Errorf("expected at most 5 ops, got %d", res.Ops)
	}
	if len(res.Path) == 0 {
		t.Error("expected partial path toward the goal")
	}
}

func TestSearch_UnlinkedRoomsIncomplete(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom(), "E5S5": plainRoom()})

	res, err := s.Search(pos("W1N1", 25, 25), []Goal{{Pos: pos("E5S5", 25, 25)}}, Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.Incomplete {
		t.Error("expected incomplete result between unlinked rooms")
	}
}

func TestSearch_CrossesRoomEdge(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom(), "W0N1": plainRoom()})

	res, _ := s.Search(pos("W1N1", 47, 25), []Goal{{Pos: pos("W0N1", 2, 25)}}, Options{})
	if res.Incomplete {
		t.Fatalf("expected path across the edge, got %+v", res)
	}
	if len(res.Path) != 5 {
		t.Errorf("expected 5 steps, got %d", len(res.Path))
	}
	if res.Path[len(res.Path)-1].Room != "W0N1" {
		t.Errorf("expected to end in W0N1, got %+v", res.Path[len(res.Path)-1])
	}
}

func TestSearch_MaxRoomsBlocksNeighbour(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom(), "W0N1": plainRoom()})

	res, _ := s.Search(pos("W1N1", 47, 25), []Goal{{Pos: pos("W0N1", 2, 25)}}, Options{MaxRooms: 1})
	if !res.Incomplete {
		t.Error("expected incomplete result with a one-room budget")
	}
}

func TestSearch_CostMatrixBlocks(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})
	m := &CostMatrix{}
	for y := range types.RoomSize {
		m.Set(12, y, Blocked)
	}

	res, _ := s.Search(pos("W1N1", 10, 10), []Goal{{Pos: pos("W1N1", 15, 10)}},
		Options{CostMatrices: map[string]*CostMatrix{"W1N1": m}})
	if !res.Incomplete {
		t.Error("expected blocked column to make the goal unreachable")
	}
}

func TestSearch_Flee(t *testing.T) {
	s := newService(t, map[string][]byte{"W1N1": plainRoom()})

	origin := pos("W1N1", 25, 25)
	res, _ := s.Search(origin, []Goal{{Pos: origin, Range: 4}}, Options{Flee: true})
	if res.Incomplete {
		t.Fatal("expected flee to succeed")
	}
	end := res.Path[len(res.Path)-1]
	if d := types.ChebyshevDistance(end.X, end.Y, 25, 25); d < 4 {
		t.Errorf("flee ended at distance %d", d)
	}
	if len(res.Path) != 4 {
		t.Errorf("expected 4 steps, got %d", len(res.Path))
	}
}

func TestSearch_InvalidRoomName(t *testing.T) {
	s := New()
	if _, err := s.Search(pos("nowhere", 1, 1), []Goal{{Pos: pos("W1N1", 1, 1)}}, Options{}); err == nil {
		t.Error("expected error for invalid room name")
	}
}

func TestSetRoomTerrain_RejectsBadSize(t *testing.T) {
	if err := New().SetRoomTerrain("W1N1", []byte{0}); err == nil {
		t.Error("expected error for short terrain")
	}
}
