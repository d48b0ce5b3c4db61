// Package pathfinder runs A* searches over cached per-room terrain. Searches
// may cross room edges into neighbouring rooms that have terrain loaded.
package pathfinder

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/pithecene-io/colony/types"
)

// Defaults.
const (
	DefaultPlainCost = 1
	DefaultSwampCost = 5
	DefaultRoadCost  = 1
	DefaultMaxOps    = 2000
	DefaultMaxRooms  = 16
	// MaxRoomsLimit caps Options.MaxRooms.
	MaxRoomsLimit = 64
)

// Blocked marks an impassable tile in a CostMatrix.
const Blocked = 255

// CostMatrix overrides terrain costs for one room. Zero means "use terrain".
type CostMatrix [types.TileCount]byte

// Set sets the cost at x,y.
func (m *CostMatrix) Set(x, y int, cost byte) {
	if x < 0 || y < 0 || x >= types.RoomSize || y >= types.RoomSize {
		return
	}
	m[y*types.RoomSize+x] = cost
}

// Get returns the cost at x,y.
func (m *CostMatrix) Get(x, y int) byte {
	if x < 0 || y < 0 || x >= types.RoomSize || y >= types.RoomSize {
		return 0
	}
	return m[y*types.RoomSize+x]
}

// Goal is a target position and the range at which it counts as reached.
type Goal struct {
	Pos   types.Position `json:"pos"`
	Range int            `json:"range"`
}

// Options tunes a search. Zero values take the defaults.
type Options struct {
	PlainCost int
	SwampCost int
	RoadCost  int
	// Roads lists road tiles per room.
	Roads map[string][]types.Position
	// CostMatrices override terrain per room.
	CostMatrices map[string]*CostMatrix
	MaxOps       int
	MaxRooms     int
	// MaxCost aborts the search once the cheapest open path exceeds it. Zero disables.
	MaxCost int
	// Flee searches for a path out of range of every goal.
	Flee bool
	// HeuristicWeight scales the heuristic. Values above 1 trade optimality for speed.
	HeuristicWeight float64
}

func (o Options) withDefaults() Options {
	if o.PlainCost <= 0 {
		o.PlainCost = DefaultPlainCost
	}
	if o.SwampCost <= 0 {
		o.SwampCost = DefaultSwampCost
	}
	if o.RoadCost <= 0 {
		o.RoadCost = DefaultRoadCost
	}
	if o.MaxOps <= 0 {
		o.MaxOps = DefaultMaxOps
	}
	if o.MaxRooms <= 0 {
		o.MaxRooms = DefaultMaxRooms
	}
	o.MaxRooms = min(o.MaxRooms, MaxRoomsLimit)
	if o.HeuristicWeight <= 0 {
		o.HeuristicWeight = 1
	}
	return o
}

// Result is the outcome of a search. Path excludes the origin.
// Incomplete is a normal outcome: the budget ran out or no route exists,
// and Path leads to the closest tile reached.
type Result struct {
	Path       []types.Position `json:"path"`
	Ops        int              `json:"ops"`
	Cost       int              `json:"cost"`
	Incomplete bool             `json:"incomplete"`
}

// Service holds terrain for every known room. Safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	terrain map[string][]byte
}

// New creates an empty service.
func New() *Service {
	return &Service{terrain: make(map[string][]byte)}
}

// Initialize replaces the terrain of every room in data.
func (s *Service) Initialize(data map[string][]byte) error {
	for room, t := range data {
		if err := s.SetRoomTerrain(room, t); err != nil {
			return err
		}
	}
	return nil
}

// SetRoomTerrain stores one room's terrain grid.
func (s *Service) SetRoomTerrain(room string, terrain []byte) error {
	if len(terrain) != types.TileCount {
		return fmt.Errorf("room %s: terrain has %d bytes, want %d", room, len(terrain), types.TileCount)
	}
	if _, _, err := ParseRoomName(room); err != nil {
		return err
	}
	cp := make([]byte, types.TileCount)
	copy(cp, terrain)
	s.mu.Lock()
	s.terrain[room] = cp
	s.mu.Unlock()
	return nil
}

// Rooms returns the number of rooms with terrain.
func (s *Service) Rooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.terrain)
}

// HasRoom reports whether terrain is loaded for room.
func (s *Service) HasRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.terrain[room]
	return ok
}

// Search finds a path from origin toward the goals.
// Only an unparseable room name is an error.
func (s *Service) Search(origin types.Position, goals []Goal, opts Options) (Result, error) {
	opts = opts.withDefaults()

	start, err := toWorld(origin)
	if err != nil {
		return Result{}, err
	}
	targets := make([]target, 0, len(goals))
	for _, g := range goals {
		w, err := toWorld(g.Pos)
		if err != nil {
			return Result{}, err
		}
		targets = append(targets, target{pos: w, rng: max(g.Range, 0)})
	}
	if len(targets) == 0 {
		return Result{Incomplete: true}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr := &search{
		svc:     s,
		opts:    opts,
		targets: targets,
		rooms:   make(map[[2]int]*roomGrid),
		roads:   indexRoads(opts.Roads),
	}
	return sr.run(start), nil
}

type target struct {
	pos worldPos
	rng int
}

type roomGrid struct {
	terrain []byte
	matrix  *CostMatrix
}

type search struct {
	svc     *Service
	opts    Options
	targets []target
	rooms   map[[2]int]*roomGrid
	roads   map[worldPos]struct{}
}

func indexRoads(roads map[string][]types.Position) map[worldPos]struct{} {
	out := make(map[worldPos]struct{})
	for room, tiles := range roads {
		for _, t := range tiles {
			if t.Room == "" {
				t.Room = room
			}
			if w, err := toWorld(t); err == nil {
				out[w] = struct{}{}
			}
		}
	}
	return out
}

// grid returns the room grid for rx,ry, or nil when the room has no terrain
// or would exceed the room budget.
func (sr *search) grid(rx, ry int) *roomGrid {
	key := [2]int{rx, ry}
	if g, ok := sr.rooms[key]; ok {
		return g
	}
	if len(sr.rooms) >= sr.opts.MaxRooms {
		return nil
	}
	name := RoomName(rx, ry)
	terrain, ok := sr.svc.terrain[name]
	if !ok {
		sr.rooms[key] = nil
		return nil
	}
	g := &roomGrid{terrain: terrain, matrix: sr.opts.CostMatrices[name]}
	sr.rooms[key] = g
	return g
}

// cost returns the cost of entering w, or -1 when impassable.
func (sr *search) cost(w worldPos) int {
	g := sr.grid(w.room())
	if g == nil {
		return -1
	}
	x, y := w.local()
	if g.matrix != nil {
		switch c := g.matrix.Get(x, y); {
		case c == Blocked:
			return -1
		case c > 0:
			return int(c)
		}
	}
	t := g.terrain[y*types.RoomSize+x]
	if t&types.TerrainWall != 0 {
		return -1
	}
	if _, ok := sr.roads[w]; ok {
		return sr.opts.RoadCost
	}
	if t&types.TerrainSwamp != 0 {
		return sr.opts.SwampCost
	}
	return sr.opts.PlainCost
}

// heuristic is zero exactly when w satisfies the goals.
func (sr *search) heuristic(w worldPos) int {
	if sr.opts.Flee {
		h := 0
		for _, t := range sr.targets {
			if d := w.distance(t.pos); d < t.rng {
				h = max(h, t.rng-d)
			}
		}
		return h
	}
	h := -1
	for _, t := range sr.targets {
		d := max(w.distance(t.pos)-t.rng, 0)
		if h < 0 || d < h {
			h = d
		}
	}
	return h
}

type node struct {
	pos    worldPos
	g      int
	h      int
	f      float64
	index  int
	parent *node
}

type openSet []*node

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, j int) bool {
	if o[i].f == o[j].f {
		return o[i].h < o[j].h
	}
	return o[i].f < o[j].f
}

func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*o)
	*o = append(*o, n)
}

func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	n.index = -1
	*o = old[:len(old)-1]
	return n
}

var neighbours = [8][2]int{{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}

func (sr *search) run(start worldPos) Result {
	open := &openSet{}
	heap.Init(open)

	// Origin room counts toward the room budget even without terrain.
	sr.grid(start.room())

	root := &node{pos: start, h: sr.heuristic(start)}
	root.f = float64(root.h) * sr.opts.HeuristicWeight
	heap.Push(open, root)
	gScore := map[worldPos]int{start: 0}
	closed := make(map[worldPos]struct{})
	best := root
	ops := 0

	for open.Len() > 0 {
		current := heap.Pop(open).(*node)
		if _, seen := closed[current.pos]; seen {
			continue
		}
		if current.h == 0 {
			return Result{Path: pathTo(current), Ops: ops, Cost: current.g}
		}
		if sr.opts.MaxCost > 0 && current.g > sr.opts.MaxCost {
			break
		}
		if ops >= sr.opts.MaxOps {
			break
		}
		ops++
		closed[current.pos] = struct{}{}
		if current.h < best.h || (current.h == best.h && current.g < best.g) {
			best = current
		}

		for _, d := range neighbours {
			next := worldPos{x: current.pos.x + d[0], y: current.pos.y + d[1]}
			if _, seen := closed[next]; seen {
				continue
			}
			c := sr.cost(next)
			if c < 0 {
				continue
			}
			g := current.g + c
			if prev, ok := gScore[next]; ok && g >= prev {
				continue
			}
			gScore[next] = g
			h := sr.heuristic(next)
			heap.Push(open, &node{
				pos:    next,
				g:      g,
				h:      h,
				f:      float64(g) + float64(h)*sr.opts.HeuristicWeight,
				parent: current,
			})
		}
	}
	return Result{Path: pathTo(best), Ops: ops, Cost: best.g, Incomplete: true}
}

func pathTo(end *node) []types.Position {
	var rev []worldPos
	for n := end; n != nil && n.parent != nil; n = n.parent {
		rev = append(rev, n.pos)
	}
	path := make([]types.Position, len(rev))
	for i, w := range rev {
		path[len(rev)-1-i] = w.position()
	}
	return path
}
