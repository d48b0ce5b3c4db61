package types

// Room geometry.
const (
	RoomSize  = 50
	TileCount = RoomSize * RoomSize
)

// Terrain mask bits. A tile with neither bit set is plain.
const (
	TerrainWall  byte = 1
	TerrainSwamp byte = 2
)

// Object types.
const (
	ObjectCreep            = "creep"
	ObjectSpawn            = "spawn"
	ObjectExtension        = "extension"
	ObjectSource           = "source"
	ObjectController       = "controller"
	ObjectRoad             = "road"
	ObjectContainer        = "container"
	ObjectRampart          = "rampart"
	ObjectWall             = "constructedWall"
	ObjectTower            = "tower"
	ObjectStorage          = "storage"
	ObjectConstructionSite = "constructionSite"
	ObjectResource         = "energy"
	ObjectTombstone        = "tombstone"
)

// Body part types.
const (
	PartMove         = "move"
	PartWork         = "work"
	PartCarry        = "carry"
	PartAttack       = "attack"
	PartRangedAttack = "ranged_attack"
	PartHeal         = "heal"
	PartTough        = "tough"
	PartClaim        = "claim"
)

// BodyPartCost is the energy cost of each body part type.
var BodyPartCost = map[string]int{
	PartMove:         50,
	PartWork:         100,
	PartCarry:        50,
	PartAttack:       80,
	PartRangedAttack: 150,
	PartHeal:         250,
	PartTough:        10,
	PartClaim:        600,
}

// ResourceEnergy is the base resource.
const ResourceEnergy = "energy"

// NPCInvaderUser is the reserved user id that owns invader creeps.
const NPCInvaderUser = "2"

// Position is a tile in a named room.
type Position struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Room string `json:"roomName"`
}

// BodyPart is one segment of a creep body.
type BodyPart struct {
	Type string `json:"type" msgpack:"type"`
	Hits int    `json:"hits" msgpack:"hits"`
}

// SpawnOrder is the creep a spawn is currently producing.
type SpawnOrder struct {
	Name      string `json:"name" msgpack:"name"`
	NeedTime  int64  `json:"needTime" msgpack:"needTime"`
	SpawnTime int64  `json:"spawnTime" msgpack:"spawnTime"`
}

// RoomObject is the storage document of anything placed on a room tile.
// JSON names are the document field names used by bulk-writer deltas.
type RoomObject struct {
	ID      string `json:"_id"`
	Type    string `json:"type"`
	Room    string `json:"room"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	User    string `json:"user,omitempty"`
	Name    string `json:"name,omitempty"`
	Hits    int    `json:"hits,omitempty"`
	HitsMax int    `json:"hitsMax,omitempty"`

	Body          []BodyPart     `json:"body,omitempty"`
	Store         map[string]int `json:"store,omitempty"`
	StoreCapacity int            `json:"storeCapacity,omitempty"`
	Fatigue       int            `json:"fatigue,omitempty"`
	Spawning      bool           `json:"spawning,omitempty"`
	SpawnOrder    *SpawnOrder    `json:"spawnOrder,omitempty"`
	// AgeTime is the game time at which a creep dies of old age.
	AgeTime int64 `json:"ageTime,omitempty"`
	// DecayTime is the next game time a decaying object loses hits or amount.
	DecayTime int64  `json:"decayTime,omitempty"`
	Saying    string `json:"saying,omitempty"`

	Level         int   `json:"level,omitempty"`
	Progress      int   `json:"progress,omitempty"`
	ProgressTotal int   `json:"progressTotal,omitempty"`
	DowngradeTime int64 `json:"downgradeTime,omitempty"`
	// SafeMode is the game time until which safe mode is active.
	SafeMode int64 `json:"safeMode,omitempty"`

	Energy               int   `json:"energy,omitempty"`
	EnergyCapacity       int   `json:"energyCapacity,omitempty"`
	NextRegenerationTime int64 `json:"nextRegenerationTime,omitempty"`
	CooldownTime         int64 `json:"cooldownTime,omitempty"`

	ResourceType  string `json:"resourceType,omitempty"`
	Amount        int    `json:"amount,omitempty"`
	StructureType string `json:"structureType,omitempty"`
	IsPublic      bool   `json:"isPublic,omitempty"`
}

// Pos returns the object position.
func (o *RoomObject) Pos() Position {
	return Position{X: o.X, Y: o.Y, Room: o.Room}
}

// ActiveParts counts body parts of the given type that still have hits.
func (o *RoomObject) ActiveParts(partType string) int {
	n := 0
	for _, p := range o.Body {
		if p.Type == partType && p.Hits > 0 {
			n++
		}
	}
	return n
}

// StoreTotal sums every resource held.
func (o *RoomObject) StoreTotal() int {
	total := 0
	for _, v := range o.Store {
		total += v
	}
	return total
}

// FreeCapacity is the space left in the store.
func (o *RoomObject) FreeCapacity() int {
	free := o.StoreCapacity - o.StoreTotal()
	if free < 0 {
		return 0
	}
	return free
}

// HasStore reports whether the object can hold resources.
func (o *RoomObject) HasStore() bool {
	return o.StoreCapacity > 0 || o.Store != nil
}

// IsStructure reports whether the object is a built structure.
func (o *RoomObject) IsStructure() bool {
	switch o.Type {
	case ObjectSpawn, ObjectExtension, ObjectRoad, ObjectContainer, ObjectRampart,
		ObjectWall, ObjectTower, ObjectStorage, ObjectController:
		return true
	}
	return false
}

// RoomInfo is the room document.
type RoomInfo struct {
	ID     string `json:"_id"`
	Status string `json:"status"`
	Active bool   `json:"active"`
	// InvaderGoal counts energy harvested toward the next invader wave.
	InvaderGoal int         `json:"invaderGoal,omitempty"`
	EventLog    []RoomEvent `json:"eventLog,omitempty"`
}

// User is the subset of a user document the processor needs.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	// CPU is the per-tick CPU limit in milliseconds.
	CPU int `json:"cpu"`
	// CPUAvailable is the banked CPU bucket.
	CPUAvailable int  `json:"cpuAvailable"`
	Active       bool `json:"active"`
}

// Flag is a tenant marker placed on a tile.
type Flag struct {
	ID    string `json:"_id,omitempty"`
	Room  string `json:"room"`
	Name  string `json:"name"`
	User  string `json:"user"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color int    `json:"color"`
}

// RoomEvent records one applied action for the room event log.
type RoomEvent struct {
	Event    string         `json:"event"`
	ObjectID string         `json:"objectId"`
	Data     map[string]any `json:"data,omitempty"`
}

// RoomState is the per-tick snapshot of one room. It is read at the start of
// processing, mutated only by processor steps and discarded afterwards.
type RoomState struct {
	Room     *RoomInfo
	GameTime int64
	Objects  map[string]*RoomObject
	Users    map[string]*User
	// Intents holds the pending intents of every user for this room.
	Intents  RoomIntents
	Terrain  []byte
	Flags    []Flag
	EventLog []RoomEvent
}

// TerrainAt returns the terrain mask at x,y. Out of range tiles are walls.
func (s *RoomState) TerrainAt(x, y int) byte {
	if x < 0 || y < 0 || x >= RoomSize || y >= RoomSize || len(s.Terrain) != TileCount {
		return TerrainWall
	}
	return s.Terrain[y*RoomSize+x]
}

// ObjectsAt lists the objects on a tile.
func (s *RoomState) ObjectsAt(x, y int) []*RoomObject {
	var out []*RoomObject
	for _, o := range s.Objects {
		if o.X == x && o.Y == y {
			out = append(out, o)
		}
	}
	return out
}

// Controller returns the room controller, or nil.
func (s *RoomState) Controller() *RoomObject {
	for _, o := range s.Objects {
		if o.Type == ObjectController {
			return o
		}
	}
	return nil
}

// AddEvent appends to the event log of the current tick.
func (s *RoomState) AddEvent(event, objectID string, data map[string]any) {
	s.EventLog = append(s.EventLog, RoomEvent{Event: event, ObjectID: objectID, Data: data})
}
