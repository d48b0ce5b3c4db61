package processor

import (
	"maps"
	"slices"

	"github.com/pithecene-io/colony/types"
)

// updateStore stages the store of o.
func (rc *RoomContext) updateStore(o *types.RoomObject) {
	rc.Update(o, map[string]any{"store": maps.Clone(o.Store)})
}

// addResource moves amount of res into o's store.
func addResource(o *types.RoomObject, res string, amount int) {
	if o.Store == nil {
		o.Store = make(map[string]int)
	}
	o.Store[res] += amount
}

// takeResource removes amount of res from o's store.
func takeResource(o *types.RoomObject, res string, amount int) {
	o.Store[res] -= amount
	if o.Store[res] <= 0 {
		delete(o.Store, res)
	}
}

// dropResource piles amount of res on a tile, merging with an existing pile.
func (rc *RoomContext) dropResource(x, y int, res string, amount int) error {
	if amount <= 0 {
		return nil
	}
	for _, o := range rc.State.ObjectsAt(x, y) {
		if o.Type == types.ObjectResource && o.ResourceType == res {
			o.Amount += amount
			rc.Update(o, map[string]any{"amount": o.Amount})
			return nil
		}
	}
	return rc.Insert(&types.RoomObject{
		Type:         types.ObjectResource,
		X:            x,
		Y:            y,
		ResourceType: res,
		Amount:       amount,
	})
}

// kill removes a creep and drops what it carried.
func (rc *RoomContext) kill(o *types.RoomObject, cause string) error {
	for _, res := range slices.Sorted(maps.Keys(o.Store)) {
		if err := rc.dropResource(o.X, o.Y, res, o.Store[res]); err != nil {
			return err
		}
	}
	rc.Remove(o)
	rc.State.AddEvent(EventCreepDied, o.ID, map[string]any{"user": o.User, "cause": cause})
	return nil
}

// destroy removes any object whose hits reached zero.
func (rc *RoomContext) destroy(o *types.RoomObject, cause string) error {
	if o.Type == types.ObjectCreep {
		return rc.kill(o, cause)
	}
	for _, res := range slices.Sorted(maps.Keys(o.Store)) {
		if err := rc.dropResource(o.X, o.Y, res, o.Store[res]); err != nil {
			return err
		}
	}
	rc.Remove(o)
	rc.State.AddEvent(EventObjectDestroyed, o.ID, map[string]any{"type": o.Type, "cause": cause})
	return nil
}

// damage subtracts hits from o, front body parts first for creeps, and
// destroys it at zero.
func (rc *RoomContext) damage(o *types.RoomObject, amount int, cause string) error {
	if amount <= 0 {
		return nil
	}
	o.Hits -= amount
	if o.Hits <= 0 {
		return rc.destroy(o, cause)
	}
	delta := map[string]any{"hits": o.Hits}
	if len(o.Body) > 0 {
		left := amount
		for i := range o.Body {
			if left == 0 {
				break
			}
			taken := min(o.Body[i].Hits, left)
			o.Body[i].Hits -= taken
			left -= taken
		}
		delta["body"] = slices.Clone(o.Body)
	}
	rc.Update(o, delta)
	return nil
}

// heal restores hits, back body parts first.
func (rc *RoomContext) heal(o *types.RoomObject, amount int) {
	amount = min(amount, o.HitsMax-o.Hits)
	if amount <= 0 {
		return
	}
	o.Hits += amount
	delta := map[string]any{"hits": o.Hits}
	if len(o.Body) > 0 {
		left := amount
		for i := len(o.Body) - 1; i >= 0 && left > 0; i-- {
			restored := min(BodyPartHits-o.Body[i].Hits, left)
			o.Body[i].Hits += restored
			left -= restored
		}
		delta["body"] = slices.Clone(o.Body)
	}
	rc.Update(o, delta)
}

// walkable reports whether a creep of userID may enter x,y.
func (rc *RoomContext) walkable(x, y int, userID string) bool {
	if x < 0 || y < 0 || x >= types.RoomSize || y >= types.RoomSize {
		return false
	}
	if rc.State.TerrainAt(x, y)&types.TerrainWall != 0 {
		return false
	}
	for _, o := range rc.State.ObjectsAt(x, y) {
		if blocksMovement(o, userID) {
			return false
		}
	}
	return true
}

func blocksMovement(o *types.RoomObject, userID string) bool {
	switch o.Type {
	case types.ObjectCreep:
		return true
	case types.ObjectRoad, types.ObjectContainer, types.ObjectResource,
		types.ObjectConstructionSite, types.ObjectTombstone:
		return false
	case types.ObjectRampart:
		return o.User != userID && !o.IsPublic
	}
	return o.IsStructure() || o.Type == types.ObjectSource
}

// terrainFatigue is the fatigue per weighted part of entering x,y.
func (rc *RoomContext) terrainFatigue(x, y int) int {
	for _, o := range rc.State.ObjectsAt(x, y) {
		if o.Type == types.ObjectRoad {
			return 1
		}
	}
	if rc.State.TerrainAt(x, y)&types.TerrainSwamp != 0 {
		return 10
	}
	return 2
}

// creepWeight counts body parts that generate fatigue: everything but move
// parts and empty carry parts.
func creepWeight(o *types.RoomObject) int {
	carrying := o.StoreTotal()
	weight := 0
	for _, p := range o.Body {
		switch p.Type {
		case types.PartMove:
		case types.PartCarry:
			if carrying > 0 {
				weight++
				carrying -= CarryCapacity
			}
		default:
			weight++
		}
	}
	return weight
}
