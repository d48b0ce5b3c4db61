package processor

import (
	"context"
	"fmt"

	"github.com/pithecene-io/colony/pathfinder"
	"github.com/pithecene-io/colony/types"
)

// npcSearchOps bounds the path search of one invader.
const npcSearchOps = 500

// NPCStep drives invader creeps. Each invader picks the nearest hostile
// creep, attacks it when adjacent and otherwise steps toward it. The
// decisions are submitted as ordinary intents and validated like any other.
type NPCStep struct {
	pf *pathfinder.Service
}

// NewNPCStep creates the step. A nil service gets a private one.
func NewNPCStep(pf *pathfinder.Service) *NPCStep {
	if pf == nil {
		pf = pathfinder.New()
	}
	return &NPCStep{pf: pf}
}

// Name implements Step.
func (*NPCStep) Name() string { return StepNPC }

// Process implements Step.
func (s *NPCStep) Process(_ context.Context, rc *RoomContext) error {
	var invaders []*types.RoomObject
	for _, o := range rc.SortedObjects() {
		if o.Type == types.ObjectCreep && o.User == types.NPCInvaderUser && !o.Spawning && o.Hits > 0 {
			invaders = append(invaders, o)
		}
	}
	if len(invaders) == 0 {
		return nil
	}

	room := rc.State.Room.ID
	if !s.pf.HasRoom(room) {
		if err := s.pf.SetRoomTerrain(room, rc.State.Terrain); err != nil {
			return fmt.Errorf("register terrain: %w", err)
		}
	}

	intents := rc.State.Intents[types.NPCInvaderUser]
	if intents == nil {
		intents = make(types.UserIntents)
	}
	for _, inv := range invaders {
		target := nearestHostile(rc, inv)
		if target == nil {
			continue
		}
		if types.ChebyshevDistance(inv.X, inv.Y, target.X, target.Y) <= 1 && inv.ActiveParts(types.PartAttack) > 0 {
			intents[types.IntentAttack] = append(intents[types.IntentAttack], types.IntentRecord{
				ActorID: inv.ID,
				Payload: map[string]any{"id": target.ID},
			})
			continue
		}
		dir, err := s.stepToward(rc, inv, target)
		if err != nil {
			return err
		}
		if dir == 0 {
			continue
		}
		intents[types.IntentMove] = append(intents[types.IntentMove], types.IntentRecord{
			ActorID: inv.ID,
			Payload: map[string]any{"direction": float64(dir)},
		})
	}
	if len(intents) > 0 {
		rc.State.Intents[types.NPCInvaderUser] = intents
	}
	return nil
}

func nearestHostile(rc *RoomContext, inv *types.RoomObject) *types.RoomObject {
	var best *types.RoomObject
	bestDist := 0
	for _, o := range rc.SortedObjects() {
		if o.Type != types.ObjectCreep || o.User == types.NPCInvaderUser || o.Spawning {
			continue
		}
		d := types.ChebyshevDistance(inv.X, inv.Y, o.X, o.Y)
		if best == nil || d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

// stepToward returns the first direction of a path from inv to target, or 0.
func (s *NPCStep) stepToward(rc *RoomContext, inv, target *types.RoomObject) (int, error) {
	var blocked pathfinder.CostMatrix
	for _, o := range rc.State.Objects {
		if o.ID != inv.ID && o.ID != target.ID && blocksMovement(o, inv.User) {
			blocked.Set(o.X, o.Y, pathfinder.Blocked)
		}
	}
	room := rc.State.Room.ID
	res, err := s.pf.Search(inv.Pos(), []pathfinder.Goal{{Pos: target.Pos(), Range: 1}}, pathfinder.Options{
		MaxOps:       npcSearchOps,
		MaxRooms:     1,
		CostMatrices: map[string]*pathfinder.CostMatrix{room: &blocked},
	})
	if err != nil {
		return 0, fmt.Errorf("invader path: %w", err)
	}
	if len(res.Path) == 0 {
		return 0, nil
	}
	return pathfinder.DirectionTo(inv.Pos(), res.Path[0]), nil
}
