package validation

import (
	"slices"

	"github.com/pithecene-io/colony/types"
)

// Check is the input of one validation call. Stages fill Actor and Target
// as they resolve them; a Check is never shared between calls.
type Check struct {
	State   *types.RoomState
	UserID  string
	Intent  string
	Rule    *Rule
	ActorID string
	// Payload is the normalized payload.
	Payload map[string]any

	Actor  *types.RoomObject
	Target *types.RoomObject
}

// Stage is one validator in the pipeline. It returns "" to pass.
type Stage interface {
	Category() Category
	Validate(c *Check) Code
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	Cat Category
	Fn  func(c *Check) Code
}

// Category implements Stage.
func (s StageFunc) Category() Category { return s.Cat }

// Validate implements Stage.
func (s StageFunc) Validate(c *Check) Code { return s.Fn(c) }

// String returns a payload string field.
func String(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns a payload numeric field.
func Int(p map[string]any, key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

// Strings returns a payload string-array field.
func Strings(p map[string]any, key string) []string {
	raw, _ := p[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stateStage(c *Check) Code {
	actor := c.State.Objects[c.ActorID]
	if actor == nil || !slices.Contains(c.Rule.ActorTypes, actor.Type) {
		return CodeActorNotFound
	}
	c.Actor = actor
	if actor.Type == types.ObjectCreep {
		if actor.Spawning {
			return CodeActorSpawning
		}
		if actor.Hits <= 0 {
			return CodeActorDead
		}
	}
	switch c.Intent {
	case types.IntentMove:
		dir, _ := Int(c.Payload, "direction")
		if dx, dy, ok := types.DirectionOffset(dir); ok && !inRoom(actor.X+dx, actor.Y+dy) {
			return CodeOutOfBounds
		}
	case types.IntentSpawn:
		if actor.SpawnOrder != nil {
			return CodeActorSpawning
		}
		if creepNameTaken(c.State, c.UserID, String(c.Payload, "name")) {
			return CodeNameExists
		}
	}

	if c.Rule.TargetField == "" {
		return ""
	}
	target := c.State.Objects[String(c.Payload, c.Rule.TargetField)]
	if target == nil {
		return CodeTargetNotFound
	}
	if c.Rule.Target != nil && !c.Rule.Target(target) {
		return CodeInvalidTargetType
	}
	if c.Rule.NeedsStore && !target.HasStore() {
		return CodeTargetNoStore
	}
	c.Target = target
	return ""
}

func inRoom(x, y int) bool {
	return x >= 0 && y >= 0 && x < types.RoomSize && y < types.RoomSize
}

// creepNameTaken reports whether userID already owns a creep called name,
// spawning ones included.
func creepNameTaken(state *types.RoomState, userID, name string) bool {
	for _, o := range state.Objects {
		if o.Type == types.ObjectCreep && o.User == userID && o.Name == name {
			return true
		}
	}
	return false
}

func rangeStage(c *Check) Code {
	if c.Rule.Range == NoRange || c.Target == nil {
		return ""
	}
	if types.ChebyshevDistance(c.Actor.X, c.Actor.Y, c.Target.X, c.Target.Y) > c.Rule.Range {
		return CodeOutOfRange
	}
	return ""
}

func permissionStage(c *Check) Code {
	if c.Actor.User != c.UserID {
		return CodeNotOwner
	}
	ctrl := c.State.Controller()
	foreignController := ctrl != nil && ctrl.User != "" && ctrl.User != c.UserID

	if c.Rule.Hostile {
		if foreignController && ctrl.SafeMode > c.State.GameTime {
			return CodeSafeModeActive
		}
		if c.Target.Type != types.ObjectRampart && rampartBlocks(c.State, c.Target, c.UserID) {
			return CodeBlockedByRampart
		}
	}

	switch c.Intent {
	case types.IntentUpgradeController:
		if c.Target.User != "" && c.Target.User != c.UserID {
			return CodeHostileController
		}
	case types.IntentWithdraw:
		if rampartBlocks(c.State, c.Target, c.UserID) {
			return CodeBlockedByRampart
		}
		if foreignController && c.Target.User != c.UserID {
			return CodeHostileController
		}
	case types.IntentBuild:
		if c.Target.User != "" && c.Target.User != c.UserID {
			return CodeNotOwner
		}
	case types.IntentSpawn:
		if foreignController {
			return CodeHostileController
		}
	}
	return ""
}

// rampartBlocks reports whether a non-public rampart of another user covers target.
func rampartBlocks(state *types.RoomState, target *types.RoomObject, userID string) bool {
	for _, o := range state.ObjectsAt(target.X, target.Y) {
		if o.Type == types.ObjectRampart && o.User != userID && !o.IsPublic {
			return true
		}
	}
	return false
}

func resourceStage(c *Check) Code {
	a := c.Actor
	if part := c.Rule.BodyPart; part != "" && a.ActiveParts(part) == 0 {
		return CodeMissingBodyPart
	}

	switch c.Intent {
	case types.IntentMove:
		if a.Fatigue > 0 {
			return CodeFatigued
		}
	case types.IntentHarvest:
		if c.Target.Energy <= 0 {
			return CodeSourceDepleted
		}
	case types.IntentTransfer:
		res := String(c.Payload, "resourceType")
		amount, explicit := Int(c.Payload, "amount")
		held := a.Store[res]
		if held <= 0 || (explicit && amount > held) {
			return CodeInsufficientResource
		}
		free := c.Target.FreeCapacity()
		if free <= 0 || (explicit && amount > free) {
			return CodeInsufficientCapacity
		}
	case types.IntentWithdraw:
		res := String(c.Payload, "resourceType")
		amount, explicit := Int(c.Payload, "amount")
		held := c.Target.Store[res]
		if held <= 0 || (explicit && amount > held) {
			return CodeInsufficientResource
		}
		free := a.FreeCapacity()
		if free <= 0 || (explicit && amount > free) {
			return CodeInsufficientCapacity
		}
	case types.IntentBuild, types.IntentRepair, types.IntentUpgradeController:
		if a.Store[types.ResourceEnergy] <= 0 {
			return CodeInsufficientResource
		}
		if c.Intent == types.IntentUpgradeController && c.Target.CooldownTime > c.State.GameTime {
			return CodeOnCooldown
		}
	case types.IntentPickup:
		if a.FreeCapacity() <= 0 {
			return CodeInsufficientCapacity
		}
	case types.IntentDrop:
		amount, explicit := Int(c.Payload, "amount")
		held := a.Store[String(c.Payload, "resourceType")]
		if held <= 0 || (explicit && amount > held) {
			return CodeInsufficientResource
		}
	case types.IntentSpawn:
		if a.CooldownTime > c.State.GameTime {
			return CodeOnCooldown
		}
		if BodyCost(Strings(c.Payload, "body")) > AvailableSpawnEnergy(c.State, c.UserID) {
			return CodeInsufficientResource
		}
	}
	return ""
}

// BodyCost sums the energy cost of a body.
func BodyCost(body []string) int {
	cost := 0
	for _, part := range body {
		cost += types.BodyPartCost[part]
	}
	return cost
}

// AvailableSpawnEnergy sums the energy in a user's spawns and extensions.
func AvailableSpawnEnergy(state *types.RoomState, userID string) int {
	total := 0
	for _, o := range state.Objects {
		if o.User != userID {
			continue
		}
		if o.Type == types.ObjectSpawn || o.Type == types.ObjectExtension {
			total += o.Store[types.ResourceEnergy]
		}
	}
	return total
}
