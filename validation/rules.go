package validation

import (
	"slices"

	"github.com/pithecene-io/colony/types"
)

// NoRange marks intents without a target distance check.
const NoRange = -1

// Rule describes what one intent type requires of its actor and target.
type Rule struct {
	Intent string
	// ActorTypes lists the object types allowed to perform the intent.
	ActorTypes []string
	// TargetField names the payload field holding the target id. Empty for untargeted intents.
	TargetField string
	// Target reports whether an object is a valid target.
	Target func(o *types.RoomObject) bool
	// NeedsStore requires the target to hold resources.
	NeedsStore bool
	// Range is the maximum Chebyshev distance to the target, or NoRange.
	Range int
	// BodyPart is the active part the actor must have, if any.
	BodyPart string
	// Hostile marks intents that harm their target.
	Hostile bool
}

func isCreep(o *types.RoomObject) bool { return o.Type == types.ObjectCreep }

func isAttackable(o *types.RoomObject) bool {
	return o.Type == types.ObjectCreep || (o.IsStructure() && o.Type != types.ObjectController)
}

func isRepairable(o *types.RoomObject) bool {
	return o.IsStructure() && o.Type != types.ObjectController
}

func hasStore(o *types.RoomObject) bool { return o.HasStore() }

func objectType(t string) func(*types.RoomObject) bool {
	return func(o *types.RoomObject) bool { return o.Type == t }
}

func anyObject(*types.RoomObject) bool { return true }

var creepOnly = []string{types.ObjectCreep}

var rules = map[string]*Rule{
	types.IntentMove: {
		ActorTypes: creepOnly, Range: NoRange, BodyPart: types.PartMove,
	},
	types.IntentHarvest: {
		ActorTypes: creepOnly, TargetField: "id", Target: objectType(types.ObjectSource),
		Range: 1, BodyPart: types.PartWork,
	},
	types.IntentAttack: {
		ActorTypes: creepOnly, TargetField: "id", Target: isAttackable,
		Range: 1, BodyPart: types.PartAttack, Hostile: true,
	},
	types.IntentRangedAttack: {
		ActorTypes: creepOnly, TargetField: "id", Target: isAttackable,
		Range: 3, BodyPart: types.PartRangedAttack, Hostile: true,
	},
	types.IntentHeal: {
		ActorTypes: creepOnly, TargetField: "id", Target: isCreep,
		Range: 1, BodyPart: types.PartHeal,
	},
	types.IntentTransfer: {
		ActorTypes: creepOnly, TargetField: "id", Target: anyObject, NeedsStore: true,
		Range: 1,
	},
	types.IntentWithdraw: {
		ActorTypes: creepOnly, TargetField: "id", Target: func(o *types.RoomObject) bool {
			return o.Type != types.ObjectCreep
		}, NeedsStore: true,
		Range: 1, BodyPart: types.PartCarry,
	},
	types.IntentBuild: {
		ActorTypes: creepOnly, TargetField: "id", Target: objectType(types.ObjectConstructionSite),
		Range: 3, BodyPart: types.PartWork,
	},
	types.IntentRepair: {
		ActorTypes: creepOnly, TargetField: "id", Target: isRepairable,
		Range: 3, BodyPart: types.PartWork,
	},
	types.IntentUpgradeController: {
		ActorTypes: creepOnly, TargetField: "id", Target: objectType(types.ObjectController),
		Range: 3, BodyPart: types.PartWork,
	},
	types.IntentPickup: {
		ActorTypes: creepOnly, TargetField: "id", Target: objectType(types.ObjectResource),
		Range: 1, BodyPart: types.PartCarry,
	},
	types.IntentDrop: {
		ActorTypes: creepOnly, Range: NoRange,
	},
	types.IntentSay: {
		ActorTypes: creepOnly, Range: NoRange,
	},
	types.IntentSuicide: {
		ActorTypes: creepOnly, Range: NoRange,
	},
	types.IntentSpawn: {
		ActorTypes: []string{types.ObjectSpawn}, Range: NoRange,
	},
}

func init() {
	for name, r := range rules {
		r.Intent = name
	}
}

// RuleFor returns the rule of an intent type.
func RuleFor(intent string) (*Rule, bool) {
	r, ok := rules[intent]
	return r, ok
}

// Intents lists every known intent type, sorted.
func Intents() []string {
	out := make([]string, 0, len(rules))
	for name := range rules {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
