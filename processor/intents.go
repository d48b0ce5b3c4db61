package processor

import (
	"context"
	"maps"
	"slices"

	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/validation"
)

// actionOrder is the order in which each user's intents are applied.
// Unknown actions follow in name order and are rejected by validation.
var actionOrder = []string{
	types.IntentSuicide,
	types.IntentSay,
	types.IntentAttack,
	types.IntentRangedAttack,
	types.IntentHeal,
	types.IntentHarvest,
	types.IntentPickup,
	types.IntentWithdraw,
	types.IntentTransfer,
	types.IntentDrop,
	types.IntentBuild,
	types.IntentRepair,
	types.IntentUpgradeController,
	types.IntentSpawn,
	types.IntentMove,
}

// applier mutates room state for one accepted intent.
type applier func(rc *RoomContext, c *validation.Check) error

var appliers = map[string]applier{
	types.IntentMove:              applyMove,
	types.IntentHarvest:           applyHarvest,
	types.IntentAttack:            applyAttack,
	types.IntentRangedAttack:      applyRangedAttack,
	types.IntentHeal:              applyHeal,
	types.IntentTransfer:          applyTransfer,
	types.IntentWithdraw:          applyWithdraw,
	types.IntentBuild:             applyBuild,
	types.IntentRepair:            applyRepair,
	types.IntentUpgradeController: applyUpgrade,
	types.IntentPickup:            applyPickup,
	types.IntentDrop:              applyDrop,
	types.IntentSay:               applySay,
	types.IntentSuicide:           applySuicide,
	types.IntentSpawn:             applySpawn,
}

// IntentStep validates every pending intent and applies the accepted ones.
// Rejections are counted and otherwise dropped.
type IntentStep struct {
	engine *validation.Engine
}

// NewIntentStep creates the step.
func NewIntentStep(engine *validation.Engine) *IntentStep {
	return &IntentStep{engine: engine}
}

// Name implements Step.
func (*IntentStep) Name() string { return StepIntents }

// Process implements Step.
func (s *IntentStep) Process(ctx context.Context, rc *RoomContext) error {
	for _, userID := range slices.Sorted(maps.Keys(rc.State.Intents)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		intents := rc.State.Intents[userID]
		for _, action := range orderedActions(intents) {
			for _, rec := range intents[action] {
				if err := s.apply(rc, userID, action, rec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *IntentStep) apply(rc *RoomContext, userID, action string, rec types.IntentRecord) error {
	res, check := s.engine.ValidateCheck(rc.State, userID, action, rec)
	rc.Stats.Record(action, res)
	if !res.Valid {
		rc.Rejected++
		return nil
	}
	rc.Accepted++
	return appliers[action](rc, check)
}

func orderedActions(intents types.UserIntents) []string {
	out := make([]string, 0, len(intents))
	for _, action := range actionOrder {
		if _, ok := intents[action]; ok {
			out = append(out, action)
		}
	}
	for _, action := range slices.Sorted(maps.Keys(intents)) {
		if !slices.Contains(actionOrder, action) {
			out = append(out, action)
		}
	}
	return out
}

// amountOf returns the explicit payload amount, or fallback.
func amountOf(c *validation.Check, fallback int) int {
	if n, ok := validation.Int(c.Payload, "amount"); ok {
		return n
	}
	return fallback
}

func applyMove(rc *RoomContext, c *validation.Check) error {
	a := c.Actor
	dir, _ := validation.Int(c.Payload, "direction")
	dx, dy, ok := types.DirectionOffset(dir)
	if !ok {
		return nil
	}
	x, y := a.X+dx, a.Y+dy
	if !rc.walkable(x, y, a.User) {
		return nil
	}
	fatigue := creepWeight(a) * rc.terrainFatigue(x, y)
	from := map[string]any{"x": a.X, "y": a.Y}
	a.X, a.Y = x, y
	a.Fatigue += fatigue
	rc.Update(a, map[string]any{"x": x, "y": y, "fatigue": a.Fatigue})
	rc.State.AddEvent(types.IntentMove, a.ID, map[string]any{"from": from, "direction": dir})
	return nil
}

func applyHarvest(rc *RoomContext, c *validation.Check) error {
	a, src := c.Actor, c.Target
	amount := min(HarvestPower*a.ActiveParts(types.PartWork), src.Energy)
	if a.HasStore() {
		amount = min(amount, a.FreeCapacity())
	}
	if amount <= 0 {
		return nil
	}
	src.Energy -= amount
	delta := map[string]any{"energy": src.Energy}
	if src.NextRegenerationTime == 0 {
		src.NextRegenerationTime = rc.GameTime() + SourceRegenTime
		delta["nextRegenerationTime"] = src.NextRegenerationTime
	}
	rc.Update(src, delta)
	addResource(a, types.ResourceEnergy, amount)
	rc.updateStore(a)

	rc.State.Room.InvaderGoal += amount
	rc.Bulk.Rooms().Update(rc.State.Room.ID, map[string]any{"invaderGoal": rc.State.Room.InvaderGoal})
	rc.State.AddEvent(types.IntentHarvest, a.ID, map[string]any{"targetId": src.ID, "amount": amount})
	return nil
}

func applyAttack(rc *RoomContext, c *validation.Check) error {
	dmg := AttackPower * c.Actor.ActiveParts(types.PartAttack)
	rc.State.AddEvent(types.IntentAttack, c.Actor.ID, map[string]any{"targetId": c.Target.ID, "damage": dmg})
	return rc.damage(c.Target, dmg, types.IntentAttack)
}

func applyRangedAttack(rc *RoomContext, c *validation.Check) error {
	dmg := RangedAttackPower * c.Actor.ActiveParts(types.PartRangedAttack)
	rc.State.AddEvent(types.IntentRangedAttack, c.Actor.ID, map[string]any{"targetId": c.Target.ID, "damage": dmg})
	return rc.damage(c.Target, dmg, types.IntentRangedAttack)
}

func applyHeal(rc *RoomContext, c *validation.Check) error {
	amount := HealPower * c.Actor.ActiveParts(types.PartHeal)
	rc.heal(c.Target, amount)
	rc.State.AddEvent(types.IntentHeal, c.Actor.ID, map[string]any{"targetId": c.Target.ID, "amount": amount})
	return nil
}

func applyTransfer(rc *RoomContext, c *validation.Check) error {
	a, t := c.Actor, c.Target
	res := validation.String(c.Payload, "resourceType")
	amount := amountOf(c, min(a.Store[res], t.FreeCapacity()))
	takeResource(a, res, amount)
	addResource(t, res, amount)
	rc.updateStore(a)
	rc.updateStore(t)
	rc.State.AddEvent(types.IntentTransfer, a.ID, map[string]any{"targetId": t.ID, "resourceType": res, "amount": amount})
	return nil
}

func applyWithdraw(rc *RoomContext, c *validation.Check) error {
	a, t := c.Actor, c.Target
	res := validation.String(c.Payload, "resourceType")
	amount := amountOf(c, min(t.Store[res], a.FreeCapacity()))
	takeResource(t, res, amount)
	addResource(a, res, amount)
	rc.updateStore(a)
	rc.updateStore(t)
	rc.State.AddEvent(types.IntentWithdraw, a.ID, map[string]any{"targetId": t.ID, "resourceType": res, "amount": amount})
	return nil
}

func applyBuild(rc *RoomContext, c *validation.Check) error {
	a, site := c.Actor, c.Target
	amount := min(BuildPower*a.ActiveParts(types.PartWork), a.Store[types.ResourceEnergy], site.ProgressTotal-site.Progress)
	if amount <= 0 {
		return nil
	}
	takeResource(a, types.ResourceEnergy, amount)
	rc.updateStore(a)
	site.Progress += amount
	rc.State.AddEvent(types.IntentBuild, a.ID, map[string]any{"targetId": site.ID, "amount": amount})
	if site.Progress < site.ProgressTotal {
		rc.Update(site, map[string]any{"progress": site.Progress})
		return nil
	}

	rc.Remove(site)
	spec := structureSpecs[site.StructureType]
	built := &types.RoomObject{
		Type:          site.StructureType,
		X:             site.X,
		Y:             site.Y,
		User:          site.User,
		Hits:          spec.hits,
		HitsMax:       spec.hitsMax,
		StoreCapacity: spec.storeCapacity,
	}
	if built.User == "" {
		built.User = a.User
	}
	if spec.storeCapacity > 0 {
		built.Store = map[string]int{}
	}
	if err := rc.Insert(built); err != nil {
		return err
	}
	rc.State.AddEvent(EventStructureBuilt, built.ID, map[string]any{"type": built.Type, "site": site.ID})
	return nil
}

func applyRepair(rc *RoomContext, c *validation.Check) error {
	a, t := c.Actor, c.Target
	missing := t.HitsMax - t.Hits
	if missing <= 0 {
		return nil
	}
	energy := min(a.ActiveParts(types.PartWork), a.Store[types.ResourceEnergy], (missing+RepairPower-1)/RepairPower)
	hits := min(energy*RepairPower, missing)
	takeResource(a, types.ResourceEnergy, energy)
	rc.updateStore(a)
	t.Hits += hits
	rc.Update(t, map[string]any{"hits": t.Hits})
	rc.State.AddEvent(types.IntentRepair, a.ID, map[string]any{"targetId": t.ID, "amount": hits})
	return nil
}

func applyUpgrade(rc *RoomContext, c *validation.Check) error {
	a, ctrl := c.Actor, c.Target
	energy := min(UpgradePower*a.ActiveParts(types.PartWork), a.Store[types.ResourceEnergy])
	takeResource(a, types.ResourceEnergy, energy)
	rc.updateStore(a)

	delta := map[string]any{}
	if ctrl.User == "" {
		ctrl.User = a.User
		ctrl.Level = max(ctrl.Level, 1)
		ctrl.ProgressTotal = ControllerLevels[ctrl.Level]
		delta["user"] = ctrl.User
		delta["level"] = ctrl.Level
		delta["progressTotal"] = ctrl.ProgressTotal
	}
	ctrl.Progress += energy
	for ctrl.Level < MaxControllerLevel && ctrl.Progress >= ControllerLevels[ctrl.Level] {
		ctrl.Progress -= ControllerLevels[ctrl.Level]
		ctrl.Level++
		ctrl.ProgressTotal = ControllerLevels[ctrl.Level]
		delta["level"] = ctrl.Level
		delta["progressTotal"] = ctrl.ProgressTotal
		rc.State.AddEvent(EventControllerLevelUp, ctrl.ID, map[string]any{"level": ctrl.Level})
	}
	ctrl.DowngradeTime = rc.GameTime() + ControllerDowngradeTicks[ctrl.Level]
	delta["progress"] = ctrl.Progress
	delta["downgradeTime"] = ctrl.DowngradeTime
	rc.Update(ctrl, delta)
	rc.State.AddEvent(types.IntentUpgradeController, a.ID, map[string]any{"targetId": ctrl.ID, "amount": energy})
	return nil
}

func applyPickup(rc *RoomContext, c *validation.Check) error {
	a, pile := c.Actor, c.Target
	amount := min(pile.Amount, a.FreeCapacity())
	if amount <= 0 {
		return nil
	}
	addResource(a, pile.ResourceType, amount)
	rc.updateStore(a)
	pile.Amount -= amount
	if pile.Amount <= 0 {
		rc.Remove(pile)
	} else {
		rc.Update(pile, map[string]any{"amount": pile.Amount})
	}
	rc.State.AddEvent(types.IntentPickup, a.ID, map[string]any{"targetId": pile.ID, "amount": amount})
	return nil
}

func applyDrop(rc *RoomContext, c *validation.Check) error {
	a := c.Actor
	res := validation.String(c.Payload, "resourceType")
	amount := amountOf(c, a.Store[res])
	takeResource(a, res, amount)
	rc.updateStore(a)
	rc.State.AddEvent(types.IntentDrop, a.ID, map[string]any{"resourceType": res, "amount": amount})
	return rc.dropResource(a.X, a.Y, res, amount)
}

func applySay(rc *RoomContext, c *validation.Check) error {
	a := c.Actor
	a.Saying = validation.String(c.Payload, "message")
	public, _ := c.Payload["isPublic"].(bool)
	rc.Update(a, map[string]any{"saying": a.Saying})
	rc.State.AddEvent(types.IntentSay, a.ID, map[string]any{"message": a.Saying, "isPublic": public})
	return nil
}

func applySuicide(rc *RoomContext, c *validation.Check) error {
	return rc.kill(c.Actor, types.IntentSuicide)
}

func applySpawn(rc *RoomContext, c *validation.Check) error {
	spawn := c.Actor
	name := validation.String(c.Payload, "name")
	parts := validation.Strings(c.Payload, "body")
	rc.chargeSpawnEnergy(spawn, validation.BodyCost(parts))

	body := make([]types.BodyPart, len(parts))
	carry := 0
	for i, p := range parts {
		body[i] = types.BodyPart{Type: p, Hits: BodyPartHits}
		if p == types.PartCarry {
			carry++
		}
	}
	creep := &types.RoomObject{
		Type:          types.ObjectCreep,
		X:             spawn.X,
		Y:             spawn.Y,
		User:          spawn.User,
		Name:          name,
		Body:          body,
		Hits:          len(body) * BodyPartHits,
		HitsMax:       len(body) * BodyPartHits,
		StoreCapacity: carry * CarryCapacity,
		Spawning:      true,
	}
	if err := rc.Insert(creep); err != nil {
		return err
	}

	need := int64(len(body) * CreepSpawnTime)
	spawn.SpawnOrder = &types.SpawnOrder{Name: name, NeedTime: need, SpawnTime: rc.GameTime() + need}
	rc.Update(spawn, map[string]any{"spawnOrder": map[string]any{
		"name":      name,
		"needTime":  need,
		"spawnTime": spawn.SpawnOrder.SpawnTime,
	}})
	rc.State.AddEvent(types.IntentSpawn, spawn.ID, map[string]any{"name": name, "creep": creep.ID, "body": parts})
	return nil
}

// chargeSpawnEnergy takes cost from the spawn first, then from the owner's
// other spawns and extensions in id order.
func (rc *RoomContext) chargeSpawnEnergy(spawn *types.RoomObject, cost int) {
	sources := []*types.RoomObject{spawn}
	for _, o := range rc.SortedObjects() {
		if o.ID != spawn.ID && o.User == spawn.User && (o.Type == types.ObjectSpawn || o.Type == types.ObjectExtension) {
			sources = append(sources, o)
		}
	}
	for _, o := range sources {
		if cost <= 0 {
			break
		}
		take := min(cost, o.Store[types.ResourceEnergy])
		if take <= 0 {
			continue
		}
		takeResource(o, types.ResourceEnergy, take)
		rc.updateStore(o)
		cost -= take
	}
}
