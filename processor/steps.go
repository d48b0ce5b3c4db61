package processor

import (
	"context"
	"fmt"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/history"
	"github.com/pithecene-io/colony/pathfinder"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/validation"
)

// Step names.
const (
	StepCreepLifecycle      = "creep-lifecycle"
	StepStructureDecay      = "structure-decay"
	StepControllerDowngrade = "controller-downgrade"
	StepNPC                 = "npc"
	StepIntents             = "intents"
	StepEventLog            = "event-log"
)

// DefaultSteps returns the built-in pipeline in execution order.
func DefaultSteps(engine *validation.Engine, pf *pathfinder.Service, hist history.Sink) []Step {
	return []Step{
		CreepLifecycle{},
		StructureDecay{},
		ControllerDowngrade{},
		NewNPCStep(pf),
		NewIntentStep(engine),
		NewEventLogStep(hist),
	}
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, rc *RoomContext) error
}

// Name implements Step.
func (s StepFunc) Name() string { return s.StepName }

// Process implements Step.
func (s StepFunc) Process(ctx context.Context, rc *RoomContext) error { return s.Fn(ctx, rc) }

// CreepLifecycle finishes spawning, kills expired or destroyed creeps,
// clears last tick's speech and recovers fatigue.
type CreepLifecycle struct{}

// Name implements Step.
func (CreepLifecycle) Name() string { return StepCreepLifecycle }

// Process implements Step.
func (CreepLifecycle) Process(_ context.Context, rc *RoomContext) error {
	now := rc.GameTime()
	for _, o := range rc.SortedObjects() {
		if o.Type == types.ObjectSpawn && o.SpawnOrder != nil && o.SpawnOrder.SpawnTime <= now {
			rc.completeSpawn(o)
		}
	}

	for _, o := range rc.SortedObjects() {
		if o.Type != types.ObjectCreep || o.Spawning || rc.State.Objects[o.ID] == nil {
			continue
		}
		switch {
		case o.Hits <= 0:
			if err := rc.kill(o, "destroyed"); err != nil {
				return err
			}
			continue
		case o.AgeTime > 0 && o.AgeTime <= now:
			if err := rc.kill(o, "age"); err != nil {
				return err
			}
			continue
		}

		delta := map[string]any{}
		if o.Saying != "" {
			o.Saying = ""
			delta["saying"] = ""
		}
		if o.Fatigue > 0 {
			o.Fatigue = max(0, o.Fatigue-FatigueRecovery*o.ActiveParts(types.PartMove))
			delta["fatigue"] = o.Fatigue
		}
		rc.Update(o, delta)
	}
	return nil
}

// completeSpawn releases the creep a spawn was producing onto a free
// neighbouring tile, or leaves it on the spawn when boxed in.
func (rc *RoomContext) completeSpawn(spawn *types.RoomObject) {
	order := spawn.SpawnOrder
	spawn.SpawnOrder = nil
	rc.Update(spawn, map[string]any{"spawnOrder": nil})

	var creep *types.RoomObject
	for _, o := range rc.SortedObjects() {
		if o.Type == types.ObjectCreep && o.Spawning && o.Name == order.Name && o.User == spawn.User {
			creep = o
			break
		}
	}
	if creep == nil {
		return
	}
	creep.Spawning = false
	creep.AgeTime = rc.GameTime() + CreepLifeTime
	for dir := types.DirectionTop; dir <= types.DirectionTopLeft; dir++ {
		dx, dy, _ := types.DirectionOffset(dir)
		if rc.walkable(spawn.X+dx, spawn.Y+dy, creep.User) {
			creep.X, creep.Y = spawn.X+dx, spawn.Y+dy
			break
		}
	}
	rc.Update(creep, map[string]any{
		"spawning": false,
		"ageTime":  creep.AgeTime,
		"x":        creep.X,
		"y":        creep.Y,
	})
	rc.State.AddEvent(EventSpawnCompleted, spawn.ID, map[string]any{"creep": creep.ID, "name": creep.Name})
}

// StructureDecay wears down roads, ramparts and containers, evaporates
// dropped resources and refills sources.
type StructureDecay struct{}

// Name implements Step.
func (StructureDecay) Name() string { return StepStructureDecay }

// Process implements Step.
func (StructureDecay) Process(_ context.Context, rc *RoomContext) error {
	now := rc.GameTime()
	for _, o := range rc.SortedObjects() {
		if rc.State.Objects[o.ID] == nil {
			continue
		}
		switch o.Type {
		case types.ObjectRoad:
			if err := rc.decay(o, RoadDecayInterval, RoadDecayAmount); err != nil {
				return err
			}
		case types.ObjectRampart:
			if err := rc.decay(o, RampartDecayInterval, RampartDecayAmount); err != nil {
				return err
			}
		case types.ObjectContainer:
			if err := rc.decay(o, ContainerDecayInterval, ContainerDecayAmount); err != nil {
				return err
			}
		case types.ObjectResource:
			loss := (o.Amount + ResourceDecayRatio - 1) / ResourceDecayRatio
			o.Amount -= loss
			if o.Amount <= 0 {
				rc.Remove(o)
				continue
			}
			rc.Update(o, map[string]any{"amount": o.Amount})
		case types.ObjectSource:
			if o.NextRegenerationTime > 0 && o.NextRegenerationTime <= now {
				o.Energy = o.EnergyCapacity
				o.NextRegenerationTime = 0
				rc.Update(o, map[string]any{"energy": o.Energy, "nextRegenerationTime": 0})
			}
		}
	}
	return nil
}

// decay arms the decay timer of o, or applies one decay when it fired.
func (rc *RoomContext) decay(o *types.RoomObject, interval int64, amount int) error {
	now := rc.GameTime()
	if o.DecayTime == 0 {
		o.DecayTime = now + interval
		rc.Update(o, map[string]any{"decayTime": o.DecayTime})
		return nil
	}
	if o.DecayTime > now {
		return nil
	}
	o.DecayTime = now + interval
	o.Hits -= amount
	if o.Hits <= 0 {
		return rc.destroy(o, "decay")
	}
	rc.Update(o, map[string]any{"hits": o.Hits, "decayTime": o.DecayTime})
	return nil
}

// ControllerDowngrade drops a level from controllers nobody upgraded in time
// and releases them at level zero.
type ControllerDowngrade struct{}

// Name implements Step.
func (ControllerDowngrade) Name() string { return StepControllerDowngrade }

// Process implements Step.
func (ControllerDowngrade) Process(_ context.Context, rc *RoomContext) error {
	now := rc.GameTime()
	ctrl := rc.State.Controller()
	if ctrl == nil || ctrl.User == "" || ctrl.Level <= 0 {
		return nil
	}
	if ctrl.DowngradeTime == 0 {
		ctrl.DowngradeTime = now + ControllerDowngradeTicks[ctrl.Level]
		rc.Update(ctrl, map[string]any{"downgradeTime": ctrl.DowngradeTime})
		return nil
	}
	if ctrl.DowngradeTime > now {
		return nil
	}

	prev := ctrl.User
	ctrl.Level--
	ctrl.Progress = 0
	delta := map[string]any{"level": ctrl.Level, "progress": 0}
	if ctrl.Level == 0 {
		ctrl.User = ""
		ctrl.DowngradeTime = 0
		ctrl.ProgressTotal = 0
		delta["user"] = ""
		delta["downgradeTime"] = 0
		delta["progressTotal"] = 0
	} else {
		ctrl.DowngradeTime = now + ControllerDowngradeTicks[ctrl.Level]
		ctrl.ProgressTotal = ControllerLevels[ctrl.Level]
		delta["downgradeTime"] = ctrl.DowngradeTime
		delta["progressTotal"] = ctrl.ProgressTotal
	}
	rc.Update(ctrl, delta)
	rc.State.AddEvent(EventControllerDowngraded, ctrl.ID, map[string]any{"user": prev, "level": ctrl.Level})
	return nil
}

// EventLogStep stores the tick's room events on the room document and
// appends the resulting room to the history sink.
type EventLogStep struct {
	history history.Sink
}

// NewEventLogStep creates the step. A nil sink disables history.
func NewEventLogStep(hist history.Sink) *EventLogStep {
	return &EventLogStep{history: history.OrNop(hist)}
}

// Name implements Step.
func (*EventLogStep) Name() string { return StepEventLog }

// Process implements Step. History failures are logged, never returned.
func (s *EventLogStep) Process(ctx context.Context, rc *RoomContext) error {
	room := rc.State.Room
	if len(rc.State.EventLog) > 0 || len(room.EventLog) > 0 {
		events := make([]any, len(rc.State.EventLog))
		for i, e := range rc.State.EventLog {
			doc, err := bulk.ToDocument(e)
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			events[i] = doc
		}
		room.EventLog = rc.State.EventLog
		rc.Bulk.Rooms().Update(room.ID, map[string]any{"eventLog": events})
	}

	objects := make(map[string]map[string]any, len(rc.State.Objects))
	for id, o := range rc.State.Objects {
		doc, err := bulk.ToDocument(o)
		if err != nil {
			return fmt.Errorf("encode object %s: %w", id, err)
		}
		objects[id] = doc
	}
	tick := &history.Tick{
		Room:     room.ID,
		GameTime: rc.GameTime(),
		Objects:  objects,
		Events:   rc.State.EventLog,
	}
	if err := s.history.AppendTick(ctx, tick); err != nil {
		rc.Logger.Warn("history append failed", map[string]any{"error": err.Error()})
	}
	return nil
}
