package processor

import "github.com/pithecene-io/colony/types"

// World rules.
const (
	CreepLifeTime     = 1500
	CreepSpawnTime    = 3
	BodyPartHits      = 100
	CarryCapacity     = 50
	HarvestPower      = 2
	AttackPower       = 30
	RangedAttackPower = 10
	HealPower         = 12
	BuildPower        = 5
	RepairPower       = 100
	UpgradePower      = 1

	SourceEnergyCapacity = 3000
	SourceRegenTime      = 300

	RoadDecayInterval      = 1000
	RoadDecayAmount        = 100
	RampartDecayInterval   = 100
	RampartDecayAmount     = 300
	ContainerDecayInterval = 100
	ContainerDecayAmount   = 5000

	// ResourceDecayRatio is the divisor of the per-tick loss of dropped resources.
	ResourceDecayRatio = 1000

	// FatigueRecovery is removed per active move part each tick.
	FatigueRecovery = 2
)

// ControllerLevels maps level to the progress required to reach the next one.
var ControllerLevels = map[int]int{
	1: 200,
	2: 45000,
	3: 135000,
	4: 405000,
	5: 1215000,
	6: 3645000,
	7: 10935000,
}

// MaxControllerLevel is the highest controller level.
const MaxControllerLevel = 8

// ControllerDowngradeTicks maps level to the ticks without upgrades before the
// controller loses a level.
var ControllerDowngradeTicks = map[int]int64{
	1: 20000,
	2: 10000,
	3: 20000,
	4: 40000,
	5: 80000,
	6: 120000,
	7: 150000,
	8: 200000,
}

// structureSpec is the template of a finished construction.
type structureSpec struct {
	hits          int
	hitsMax       int
	storeCapacity int
}

var structureSpecs = map[string]structureSpec{
	types.ObjectRoad:      {hits: 5000, hitsMax: 5000},
	types.ObjectContainer: {hits: 250000, hitsMax: 250000, storeCapacity: 2000},
	types.ObjectRampart:   {hits: 1, hitsMax: 300000},
	types.ObjectWall:      {hits: 1, hitsMax: 300000000},
	types.ObjectExtension: {hits: 1000, hitsMax: 1000, storeCapacity: 50},
	types.ObjectSpawn:     {hits: 5000, hitsMax: 5000, storeCapacity: 300},
	types.ObjectTower:     {hits: 3000, hitsMax: 3000, storeCapacity: 1000},
	types.ObjectStorage:   {hits: 10000, hitsMax: 10000, storeCapacity: 1000000},
}

// Room event names.
const (
	EventCreepDied            = "creepDied"
	EventSpawnCompleted       = "spawnCompleted"
	EventObjectDestroyed      = "objectDestroyed"
	EventStructureBuilt       = "structureBuilt"
	EventControllerLevelUp    = "controllerLevelUp"
	EventControllerDowngraded = "controllerDowngraded"
)
