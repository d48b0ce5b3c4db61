package types

// Intent action types understood by the room processor.
const (
	IntentMove              = "move"
	IntentHarvest           = "harvest"
	IntentAttack            = "attack"
	IntentRangedAttack      = "rangedAttack"
	IntentHeal              = "heal"
	IntentTransfer          = "transfer"
	IntentWithdraw          = "withdraw"
	IntentBuild             = "build"
	IntentRepair            = "repair"
	IntentUpgradeController = "upgradeController"
	IntentPickup            = "pickup"
	IntentDrop              = "drop"
	IntentSay               = "say"
	IntentSuicide           = "suicide"
	IntentSpawn             = "spawn"
)

// IntentRecord is one declared action of one actor.
type IntentRecord struct {
	// ActorID is the id of the room object performing the action.
	ActorID string `json:"actor" msgpack:"actor"`
	// Payload is the raw, unvalidated action payload.
	Payload map[string]any `json:"payload" msgpack:"payload"`
}

// UserIntents maps action type to the records one user submitted for one room.
type UserIntents map[string][]IntentRecord

// Count returns the total number of records.
func (u UserIntents) Count() int {
	n := 0
	for _, records := range u {
		n += len(records)
	}
	return n
}

// RoomIntents maps user id to that user's intents for a single room.
type RoomIntents map[string]UserIntents

// Count returns the total number of records across all users.
func (r RoomIntents) Count() int {
	n := 0
	for _, u := range r {
		n += u.Count()
	}
	return n
}
