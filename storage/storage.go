// Package storage defines the repository contracts the tick backend reads
// and writes through, with an in-memory implementation. The SQLite
// implementation lives in storage/sqlite.
//
// Document shapes follow the JSON names of the types package. Intents and
// memory segments are stored msgpack-encoded.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/types"
)

// Sentinel errors.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidTerrain    = errors.New("terrain must be 2500 bytes")
)

// RuntimeUpdate is what one runtime tick persists for a user.
// Nil fields are left unchanged.
type RuntimeUpdate struct {
	Memory            *string
	Segments          map[int]string
	ActiveSegments    []int
	InterShardSegment *string
	CPUBucket         *int
}

// UserRepository reads and writes tenant runtime state.
type UserRepository interface {
	// ActiveUserIDs lists users whose scripts run this tick, sorted.
	ActiveUserIDs(ctx context.Context) ([]string, error)
	// LoadRuntimeData returns ErrUserNotFound for unknown ids.
	LoadRuntimeData(ctx context.Context, userID string) (*types.UserRuntimeData, error)
	SaveRuntimeData(ctx context.Context, userID string, u *RuntimeUpdate) error
	// LoadUsers returns the known subset of ids.
	LoadUsers(ctx context.Context, ids []string) (map[string]*types.User, error)
}

// IntentRepository stores intents between the runner and processor phases.
type IntentRepository interface {
	// SaveRoomIntents replaces one user's pending intents for one room.
	SaveRoomIntents(ctx context.Context, room, userID string, intents types.UserIntents) error
	LoadRoomIntents(ctx context.Context, room string) (types.RoomIntents, error)
	ClearRoomIntents(ctx context.Context, room string) error
	// RoomsWithIntents lists rooms that have pending intents, sorted.
	RoomsWithIntents(ctx context.Context) ([]string, error)
	SaveGlobalIntents(ctx context.Context, userID string, intents map[string][]map[string]any) error
	LoadGlobalIntents(ctx context.Context, userID string) (map[string][]map[string]any, error)
}

// RoomRepository reads room documents, objects, flags and terrain.
type RoomRepository interface {
	// ActiveRoomNames lists active rooms, sorted.
	ActiveRoomNames(ctx context.Context) ([]string, error)
	// LoadRoom returns ErrRoomNotFound for unknown rooms.
	LoadRoom(ctx context.Context, room string) (*types.RoomInfo, error)
	LoadObjects(ctx context.Context, room string) (map[string]*types.RoomObject, error)
	LoadFlags(ctx context.Context, room string) ([]types.Flag, error)
	LoadTerrain(ctx context.Context, room string) ([]byte, error)
	LoadAllTerrain(ctx context.Context) (map[string][]byte, error)
}

// EnvironmentRepository holds world-wide counters.
type EnvironmentRepository interface {
	GameTime(ctx context.Context) (int64, error)
	// AdvanceGameTime increments the game time and returns the new value.
	AdvanceGameTime(ctx context.Context) (int64, error)
}

// Seeder loads initial world data.
type Seeder interface {
	PutUser(ctx context.Context, u *types.User, data *types.UserRuntimeData) error
	PutRoom(ctx context.Context, info *types.RoomInfo, terrain []byte) error
	PutObjects(ctx context.Context, objs ...*types.RoomObject) error
	PutFlags(ctx context.Context, flags ...types.Flag) error
	SetGameTime(ctx context.Context, gameTime int64) error
}

// Store is a complete storage backend.
type Store interface {
	UserRepository
	IntentRepository
	RoomRepository
	EnvironmentRepository
	Seeder
	bulk.Store
	io.Closer
}
