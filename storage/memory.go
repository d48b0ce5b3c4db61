package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/types"
)

// HashModules returns the content hash of a module bundle. Identical code
// hashes identically regardless of the owning user.
func HashModules(modules map[string]string) string {
	names := slices.Sorted(maps.Keys(modules))
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(modules[name]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type runtimeRecord struct {
	codeHash          string
	modules           map[string]string
	memory            string
	segments          map[int]string
	activeSegments    []int
	interShardSegment string
}

// MemoryStore is a process-local Store. Intents are held msgpack-encoded
// so callers never share maps with the store.
type MemoryStore struct {
	mu sync.RWMutex

	docs     map[string]map[string]map[string]any
	runtime  map[string]*runtimeRecord
	terrain  map[string][]byte
	intents  map[string]map[string][]byte
	globals  map[string][]byte
	gameTime int64
}

// NewMemoryStore creates an empty store at game time 1.
func NewMemoryStore() *MemoryStore {
	docs := make(map[string]map[string]map[string]any)
	for _, c := range []string{bulk.CollectionObjects, bulk.CollectionRooms, bulk.CollectionFlags, bulk.CollectionUsers} {
		docs[c] = make(map[string]map[string]any)
	}
	return &MemoryStore{
		docs:     docs,
		runtime:  make(map[string]*runtimeRecord),
		terrain:  make(map[string][]byte),
		intents:  make(map[string]map[string][]byte),
		globals:  make(map[string][]byte),
		gameTime: 1,
	}
}

// --- Seeder ---

// PutUser implements Seeder.
func (s *MemoryStore) PutUser(_ context.Context, u *types.User, data *types.UserRuntimeData) error {
	doc, err := bulk.ToDocument(u)
	if err != nil {
		return err
	}
	rec := &runtimeRecord{segments: make(map[int]string)}
	if data != nil {
		rec.modules = maps.Clone(data.Modules)
		rec.codeHash = data.CodeHash
		if rec.codeHash == "" && len(rec.modules) > 0 {
			rec.codeHash = HashModules(rec.modules)
		}
		rec.memory = data.Memory
		maps.Copy(rec.segments, data.Segments)
		rec.activeSegments = slices.Clone(data.ActiveSegments)
		rec.interShardSegment = data.InterShardSegment
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[bulk.CollectionUsers][u.ID] = doc
	s.runtime[u.ID] = rec
	return nil
}

// PutRoom implements Seeder.
func (s *MemoryStore) PutRoom(_ context.Context, info *types.RoomInfo, terrain []byte) error {
	if terrain != nil && len(terrain) != types.TileCount {
		return ErrInvalidTerrain
	}
	doc, err := bulk.ToDocument(info)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[bulk.CollectionRooms][info.ID] = doc
	if terrain != nil {
		s.terrain[info.ID] = slices.Clone(terrain)
	}
	return nil
}

// PutObjects implements Seeder.
func (s *MemoryStore) PutObjects(_ context.Context, objs ...*types.RoomObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range objs {
		doc, err := bulk.ToDocument(o)
		if err != nil {
			return err
		}
		s.docs[bulk.CollectionObjects][o.ID] = doc
	}
	return nil
}

// PutFlags implements Seeder.
func (s *MemoryStore) PutFlags(_ context.Context, flags ...types.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range flags {
		if f.ID == "" {
			f.ID = f.User + "/" + f.Name
		}
		doc, err := bulk.ToDocument(f)
		if err != nil {
			return err
		}
		s.docs[bulk.CollectionFlags][f.ID] = doc
	}
	return nil
}

// SetGameTime implements Seeder.
func (s *MemoryStore) SetGameTime(_ context.Context, gameTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameTime = gameTime
	return nil
}

// --- UserRepository ---

// ActiveUserIDs implements UserRepository.
func (s *MemoryStore) ActiveUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, doc := range s.docs[bulk.CollectionUsers] {
		if active, _ := doc["active"].(bool); active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadRuntimeData implements UserRepository.
func (s *MemoryStore) LoadRuntimeData(_ context.Context, userID string) (*types.UserRuntimeData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[bulk.CollectionUsers][userID]
	rec, rok := s.runtime[userID]
	if !ok || !rok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	var u types.User
	if err := DecodeDocument(doc, &u); err != nil {
		return nil, err
	}

	segments := make(map[int]string, len(rec.activeSegments))
	for _, id := range rec.activeSegments {
		if data, ok := rec.segments[id]; ok {
			segments[id] = data
		}
	}
	return &types.UserRuntimeData{
		UserID:            userID,
		CodeHash:          rec.codeHash,
		Modules:           maps.Clone(rec.modules),
		CPULimit:          u.CPU,
		CPUBucket:         u.CPUAvailable,
		Memory:            rec.memory,
		Segments:          segments,
		ActiveSegments:    slices.Clone(rec.activeSegments),
		InterShardSegment: rec.interShardSegment,
	}, nil
}

// SaveRuntimeData implements UserRepository.
func (s *MemoryStore) SaveRuntimeData(_ context.Context, userID string, u *RuntimeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runtime[userID]
	doc, dok := s.docs[bulk.CollectionUsers][userID]
	if !ok || !dok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if u.Memory != nil {
		rec.memory = *u.Memory
	}
	maps.Copy(rec.segments, u.Segments)
	if u.ActiveSegments != nil {
		rec.activeSegments = slices.Clone(u.ActiveSegments)
	}
	if u.InterShardSegment != nil {
		rec.interShardSegment = *u.InterShardSegment
	}
	if u.CPUBucket != nil {
		doc["cpuAvailable"] = *u.CPUBucket
	}
	return nil
}

// LoadUsers implements UserRepository.
func (s *MemoryStore) LoadUsers(_ context.Context, ids []string) (map[string]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.User, len(ids))
	for _, id := range ids {
		doc, ok := s.docs[bulk.CollectionUsers][id]
		if !ok {
			continue
		}
		var u types.User
		if err := DecodeDocument(doc, &u); err != nil {
			return nil, err
		}
		out[id] = &u
	}
	return out, nil
}

// --- IntentRepository ---

// SaveRoomIntents implements IntentRepository.
func (s *MemoryStore) SaveRoomIntents(_ context.Context, room, userID string, intents types.UserIntents) error {
	b, err := EncodeIntents(intents)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.intents[room]
	if !ok {
		byUser = make(map[string][]byte)
		s.intents[room] = byUser
	}
	byUser[userID] = b
	return nil
}

// LoadRoomIntents implements IntentRepository.
func (s *MemoryStore) LoadRoomIntents(_ context.Context, room string) (types.RoomIntents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(types.RoomIntents, len(s.intents[room]))
	for userID, b := range s.intents[room] {
		ui, err := DecodeIntents(b)
		if err != nil {
			return nil, fmt.Errorf("room %s user %s: %w", room, userID, err)
		}
		out[userID] = ui
	}
	return out, nil
}

// ClearRoomIntents implements IntentRepository.
func (s *MemoryStore) ClearRoomIntents(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, room)
	return nil
}

// RoomsWithIntents implements IntentRepository.
func (s *MemoryStore) RoomsWithIntents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := slices.Collect(maps.Keys(s.intents))
	sort.Strings(rooms)
	return rooms, nil
}

// SaveGlobalIntents implements IntentRepository.
func (s *MemoryStore) SaveGlobalIntents(_ context.Context, userID string, intents map[string][]map[string]any) error {
	b, err := EncodeGlobalIntents(intents)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[userID] = b
	return nil
}

// LoadGlobalIntents implements IntentRepository.
func (s *MemoryStore) LoadGlobalIntents(_ context.Context, userID string) (map[string][]map[string]any, error) {
	s.mu.RLock()
	b, ok := s.globals[userID]
	s.mu.RUnlock()
	if !ok {
		return map[string][]map[string]any{}, nil
	}
	return DecodeGlobalIntents(b)
}

// --- RoomRepository ---

// ActiveRoomNames implements RoomRepository.
func (s *MemoryStore) ActiveRoomNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []string
	for id, doc := range s.docs[bulk.CollectionRooms] {
		if active, _ := doc["active"].(bool); active {
			rooms = append(rooms, id)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

// LoadRoom implements RoomRepository.
func (s *MemoryStore) LoadRoom(_ context.Context, room string) (*types.RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[bulk.CollectionRooms][room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	var info types.RoomInfo
	if err := DecodeDocument(doc, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LoadObjects implements RoomRepository.
func (s *MemoryStore) LoadObjects(_ context.Context, room string) (map[string]*types.RoomObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.RoomObject)
	for id, doc := range s.docs[bulk.CollectionObjects] {
		if r, _ := doc["room"].(string); r != room {
			continue
		}
		var o types.RoomObject
		if err := DecodeDocument(doc, &o); err != nil {
			return nil, fmt.Errorf("object %s: %w", id, err)
		}
		out[id] = &o
	}
	return out, nil
}

// LoadFlags implements RoomRepository.
func (s *MemoryStore) LoadFlags(_ context.Context, room string) ([]types.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Flag
	for _, doc := range s.docs[bulk.CollectionFlags] {
		if r, _ := doc["room"].(string); r != room {
			continue
		}
		var f types.Flag
		if err := DecodeDocument(doc, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadTerrain implements RoomRepository. Rooms without terrain get nil.
func (s *MemoryStore) LoadTerrain(_ context.Context, room string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.terrain[room]), nil
}

// LoadAllTerrain implements RoomRepository.
func (s *MemoryStore) LoadAllTerrain(_ context.Context) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.terrain))
	for room, t := range s.terrain {
		out[room] = slices.Clone(t)
	}
	return out, nil
}

// --- EnvironmentRepository ---

// GameTime implements EnvironmentRepository.
func (s *MemoryStore) GameTime(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gameTime, nil
}

// AdvanceGameTime implements EnvironmentRepository.
func (s *MemoryStore) AdvanceGameTime(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameTime++
	return s.gameTime, nil
}

// --- bulk.Store ---

// BulkWrite implements bulk.Store. Updates of unknown ids are no-ops.
func (s *MemoryStore) BulkWrite(_ context.Context, batch *bulk.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.docs[batch.Collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, batch.Collection)
	}
	for _, op := range batch.Ops {
		switch op.Kind {
		case bulk.OpInsert:
			doc, err := bulk.ToDocument(op.Doc)
			if err != nil {
				return err
			}
			coll[op.ID] = doc
		case bulk.OpRemove:
			delete(coll, op.ID)
		default:
			doc, exists := coll[op.ID]
			if !exists {
				continue
			}
			bulk.ApplyOperation(doc, op)
			normalized, err := bulk.ToDocument(doc)
			if err != nil {
				return err
			}
			coll[op.ID] = normalized
		}
	}
	return nil
}

// Document returns a copy of one stored document, for inspection.
func (s *MemoryStore) Document(collection, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, false
	}
	cp, err := bulk.ToDocument(doc)
	if err != nil {
		return nil, false
	}
	return cp, true
}

// Close implements io.Closer.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
