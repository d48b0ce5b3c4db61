// Package sqlite implements storage.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
//
// Room objects, rooms, flags and users are JSON documents in one table keyed
// by (collection, id). Intents, segments and module bundles are msgpack blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	_ "modernc.org/sqlite"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/types"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		room       TEXT NOT NULL DEFAULT '',
		doc        TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_room ON documents (collection, room)`,
	`CREATE TABLE IF NOT EXISTS user_runtime (
		user_id         TEXT PRIMARY KEY,
		code_hash       TEXT NOT NULL DEFAULT '',
		modules         BLOB,
		memory          TEXT NOT NULL DEFAULT '',
		segments        BLOB,
		active_segments TEXT NOT NULL DEFAULT '[]',
		inter_shard     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS terrain (
		room TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS room_intents (
		room    TEXT NOT NULL,
		user_id TEXT NOT NULL,
		data    BLOB NOT NULL,
		PRIMARY KEY (room, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS global_intents (
		user_id TEXT PRIMARY KEY,
		data    BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS environment (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
	`INSERT OR IGNORE INTO environment (key, value) VALUES ('gameTime', 1)`,
}

var collections = map[string]bool{
	bulk.CollectionObjects: true,
	bulk.CollectionRooms:   true,
	bulk.CollectionFlags:   true,
	bulk.CollectionUsers:   true,
}

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// Single connection: serializes writers and keeps ":memory:" databases
	// on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range append([]string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"}, schema...) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: init: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- documents ---

func (s *Store) putDoc(ctx context.Context, ex execer, collection, id, room string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO documents (collection, id, room, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET room = excluded.room, doc = excluded.doc`,
		collection, id, room, string(raw))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) getDoc(ctx context.Context, q querier, collection, id string) (map[string]any, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT doc FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, true, nil
}

func (s *Store) roomDocs(ctx context.Context, collection, room string, visit func(raw []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND room = ? ORDER BY id`, collection, room)
	if err != nil {
		return fmt.Errorf("query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		if err := visit([]byte(raw)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Seeder ---

// PutUser implements storage.Seeder.
func (s *Store) PutUser(ctx context.Context, u *types.User, data *types.UserRuntimeData) error {
	if err := s.putDoc(ctx, s.db, bulk.CollectionUsers, u.ID, "", u); err != nil {
		return err
	}
	if data == nil {
		data = &types.UserRuntimeData{}
	}
	codeHash := data.CodeHash
	if codeHash == "" && len(data.Modules) > 0 {
		codeHash = storage.HashModules(data.Modules)
	}
	modules, err := storage.EncodeModules(data.Modules)
	if err != nil {
		return err
	}
	segments, err := storage.EncodeSegments(data.Segments)
	if err != nil {
		return err
	}
	active, err := json.Marshal(nonNil(data.ActiveSegments))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_runtime
		 (user_id, code_hash, modules, memory, segments, active_segments, inter_shard)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, codeHash, modules, data.Memory, segments, string(active), data.InterShardSegment)
	if err != nil {
		return fmt.Errorf("put user runtime %s: %w", u.ID, err)
	}
	return nil
}

// PutRoom implements storage.Seeder.
func (s *Store) PutRoom(ctx context.Context, info *types.RoomInfo, terrain []byte) error {
	if terrain != nil && len(terrain) != types.TileCount {
		return storage.ErrInvalidTerrain
	}
	if err := s.putDoc(ctx, s.db, bulk.CollectionRooms, info.ID, info.ID, info); err != nil {
		return err
	}
	if terrain == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO terrain (room, data) VALUES (?, ?)`, info.ID, terrain); err != nil {
		return fmt.Errorf("put terrain %s: %w", info.ID, err)
	}
	return nil
}

// PutObjects implements storage.Seeder.
func (s *Store) PutObjects(ctx context.Context, objs ...*types.RoomObject) error {
	for _, o := range objs {
		if err := s.putDoc(ctx, s.db, bulk.CollectionObjects, o.ID, o.Room, o); err != nil {
			return err
		}
	}
	return nil
}

// PutFlags implements storage.Seeder.
func (s *Store) PutFlags(ctx context.Context, flags ...types.Flag) error {
	for _, f := range flags {
		if f.ID == "" {
			f.ID = f.User + "/" + f.Name
		}
		if err := s.putDoc(ctx, s.db, bulk.CollectionFlags, f.ID, f.Room, f); err != nil {
			return err
		}
	}
	return nil
}

// SetGameTime implements storage.Seeder.
func (s *Store) SetGameTime(ctx context.Context, gameTime int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE environment SET value = ? WHERE key = 'gameTime'`, gameTime)
	return err
}

// --- UserRepository ---

// ActiveUserIDs implements storage.UserRepository.
func (s *Store) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return s.ids(ctx,
		`SELECT id FROM documents WHERE collection = ? AND json_extract(doc, '$.active') = 1 ORDER BY id`,
		bulk.CollectionUsers)
}

// LoadRuntimeData implements storage.UserRepository.
func (s *Store) LoadRuntimeData(ctx context.Context, userID string) (*types.UserRuntimeData, error) {
	doc, ok, err := s.getDoc(ctx, s.db, bulk.CollectionUsers, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	var u types.User
	if err := storage.DecodeDocument(doc, &u); err != nil {
		return nil, err
	}

	var (
		codeHash, memory, active, interShard string
		modulesRaw, segmentsRaw              []byte
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT code_hash, modules, memory, segments, active_segments, inter_shard
		 FROM user_runtime WHERE user_id = ?`, userID).
		Scan(&codeHash, &modulesRaw, &memory, &segmentsRaw, &active, &interShard)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load runtime %s: %w", userID, err)
	}

	modules, err := storage.DecodeModules(modulesRaw)
	if err != nil {
		return nil, err
	}
	all, err := storage.DecodeSegments(segmentsRaw)
	if err != nil {
		return nil, err
	}
	var activeIDs []int
	if err := json.Unmarshal([]byte(active), &activeIDs); err != nil {
		return nil, fmt.Errorf("decode active segments %s: %w", userID, err)
	}
	segments := make(map[int]string, len(activeIDs))
	for _, id := range activeIDs {
		if data, ok := all[id]; ok {
			segments[id] = data
		}
	}

	return &types.UserRuntimeData{
		UserID:            userID,
		CodeHash:          codeHash,
		Modules:           modules,
		CPULimit:          u.CPU,
		CPUBucket:         u.CPUAvailable,
		Memory:            memory,
		Segments:          segments,
		ActiveSegments:    activeIDs,
		InterShardSegment: interShard,
	}, nil
}

// SaveRuntimeData implements storage.UserRepository.
func (s *Store) SaveRuntimeData(ctx context.Context, userID string, u *storage.RuntimeUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save runtime %s: begin: %w", userID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var segmentsRaw []byte
	if err = tx.QueryRowContext(ctx, `SELECT segments FROM user_runtime WHERE user_id = ?`, userID).Scan(&segmentsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
		}
		return fmt.Errorf("save runtime %s: %w", userID, err)
	}

	if u.Memory != nil {
		if _, err = tx.ExecContext(ctx, `UPDATE user_runtime SET memory = ? WHERE user_id = ?`, *u.Memory, userID); err != nil {
			return fmt.Errorf("save memory %s: %w", userID, err)
		}
	}
	if len(u.Segments) > 0 {
		var all map[int]string
		if all, err = storage.DecodeSegments(segmentsRaw); err != nil {
			return err
		}
		for id, data := range u.Segments {
			all[id] = data
		}
		var enc []byte
		if enc, err = storage.EncodeSegments(all); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE user_runtime SET segments = ? WHERE user_id = ?`, enc, userID); err != nil {
			return fmt.Errorf("save segments %s: %w", userID, err)
		}
	}
	if u.ActiveSegments != nil {
		var active []byte
		if active, err = json.Marshal(u.ActiveSegments); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE user_runtime SET active_segments = ? WHERE user_id = ?`, string(active), userID); err != nil {
			return fmt.Errorf("save active segments %s: %w", userID, err)
		}
	}
	if u.InterShardSegment != nil {
		if _, err = tx.ExecContext(ctx, `UPDATE user_runtime SET inter_shard = ? WHERE user_id = ?`, *u.InterShardSegment, userID); err != nil {
			return fmt.Errorf("save inter-shard segment %s: %w", userID, err)
		}
	}
	if u.CPUBucket != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET doc = json_set(doc, '$.cpuAvailable', ?) WHERE collection = ? AND id = ?`,
			*u.CPUBucket, bulk.CollectionUsers, userID)
		if err != nil {
			return fmt.Errorf("save cpu bucket %s: %w", userID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save runtime %s: commit: %w", userID, err)
	}
	return nil
}

// LoadUsers implements storage.UserRepository.
func (s *Store) LoadUsers(ctx context.Context, ids []string) (map[string]*types.User, error) {
	out := make(map[string]*types.User, len(ids))
	for _, id := range ids {
		doc, ok, err := s.getDoc(ctx, s.db, bulk.CollectionUsers, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var u types.User
		if err := storage.DecodeDocument(doc, &u); err != nil {
			return nil, err
		}
		out[id] = &u
	}
	return out, nil
}

// --- IntentRepository ---

// SaveRoomIntents implements storage.IntentRepository.
func (s *Store) SaveRoomIntents(ctx context.Context, room, userID string, intents types.UserIntents) error {
	b, err := storage.EncodeIntents(intents)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO room_intents (room, user_id, data) VALUES (?, ?, ?)`, room, userID, b)
	if err != nil {
		return fmt.Errorf("save intents %s/%s: %w", room, userID, err)
	}
	return nil
}

// LoadRoomIntents implements storage.IntentRepository.
func (s *Store) LoadRoomIntents(ctx context.Context, room string) (types.RoomIntents, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, data FROM room_intents WHERE room = ?`, room)
	if err != nil {
		return nil, fmt.Errorf("load intents %s: %w", room, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(types.RoomIntents)
	for rows.Next() {
		var (
			userID string
			data   []byte
		)
		if err := rows.Scan(&userID, &data); err != nil {
			return nil, fmt.Errorf("scan intents %s: %w", room, err)
		}
		ui, err := storage.DecodeIntents(data)
		if err != nil {
			return nil, fmt.Errorf("room %s user %s: %w", room, userID, err)
		}
		out[userID] = ui
	}
	return out, rows.Err()
}

// ClearRoomIntents implements storage.IntentRepository.
func (s *Store) ClearRoomIntents(ctx context.Context, room string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_intents WHERE room = ?`, room); err != nil {
		return fmt.Errorf("clear intents %s: %w", room, err)
	}
	return nil
}

// RoomsWithIntents implements storage.IntentRepository.
func (s *Store) RoomsWithIntents(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT DISTINCT room FROM room_intents ORDER BY room`)
}

// SaveGlobalIntents implements storage.IntentRepository.
func (s *Store) SaveGlobalIntents(ctx context.Context, userID string, intents map[string][]map[string]any) error {
	b, err := storage.EncodeGlobalIntents(intents)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO global_intents (user_id, data) VALUES (?, ?)`, userID, b); err != nil {
		return fmt.Errorf("save global intents %s: %w", userID, err)
	}
	return nil
}

// LoadGlobalIntents implements storage.IntentRepository.
func (s *Store) LoadGlobalIntents(ctx context.Context, userID string) (map[string][]map[string]any, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM global_intents WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string][]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load global intents %s: %w", userID, err)
	}
	return storage.DecodeGlobalIntents(data)
}

// --- RoomRepository ---

// ActiveRoomNames implements storage.RoomRepository.
func (s *Store) ActiveRoomNames(ctx context.Context) ([]string, error) {
	return s.ids(ctx,
		`SELECT id FROM documents WHERE collection = ? AND json_extract(doc, '$.active') = 1 ORDER BY id`,
		bulk.CollectionRooms)
}

// LoadRoom implements storage.RoomRepository.
func (s *Store) LoadRoom(ctx context.Context, room string) (*types.RoomInfo, error) {
	doc, ok, err := s.getDoc(ctx, s.db, bulk.CollectionRooms, room)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRoomNotFound, room)
	}
	var info types.RoomInfo
	if err := storage.DecodeDocument(doc, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LoadObjects implements storage.RoomRepository.
func (s *Store) LoadObjects(ctx context.Context, room string) (map[string]*types.RoomObject, error) {
	out := make(map[string]*types.RoomObject)
	err := s.roomDocs(ctx, bulk.CollectionObjects, room, func(raw []byte) error {
		var o types.RoomObject
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("decode object: %w", err)
		}
		out[o.ID] = &o
		return nil
	})
	return out, err
}

// LoadFlags implements storage.RoomRepository.
func (s *Store) LoadFlags(ctx context.Context, room string) ([]types.Flag, error) {
	var out []types.Flag
	err := s.roomDocs(ctx, bulk.CollectionFlags, room, func(raw []byte) error {
		var f types.Flag
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decode flag: %w", err)
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// LoadTerrain implements storage.RoomRepository.
func (s *Store) LoadTerrain(ctx context.Context, room string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM terrain WHERE room = ?`, room).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load terrain %s: %w", room, err)
	}
	return data, nil
}

// LoadAllTerrain implements storage.RoomRepository.
func (s *Store) LoadAllTerrain(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room, data FROM terrain`)
	if err != nil {
		return nil, fmt.Errorf("load terrain: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string][]byte)
	for rows.Next() {
		var (
			room string
			data []byte
		)
		if err := rows.Scan(&room, &data); err != nil {
			return nil, fmt.Errorf("scan terrain: %w", err)
		}
		out[room] = data
	}
	return out, rows.Err()
}

// --- EnvironmentRepository ---

// GameTime implements storage.EnvironmentRepository.
func (s *Store) GameTime(ctx context.Context) (int64, error) {
	var t int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM environment WHERE key = 'gameTime'`).Scan(&t); err != nil {
		return 0, fmt.Errorf("game time: %w", err)
	}
	return t, nil
}

// AdvanceGameTime implements storage.EnvironmentRepository.
func (s *Store) AdvanceGameTime(ctx context.Context) (int64, error) {
	var t int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE environment SET value = value + 1 WHERE key = 'gameTime' RETURNING value`).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("advance game time: %w", err)
	}
	return t, nil
}

// --- bulk.Store ---

// BulkWrite implements bulk.Store inside one transaction. Updates of
// unknown ids are no-ops.
func (s *Store) BulkWrite(ctx context.Context, batch *bulk.Batch) (err error) {
	if !collections[batch.Collection] {
		return fmt.Errorf("%w: %s", storage.ErrUnknownCollection, batch.Collection)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk %s: begin: %w", batch.Collection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range batch.Ops {
		switch op.Kind {
		case bulk.OpInsert:
			room, _ := op.Doc["room"].(string)
			if batch.Collection == bulk.CollectionRooms {
				room = op.ID
			}
			if err = s.putDoc(ctx, tx, batch.Collection, op.ID, room, op.Doc); err != nil {
				return err
			}
		case bulk.OpRemove:
			if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, batch.Collection, op.ID); err != nil {
				return fmt.Errorf("bulk remove %s/%s: %w", batch.Collection, op.ID, err)
			}
		default:
			var (
				doc    map[string]any
				exists bool
			)
			doc, exists, err = s.getDoc(ctx, tx, batch.Collection, op.ID)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			bulk.ApplyOperation(doc, op)
			room, _ := doc["room"].(string)
			if batch.Collection == bulk.CollectionRooms {
				room = op.ID
			}
			if err = s.putDoc(ctx, tx, batch.Collection, op.ID, room, doc); err != nil {
				return err
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("bulk %s: commit: %w", batch.Collection, err)
	}
	return nil
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return slices.Clone(ids)
}

var _ storage.Store = (*Store)(nil)
