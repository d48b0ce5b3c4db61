package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/colony/bulk"
	"github.com/pithecene-io/colony/types"
)

// Seed is a YAML world description used to bootstrap a store.
type Seed struct {
	GameTime int64      `yaml:"gameTime"`
	Users    []SeedUser `yaml:"users"`
	Rooms    []SeedRoom `yaml:"rooms"`
}

// SeedUser describes one tenant.
type SeedUser struct {
	ID           string            `yaml:"id"`
	Username     string            `yaml:"username"`
	CPU          int               `yaml:"cpu"`
	CPUAvailable int               `yaml:"cpuAvailable"`
	Active       bool              `yaml:"active"`
	Memory       string            `yaml:"memory"`
	Modules      map[string]string `yaml:"modules"`
}

// SeedRoom describes one room. Terrain is 50 rows of 50 characters:
// '#' wall, '~' swamp, anything else plain. Empty terrain is all plain.
// Objects use document field names (`_id`, `hitsMax`, ...).
type SeedRoom struct {
	Name    string           `yaml:"name"`
	Active  bool             `yaml:"active"`
	Terrain []string         `yaml:"terrain"`
	Objects []map[string]any `yaml:"objects"`
	Flags   []types.Flag     `yaml:"flags"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// ParseTerrain converts seed rows into a terrain grid.
func ParseTerrain(rows []string) ([]byte, error) {
	terrain := make([]byte, types.TileCount)
	if len(rows) == 0 {
		return terrain, nil
	}
	if len(rows) != types.RoomSize {
		return nil, fmt.Errorf("%w: got %d rows", ErrInvalidTerrain, len(rows))
	}
	for y, row := range rows {
		if len(row) != types.RoomSize {
			return nil, fmt.Errorf("%w: row %d has %d columns", ErrInvalidTerrain, y, len(row))
		}
		for x := range types.RoomSize {
			switch row[x] {
			case '#':
				terrain[y*types.RoomSize+x] = types.TerrainWall
			case '~':
				terrain[y*types.RoomSize+x] = types.TerrainSwamp
			}
		}
	}
	return terrain, nil
}

// Apply writes the seed into dst.
func (s *Seed) Apply(ctx context.Context, dst Seeder) error {
	if s.GameTime > 0 {
		if err := dst.SetGameTime(ctx, s.GameTime); err != nil {
			return err
		}
	}
	for _, u := range s.Users {
		user := &types.User{
			ID:           u.ID,
			Username:     u.Username,
			CPU:          u.CPU,
			CPUAvailable: u.CPUAvailable,
			Active:       u.Active,
		}
		data := &types.UserRuntimeData{UserID: u.ID, Modules: u.Modules, Memory: u.Memory}
		if err := dst.PutUser(ctx, user, data); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, r := range s.Rooms {
		terrain, err := ParseTerrain(r.Terrain)
		if err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
		if err := dst.PutRoom(ctx, &types.RoomInfo{ID: r.Name, Status: "normal", Active: r.Active}, terrain); err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
		objs := make([]*types.RoomObject, 0, len(r.Objects))
		for i, raw := range r.Objects {
			doc, err := bulk.ToDocument(raw)
			if err != nil {
				return fmt.Errorf("seed room %s object %d: %w", r.Name, i, err)
			}
			var o types.RoomObject
			if err := DecodeDocument(doc, &o); err != nil {
				return fmt.Errorf("seed room %s object %d: %w", r.Name, i, err)
			}
			o.Room = r.Name
			if o.ID == "" {
				o.ID = fmt.Sprintf("%s-%d", r.Name, i)
			}
			objs = append(objs, &o)
		}
		if err := dst.PutObjects(ctx, objs...); err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
		for i := range r.Flags {
			r.Flags[i].Room = r.Name
		}
		if err := dst.PutFlags(ctx, r.Flags...); err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
	}
	return nil
}
