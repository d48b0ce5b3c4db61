package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/types"
)

// DefaultSnapshotTTL bounds how long cached room metadata is trusted.
const DefaultSnapshotTTL = time.Minute

// RoomStatic is the slow-changing part of a room.
type RoomStatic struct {
	Info    *types.RoomInfo
	Terrain []byte
	loaded  time.Time
}

// SnapshotProvider caches terrain and room documents per room. Objects,
// flags and intents are always loaded fresh.
type SnapshotProvider struct {
	rooms storage.RoomRepository
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]*RoomStatic
}

// NewSnapshotProvider creates a provider. A non-positive ttl takes the default.
func NewSnapshotProvider(rooms storage.RoomRepository, ttl time.Duration) *SnapshotProvider {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotProvider{
		rooms: rooms,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]*RoomStatic),
	}
}

// Get returns the cached static data of room, loading it when missing or stale.
func (p *SnapshotProvider) Get(ctx context.Context, room string) (*RoomStatic, error) {
	p.mu.Lock()
	cached, ok := p.cache[room]
	p.mu.Unlock()
	if ok && p.now().Sub(cached.loaded) < p.ttl {
		return cached, nil
	}

	info, err := p.rooms.LoadRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", room, err)
	}
	terrain, err := p.rooms.LoadTerrain(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load terrain of %s: %w", room, err)
	}
	if len(terrain) != types.TileCount {
		return nil, fmt.Errorf("room %s: %w", room, storage.ErrInvalidTerrain)
	}
	static := &RoomStatic{Info: info, Terrain: terrain, loaded: p.now()}

	p.mu.Lock()
	p.cache[room] = static
	p.mu.Unlock()
	return static, nil
}

// Put replaces the cached room document after a commit, keeping terrain.
func (p *SnapshotProvider) Put(room string, info *types.RoomInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cached, ok := p.cache[room]
	if !ok {
		return
	}
	cp := *info
	p.cache[room] = &RoomStatic{Info: &cp, Terrain: cached.Terrain, loaded: cached.loaded}
}

// Invalidate drops room from the cache.
func (p *SnapshotProvider) Invalidate(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, room)
}

// Len returns the number of cached rooms.
func (p *SnapshotProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
