// Package runtime runs one tenant's tick: throttle check, context load,
// bundle resolution, sandbox execution and result persistence.
package runtime

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// EntryModule is the module a bundle starts from.
const EntryModule = "main"

// DefaultBundleCacheSize bounds the cache when no size is configured.
const DefaultBundleCacheSize = 256

// Bundle is a normalized, compiled script bundle keyed by code hash.
// Bundles are immutable once built and shared between tenants with
// identical code.
type Bundle struct {
	Hash    string
	Entry   string
	Modules map[string]string
	// Compiled is the host-specific compiled form.
	Compiled any
	// Size is the total source size in bytes.
	Size int
}

// Compiler turns module sources into a Bundle.
// Tenant code that does not compile yields a *CompileError.
type Compiler interface {
	Compile(hash string, modules map[string]string) (*Bundle, error)
}

// CompileError reports tenant code that failed to compile. It is a tenant
// fault: the coordinator turns it into a script error result.
type CompileError struct {
	Module string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("compile: %v", e.Err)
	}
	return fmt.Sprintf("compile %s: %v", e.Module, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Kind implements the scheduler error kind contract.
func (e *CompileError) Kind() string { return "CompileError" }

// ErrNoEntryModule is returned for bundles without a main module.
var ErrNoEntryModule = errors.New("bundle has no main module")

// CacheStats reports bundle cache activity.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Compiles  int64 `json:"compiles"`
	Entries   int   `json:"entries"`
}

// BundleCache is a content-addressed LRU of compiled bundles. Concurrent
// requests for the same hash compile once.
type BundleCache struct {
	compiler Compiler
	capacity int
	group    singleflight.Group

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
	stats CacheStats
}

// NewBundleCache creates a cache holding at most capacity bundles.
func NewBundleCache(compiler Compiler, capacity int) *BundleCache {
	if capacity <= 0 {
		capacity = DefaultBundleCacheSize
	}
	return &BundleCache{
		compiler: compiler,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// GetOrAdd returns the bundle for hash, compiling modules on a miss.
// Compile failures are not cached.
func (c *BundleCache) GetOrAdd(hash string, modules map[string]string) (*Bundle, error) {
	if b := c.get(hash); b != nil {
		return b, nil
	}

	v, err, _ := c.group.Do(hash, func() (any, error) {
		// A concurrent caller may have filled the slot while we queued.
		if b := c.peek(hash); b != nil {
			return b, nil
		}
		c.mu.Lock()
		c.stats.Compiles++
		c.mu.Unlock()

		b, err := c.compiler.Compile(hash, modules)
		if err != nil {
			return nil, err
		}
		c.put(b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

func (c *BundleCache) get(hash string) *Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[hash]
	if !ok {
		c.stats.Misses++
		return nil
	}
	c.stats.Hits++
	c.order.MoveToFront(el)
	return el.Value.(*Bundle)
}

func (c *BundleCache) peek(hash string) *Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[hash]; ok {
		return el.Value.(*Bundle)
	}
	return nil
}

func (c *BundleCache) put(b *Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[b.Hash]; ok {
		el.Value = b
		c.order.MoveToFront(el)
		return
	}
	c.items[b.Hash] = c.order.PushFront(b)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*Bundle).Hash)
		c.stats.Evictions++
	}
}

// Invalidate drops one bundle.
func (c *BundleCache) Invalidate(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[hash]; ok {
		c.order.Remove(el)
		delete(c.items, hash)
	}
}

// Len returns the number of cached bundles.
func (c *BundleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of cache counters.
func (c *BundleCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	return s
}
