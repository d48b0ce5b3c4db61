package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
)

// DefaultDataset is the lode dataset id for room history.
const DefaultDataset = "room_history"

// Record kinds written to the dataset.
const (
	RecordKindTick  = "tick"
	RecordKindChunk = "chunk"
)

// Config configures a LodeSink.
type Config struct {
	Dataset   string
	ChunkSize int
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

type openChunk struct {
	chunk *Chunk
	last  map[string]map[string]any
}

// LodeSink writes tick records to a lode dataset partitioned by room and
// chunk, and uploads compressed diff chunks as files next to them.
type LodeSink struct {
	dataset lode.Dataset
	config  Config
	logger  *log.Logger
	metrics *metrics.Collector

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	mu   sync.Mutex
	open map[string]*openChunk
}

// Option configures a LodeSink.
type Option func(*LodeSink)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *LodeSink) { s.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(s *LodeSink) { s.metrics = m } }

// NewLodeSink creates a sink over a store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeSink(cfg Config, factory lode.StoreFactory, opts ...Option) (*LodeSink, error) {
	cfg = cfg.withDefaults()
	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("room", "chunk"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, fmt.Errorf("create history dataset: %w", err)
	}
	s := &LodeSink{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
		open:         make(map[string]*openChunk),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).Named("history")
	return s, nil
}

// NewFSSink creates a sink rooted at a local directory.
func NewFSSink(cfg Config, root string, opts ...Option) (*LodeSink, error) {
	return NewLodeSink(cfg, lode.NewFSFactory(root), opts...)
}

// Dataset returns the underlying dataset.
func (s *LodeSink) Dataset() lode.Dataset { return s.dataset }

func (s *LodeSink) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.storeFactory()
	})
	return s.store, s.storeErr
}

// ChunkPath is the Hive-partitioned file path of a chunk.
func ChunkPath(dataset, room string, base int64) string {
	return fmt.Sprintf("datasets/%s/partitions/room=%s/chunk=%d/files/history-%d.json.zst",
		dataset, room, base, base)
}

// AppendTick implements Sink. Ticks of one room must arrive in game time
// order; a tick from a new chunk closes the previous one.
func (s *LodeSink) AppendTick(ctx context.Context, t *Tick) error {
	err := s.appendTick(ctx, t)
	s.metrics.RecordHistoryWrite(err)
	return err
}

func (s *LodeSink) appendTick(ctx context.Context, t *Tick) error {
	if t.Room == "" {
		return errors.New("history tick requires a room")
	}
	base := ChunkBase(t.GameTime, s.config.ChunkSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	oc := s.open[t.Room]
	if oc != nil && ChunkBase(oc.chunk.BaseTime, s.config.ChunkSize) != base {
		if err := s.uploadLocked(ctx, oc.chunk); err != nil {
			return err
		}
		delete(s.open, t.Room)
		oc = nil
	}
	if oc == nil {
		oc = &openChunk{chunk: newChunk(t.Room, t.GameTime, t.Objects)}
		s.open[t.Room] = oc
	} else {
		oc.chunk.addTick(t.GameTime, Diff(oc.last, t.Objects))
	}
	oc.last = t.Objects

	record := map[string]any{
		"record_kind":  RecordKindTick,
		"room":         t.Room,
		"chunk":        strconv.FormatInt(base, 10),
		"game_time":    t.GameTime,
		"object_count": len(t.Objects),
		"events":       t.Events,
	}
	if _, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return fmt.Errorf("write history tick %s@%d: %w", t.Room, t.GameTime, err)
	}

	if t.GameTime == base+int64(s.config.ChunkSize)-1 {
		if err := s.uploadLocked(ctx, oc.chunk); err != nil {
			return err
		}
		delete(s.open, t.Room)
	}
	return nil
}

// uploadLocked compresses and stores a chunk. Caller must hold mu.
func (s *LodeSink) uploadLocked(ctx context.Context, c *Chunk) error {
	store, err := s.getOrCreateStore()
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	data, err := c.Encode()
	if err != nil {
		return err
	}
	base := ChunkBase(c.BaseTime, s.config.ChunkSize)
	path := ChunkPath(s.config.Dataset, c.Room, base)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload history chunk %s: %w", path, err)
	}

	record := map[string]any{
		"record_kind": RecordKindChunk,
		"room":        c.Room,
		"chunk":       strconv.FormatInt(base, 10),
		"path":        path,
		"base_time":   c.BaseTime,
		"ticks":       c.Len(),
		"bytes":       len(data),
	}
	if _, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return fmt.Errorf("write chunk record %s: %w", path, err)
	}
	s.logger.Debug("history chunk uploaded", map[string]any{
		"room":  c.Room,
		"path":  path,
		"ticks": c.Len(),
		"bytes": len(data),
	})
	return nil
}

// Flush implements Sink.
func (s *LodeSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for room, oc := range s.open {
		if err := s.uploadLocked(ctx, oc.chunk); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(s.open, room)
	}
	return errors.Join(errs...)
}

// Close implements Sink. Open chunks are flushed.
func (s *LodeSink) Close() error {
	return s.Flush(context.Background())
}

// ReadChunk downloads and decodes the chunk of room starting at base.
func (s *LodeSink) ReadChunk(ctx context.Context, room string, base int64) (*Chunk, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	rc, err := store.Get(ctx, ChunkPath(s.config.Dataset, room, base))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return DecodeChunk(data)
}

var _ Sink = (*LodeSink)(nil)
