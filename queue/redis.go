package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces queue keys.
const DefaultKeyPrefix = "colony:queue"

// drainPollInterval is how often WaitUntilDrained re-checks list lengths.
const drainPollInterval = 25 * time.Millisecond

// RedisQueue is a Queue backed by two Redis lists.
//
// Enqueue pushes to the pending list head; Fetch atomically moves the tail
// of pending onto the processing list (BLMOVE), so a crashed consumer leaves
// its id visible in processing rather than losing it. MarkDone removes one
// occurrence from processing.
type RedisQueue struct {
	name       string
	client     goredis.UniversalClient
	pending    string
	processing string
}

// NewRedisQueue creates a queue over an existing client.
func NewRedisQueue(client goredis.UniversalClient, prefix, name string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisQueue{
		name:       name,
		client:     client,
		pending:    fmt.Sprintf("%s:%s:pending", prefix, name),
		processing: fmt.Sprintf("%s:%s:processing", prefix, name),
	}
}

// Name implements Queue.
func (q *RedisQueue) Name() string { return q.name }

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.LPush(ctx, q.pending, id).Err(); err != nil {
		return fmt.Errorf("queue %s: enqueue: %w", q.name, err)
	}
	return nil
}

// EnqueueMany implements Queue.
func (q *RedisQueue) EnqueueMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	if err := q.client.LPush(ctx, q.pending, vals...).Err(); err != nil {
		return fmt.Errorf("queue %s: enqueue %d ids: %w", q.name, len(ids), err)
	}
	return nil
}

// Fetch implements Queue.
func (q *RedisQueue) Fetch(ctx context.Context, timeout time.Duration) (string, bool, error) {
	id, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		return "", false, fmt.Errorf("queue %s: fetch: %w", q.name, err)
	}
	return id, true, nil
}

// MarkDone implements Queue.
func (q *RedisQueue) MarkDone(ctx context.Context, id string) error {
	if err := q.client.LRem(ctx, q.processing, 1, id).Err(); err != nil {
		return fmt.Errorf("queue %s: mark done %q: %w", q.name, id, err)
	}
	return nil
}

// Reset implements Queue.
func (q *RedisQueue) Reset(ctx context.Context) error {
	if err := q.client.Del(ctx, q.pending, q.processing).Err(); err != nil {
		return fmt.Errorf("queue %s: reset: %w", q.name, err)
	}
	return nil
}

// WaitUntilDrained implements Queue by polling both list lengths.
func (q *RedisQueue) WaitUntilDrained(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		pipe := q.client.Pipeline()
		pending := pipe.LLen(ctx, q.pending)
		processing := pipe.LLen(ctx, q.processing)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("queue %s: drain check: %w", q.name, err)
		}
		if pending.Val() == 0 && processing.Val() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Depth implements Queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", q.name, err)
	}
	return n, nil
}

// RedisConfig configures a RedisFactory.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces keys (default colony:queue).
	Prefix string
}

// RedisFactory opens queues sharing one Redis client.
type RedisFactory struct {
	client *goredis.Client
	prefix string
}

// NewRedisFactory connects to Redis. The connection is lazy.
func NewRedisFactory(cfg RedisConfig) (*RedisFactory, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis queue requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis queue: invalid URL: %w", err)
	}
	return &RedisFactory{client: goredis.NewClient(opts), prefix: cfg.Prefix}, nil
}

// Open implements Factory.
func (f *RedisFactory) Open(name string) (Queue, error) {
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return NewRedisQueue(f.client, f.prefix, name), nil
}

// Close releases the client.
func (f *RedisFactory) Close() error {
	return f.client.Close()
}

var (
	_ Queue   = (*RedisQueue)(nil)
	_ Factory = (*RedisFactory)(nil)
)
