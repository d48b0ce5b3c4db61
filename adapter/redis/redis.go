// Package redis publishes colony envelopes on Redis pub/sub.
//
// Telemetry and watchdog alerts go to the configured channel. Console and
// notification envelopes carry their own per-user channel, which wins.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/colony/adapter"
)

// DefaultChannel receives envelopes that name no channel of their own.
const DefaultChannel = "colony:events"

// DefaultTimeout bounds one PUBLISH round trip.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is how many times a failed PUBLISH is repeated.
const DefaultRetries = 3

// Config configures a publisher.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL     string
	Channel string
	Timeout time.Duration
	Retries int
	// BaseBackoff is the first retry delay, doubled per retry.
	BaseBackoff time.Duration
}

// Adapter publishes envelopes with PUBLISH.
type Adapter struct {
	config  Config
	backoff adapter.Backoff
	client  *goredis.Client
}

// New validates cfg and creates a lazily connecting client.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	backoff := adapter.Backoff{Retries: cfg.Retries, Base: cfg.BaseBackoff}
	if err := backoff.Validate(); err != nil {
		return nil, fmt.Errorf("redis publisher: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, backoff: backoff, client: goredis.NewClient(opts)}, nil
}

// ChannelFor resolves where env is published.
func (a *Adapter) ChannelFor(env *adapter.Envelope) string {
	if env.Channel != "" {
		return env.Channel
	}
	return a.config.Channel
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, env *adapter.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	channel := a.ChannelFor(env)
	return adapter.Deliver(ctx, "redis "+channel, env, a.backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(ctx, channel, body).Err()
	})
}

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
