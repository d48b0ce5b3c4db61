// Package webhook POSTs colony envelopes to an HTTP endpoint.
//
// Each request carries the envelope as its JSON body plus X-Colony-Event and
// X-Colony-Contract headers, so receivers can route without decoding. 5xx
// responses and transport errors are retried; 429 honours Retry-After; any
// other 4xx gives up at once.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/iox"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is how many times a failed request is repeated.
const DefaultRetries = 3

// Request headers set on every delivery.
const (
	HeaderEvent    = "X-Colony-Event"
	HeaderContract = "X-Colony-Contract"
)

// Config configures a webhook publisher.
type Config struct {
	URL string
	// Headers are added to every request, e.g. Authorization.
	Headers map[string]string
	Timeout time.Duration
	Retries int
	// BaseBackoff is the first retry delay, doubled per retry.
	BaseBackoff time.Duration
}

// Adapter delivers envelopes by HTTP POST.
type Adapter struct {
	config  Config
	backoff adapter.Backoff
	client  *http.Client
}

// New validates cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook publisher requires a URL")
	}
	backoff := adapter.Backoff{Retries: cfg.Retries, Base: cfg.BaseBackoff}
	if err := backoff.Validate(); err != nil {
		return nil, fmt.Errorf("webhook publisher: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config:  cfg,
		backoff: backoff,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, env *adapter.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	return adapter.Deliver(ctx, "webhook", env, a.backoff, func(ctx context.Context) error {
		return a.post(ctx, env, body)
	})
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (a *Adapter) post(ctx context.Context, env *adapter.Envelope, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return &adapter.PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, env.EventType)
	req.Header.Set(HeaderContract, env.ContractVersion)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", env.EventType, err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	return classify(resp)
}

// classify maps a response to nil, a retriable error or a permanent one.
func classify(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &adapter.RetryAfterError{Err: &StatusError{Code: code}, After: retryAfter(resp.Header.Get("Retry-After"))}
	case code >= 400 && code < 500:
		return &adapter.PermanentError{Err: &StatusError{Code: code}}
	}
	return &StatusError{Code: code}
}

// retryAfter parses the delay-seconds form of Retry-After. HTTP dates and
// garbage yield zero, leaving the regular backoff in charge.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close implements adapter.Adapter.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
