package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultBaseBackoff is the first retry delay when a publisher sets none.
const DefaultBaseBackoff = 500 * time.Millisecond

// Backoff is a publisher's retry schedule: one attempt plus Retries more,
// retry n waiting Base << (n-1).
type Backoff struct {
	Retries int
	Base    time.Duration
}

// Validate rejects negative retry counts.
func (b Backoff) Validate() error {
	if b.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", b.Retries)
	}
	return nil
}

// Delay is the wait before retry n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	return base << (n - 1)
}

// PermanentError marks a delivery failure no retry can fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RetryAfterError asks for at least After before the next attempt.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error { return e.Err }

// DeliveryError reports an envelope a transport gave up on.
type DeliveryError struct {
	Transport string
	EventType string
	Attempts  int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s envelope undelivered after %d attempt(s): %v",
		e.Transport, e.EventType, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.EventType, err)
	}
	return body, nil
}

// Deliver calls send until it succeeds, fails permanently, runs out of
// retries or ctx ends. Every failure comes back as a *DeliveryError.
func Deliver(ctx context.Context, transport string, env *Envelope, b Backoff, send func(context.Context) error) error {
	fail := func(attempts int, err error) error {
		return &DeliveryError{Transport: transport, EventType: env.EventType, Attempts: attempts, Err: err}
	}

	var lastErr error
	attempts := 1 + max(b.Retries, 0)
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fail(i, err)
		}
		if i > 0 {
			wait := b.Delay(i)
			var ra *RetryAfterError
			if errors.As(lastErr, &ra) && ra.After > wait {
				wait = ra.After
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fail(i, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = send(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return fail(i+1, lastErr)
		}
	}
	return fail(attempts, lastErr)
}
