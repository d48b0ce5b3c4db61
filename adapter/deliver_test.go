package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	env := NewEnvelope(EventConsole, nil)
	calls := 0
	err := Deliver(t.Context(), "test", env, Backoff{Retries: 3, Base: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDeliver_PermanentStopsImmediately(t *testing.T) {
	env := NewEnvelope(EventNotification, nil)
	calls := 0
	cause := errors.New("rejected")
	err := Deliver(t.Context(), "test", env, Backoff{Retries: 5, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return &PermanentError{Err: cause}
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de.Attempts != 1 || de.EventType != EventNotification {
		t.Fatalf("unexpected error %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain, got %v", err)
	}
}

func TestDeliver_ExhaustsRetries(t *testing.T) {
	env := NewEnvelope(EventRoomTelemetry, nil)
	calls := 0
	err := Deliver(t.Context(), "test", env, Backoff{Retries: 2, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	var de *DeliveryError
	if !errors.As(err, &de) || de.Attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got calls=%d err=%v", calls, err)
	}
}

func TestDeliver_RetryAfterExtendsWait(t *testing.T) {
	env := NewEnvelope(EventConsole, nil)
	calls := 0
	start := time.Now()
	err := Deliver(t.Context(), "test", env, Backoff{Retries: 1, Base: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 1 {
			return &RetryAfterError{Err: errors.New("slow down"), After: 50 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait at least 50ms, waited %v", elapsed)
	}
}

func TestDeliver_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Deliver(ctx, "test", NewEnvelope(EventConsole, nil), Backoff{}, func(context.Context) error {
		t.Fatal("send must not run on a canceled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond}
	if got := b.Delay(1); got != 10*time.Millisecond {
		t.Errorf("Delay(1) = %v", got)
	}
	if got := b.Delay(3); got != 40*time.Millisecond {
		t.Errorf("Delay(3) = %v", got)
	}
	if got := (Backoff{}).Delay(1); got != DefaultBaseBackoff {
		t.Errorf("default Delay(1) = %v", got)
	}
	if err := (Backoff{Retries: -1}).Validate(); err == nil {
		t.Error("expected negative retries to fail validation")
	}
}
