// Package adapter defines the downstream publishing boundary.
//
// Adapters deliver JSON envelopes (telemetry, watchdog alerts, console output,
// notifications) to systems outside the tick backend. Delivery is best-effort:
// callers log failures and move on.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/colony/types"
)

// Event types carried in Envelope.EventType.
const (
	EventRuntimeTelemetry = "runtime_telemetry"
	EventWatchdogAlert    = "watchdog_alert"
	EventRoomTelemetry    = "room_telemetry"
	EventConsole          = "console"
	EventNotification     = "notification"
)

// Envelope is the JSON document published downstream.
type Envelope struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	Payload         any    `json:"payload"`

	// Channel overrides the adapter's default destination when the transport
	// supports addressing (Redis channel). Not serialized.
	Channel string `json:"-"`
}

// NewEnvelope stamps an envelope with the contract version and current time.
func NewEnvelope(eventType string, payload any) *Envelope {
	return &Envelope{
		ContractVersion: types.Version,
		EventType:       eventType,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Payload:         payload,
	}
}

// Adapter publishes envelopes to a downstream system.
type Adapter interface {
	// Publish sends one envelope. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, env *Envelope) error

	// Close releases adapter resources.
	Close() error
}
