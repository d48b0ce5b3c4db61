package runtime

import (
	"context"

	"github.com/pithecene-io/colony/types"
)

// Sandbox executes one tenant's bundle for one tick.
//
// Implementations enforce ec.TickLimit and the heap ceiling and report
// tenant faults through ExecutionResult.Metrics (TimedOut, ScriptError).
// A returned error means the sandbox itself failed. A timed-out run must
// leave Memory nil.
type Sandbox interface {
	Execute(ctx context.Context, b *Bundle, ec *types.ExecutionContext) (*types.ExecutionResult, error)
}

// SandboxFunc adapts a function to Sandbox.
type SandboxFunc func(ctx context.Context, b *Bundle, ec *types.ExecutionContext) (*types.ExecutionResult, error)

// Execute implements Sandbox.
func (f SandboxFunc) Execute(ctx context.Context, b *Bundle, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	return f(ctx, b, ec)
}
