package agent

import (
	"context"

	"github.com/haasonsaas/deepplan/internal/state"
)

type contextKey string

const stateSnapshotKey contextKey = "state_snapshot"

// WithStateSnapshot attaches a state snapshot for tool execution. Tools read
// the virtual filesystem and todos through it; writes flow back through
// ToolOutput.Update, never through the snapshot.
func WithStateSnapshot(ctx context.Context, snapshot *state.AgentState) context.Context {
	return context.WithValue(ctx, stateSnapshotKey, snapshot)
}

// StateSnapshotFromContext returns the attached state snapshot, or nil.
func StateSnapshotFromContext(ctx context.Context) *state.AgentState {
	if snapshot, ok := ctx.Value(stateSnapshotKey).(*state.AgentState); ok {
		return snapshot
	}
	return nil
}
