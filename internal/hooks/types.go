// Package hooks provides the typed, priority-ordered hook pipeline. Hooks
// are the extension point of the agent loop. Compression runs as a hook;
// archiving of oversized tool output runs inside the loop's tool dispatch.
package hooks

import (
	"context"
	"time"

	"github.com/haasonsaas/deepplan/internal/state"
)

// Kind identifies where in the loop a hook runs.
type Kind string

const (
	KindPreStep      Kind = "pre_step"
	KindPostStep     Kind = "post_step"
	KindPreTool      Kind = "pre_tool"
	KindPostTool     Kind = "post_tool"
	KindPreMessage   Kind = "pre_message"
	KindPostMessage  Kind = "post_message"
	KindPreSubagent  Kind = "pre_subagent"
	KindPostSubagent Kind = "post_subagent"
)

// Kinds lists every hook kind. The loop dispatches only the kinds it has
// dispatch points for; registering an undispatched kind is legal and inert.
var Kinds = []Kind{
	KindPreStep, KindPostStep,
	KindPreTool, KindPostTool,
	KindPreMessage, KindPostMessage,
	KindPreSubagent, KindPostSubagent,
}

// Priorities. Lower runs earlier; higher-priority deltas merge first.
const (
	PriorityHighest = 1
	PriorityHigh    = 25
	PriorityNormal  = 50
	PriorityLow     = 75
	PriorityLowest  = 100
)

// HookContext is the read-only input passed to every hook. State is a
// snapshot: all hooks of one chain observe the same message sequence, and a
// hook's only effect on the run is the Result it returns. Each chain gets a
// fresh snapshot, so later chains of an iteration see the deltas and
// messages added before them.
type HookContext struct {
	Kind      Kind
	State     *state.AgentState
	Metadata  map[string]any
	Timestamp time.Time
}

// Result is a hook's optional effect. A nil *Result means "no change".
type Result struct {
	// Update is merged into state after the hook chain for this kind runs.
	Update state.Update

	// Fatal escalates the current failure. Set by a pre_tool or post_tool
	// hook, it aborts the loop; for other kinds it is logged and the run
	// continues.
	Fatal bool

	// FatalReason is the human-readable reason for a fatal escalation.
	FatalReason string
}

// Func is a hook implementation. Hooks must be side-effect-free with respect
// to external I/O except for logging. An error return is recorded and treated
// as a no-op; it never aborts the chain.
type Func func(ctx context.Context, hc *HookContext) (*Result, error)

// Stats tracks per-hook execution counts.
type Stats struct {
	Runs     int `json:"runs"`
	Errors   int `json:"errors"`
	Panics   int `json:"panics"`
	Applied  int `json:"applied"`
	Duration time.Duration `json:"-"`
}
