package models

import "time"

// RuntimeEventType defines the types of runtime events.
type RuntimeEventType string

const (
	// EventIterationStart indicates a new agentic loop iteration.
	EventIterationStart RuntimeEventType = "iteration_start"

	// EventIterationEnd indicates an agentic loop iteration has ended.
	EventIterationEnd RuntimeEventType = "iteration_end"

	// EventCompressionStart indicates context compression is in progress.
	EventCompressionStart RuntimeEventType = "compression_start"

	// EventCompressionEnd indicates context compression has completed.
	EventCompressionEnd RuntimeEventType = "compression_end"

	// EventToolStarted indicates a tool has started executing.
	EventToolStarted RuntimeEventType = "tool_started"

	// EventToolCompleted indicates a tool has completed.
	EventToolCompleted RuntimeEventType = "tool_completed"

	// EventPhaseAdvanced indicates the orchestrator moved to the next phase.
	EventPhaseAdvanced RuntimeEventType = "phase_advanced"

	// EventInterrupt indicates the loop suspended waiting for human input.
	EventInterrupt RuntimeEventType = "interrupt"
)

// RuntimeEvent is a lifecycle event emitted by the agent loop for
// observability. Events carry no state; they are the structured log of the
// run.
type RuntimeEvent struct {
	Type       RuntimeEventType `json:"type"`
	Message    string           `json:"message,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Iteration  int              `json:"iteration,omitempty"`
	Phase      string           `json:"phase,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
	At         time.Time        `json:"at,omitempty"`
}

// InterruptTypePlanApproval identifies plan-approval interrupts.
const InterruptTypePlanApproval = "plan_approval_request"

// Interrupt is a structured suspension request emitted when the run needs
// human input. The host resumes the loop by supplying an InterruptResponse.
type Interrupt struct {
	Type          string            `json:"type"`
	ToolCallID    string            `json:"tool_call_id,omitempty"`
	PlanID        string            `json:"plan_id,omitempty"`
	PlanType      string            `json:"plan_type,omitempty"`
	FormattedPlan string            `json:"formatted_plan,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	Instructions  string            `json:"instructions,omitempty"`
}

// Approval actions accepted by InterruptResponse.
const (
	ApprovalActionApprove = "approve"
	ApprovalActionEdit    = "edit"
	ApprovalActionReject  = "reject"
)

// InterruptResponse is the host's answer to an Interrupt.
type InterruptResponse struct {
	Action        string             `json:"action"`
	Modifications *PlanModifications `json:"modifications,omitempty"`
	Feedback      string             `json:"feedback,omitempty"`
}

// NewPlanApprovalInterrupt builds the plan-approval interrupt for a plan.
func NewPlanApprovalInterrupt(p Plan) *Interrupt {
	return &Interrupt{
		Type:          InterruptTypePlanApproval,
		PlanID:        p.ID,
		PlanType:      p.Type,
		FormattedPlan: p.FormatForReview(),
		Options: map[string]string{
			ApprovalActionApprove: "Approve plan as-is and proceed",
			ApprovalActionEdit:    "Request modifications to the plan",
			ApprovalActionReject:  "Reject plan and request complete replanning",
		},
		Instructions: "Review the plan and choose an action",
	}
}
