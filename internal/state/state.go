// Package state holds the typed agent state and the reducer through which
// every mutation flows.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// AgentState is the full session state: the live message list plus todos,
// virtual files, plans, phase metadata, and a bounded compression history.
// State is owned by one session and never shared across sessions.
type AgentState struct {
	Messages []models.Message `json:"messages"`
	Todos    []models.Todo    `json:"todos,omitempty"`
	Files    map[string]string `json:"files,omitempty"`

	PendingPlans []models.Plan `json:"pending_plans,omitempty"`
	ApprovedPlan *models.Plan  `json:"approved_plan,omitempty"`

	Phase models.PhaseState `json:"phase"`

	CompressionHistory []models.CompressionRecord `json:"compression_history,omitempty"`

	// Outcome is set when a run terminates.
	Outcome models.Outcome `json:"outcome,omitempty"`

	// Interrupt is set when the loop suspended for human input.
	Interrupt *models.Interrupt `json:"interrupt,omitempty"`
}

// New returns an empty state positioned at the first workflow phase.
func New() *AgentState {
	return &AgentState{
		Files: make(map[string]string),
		Phase: models.PhaseState{CurrentPhase: models.PhaseInvestigation},
	}
}

// Update is a state delta returned by hooks and loop nodes. Zero-value
// fields leave the corresponding state untouched.
type Update struct {
	// Messages are appended, unless the first element is the replace-all
	// sentinel, in which case the remainder becomes the new list.
	Messages []models.Message `json:"messages,omitempty"`

	// Todos replaces the todo list when non-nil.
	Todos []models.Todo `json:"todos,omitempty"`

	// Files merges last-write-wins per path.
	Files map[string]string `json:"files,omitempty"`

	// PendingPlans merges deduplicating by plan id, last write wins.
	PendingPlans []models.Plan `json:"pending_plans,omitempty"`

	// ApprovedPlan replaces the approved plan when non-nil.
	ApprovedPlan *models.Plan `json:"approved_plan,omitempty"`

	// PhaseOutputs merges into the current phase's output map.
	PhaseOutputs map[string]string `json:"phase_outputs,omitempty"`

	// CompressionRecord appends to the bounded history when non-nil.
	CompressionRecord *models.CompressionRecord `json:"compression_record,omitempty"`

	// Interrupt sets the pending interrupt when non-nil.
	Interrupt *models.Interrupt `json:"interrupt,omitempty"`
}

// IsZero reports whether the update carries no changes.
func (u Update) IsZero() bool {
	return len(u.Messages) == 0 && u.Todos == nil && len(u.Files) == 0 &&
		len(u.PendingPlans) == 0 && u.ApprovedPlan == nil &&
		len(u.PhaseOutputs) == 0 && u.CompressionRecord == nil && u.Interrupt == nil
}

// Apply merges the update into the state. All mutations of AgentState flow
// through here; nothing else writes the struct after construction.
func (s *AgentState) Apply(u Update) {
	if len(u.Messages) > 0 {
		if models.IsReplaceAllMarker(u.Messages[0]) {
			replacement := make([]models.Message, len(u.Messages)-1)
			copy(replacement, u.Messages[1:])
			s.Messages = replacement
		} else {
			s.Messages = append(s.Messages, u.Messages...)
		}
	}
	if u.Todos != nil {
		s.Todos = u.Todos
	}
	if len(u.Files) > 0 {
		s.Files = models.MergeFiles(s.Files, u.Files)
	}
	if len(u.PendingPlans) > 0 {
		s.PendingPlans = models.MergePlans(s.PendingPlans, u.PendingPlans)
	}
	if u.ApprovedPlan != nil {
		plan := *u.ApprovedPlan
		s.ApprovedPlan = &plan
	}
	if len(u.PhaseOutputs) > 0 {
		if s.Phase.PhaseOutputs == nil {
			s.Phase.PhaseOutputs = make(map[models.Phase]map[string]string)
		}
		outputs := s.Phase.PhaseOutputs[s.Phase.CurrentPhase]
		if outputs == nil {
			outputs = make(map[string]string, len(u.PhaseOutputs))
			s.Phase.PhaseOutputs[s.Phase.CurrentPhase] = outputs
		}
		for k, v := range u.PhaseOutputs {
			outputs[k] = v
		}
	}
	if u.CompressionRecord != nil {
		s.CompressionHistory = models.AppendCompressionRecord(s.CompressionHistory, *u.CompressionRecord)
	}
	if u.Interrupt != nil {
		interrupt := *u.Interrupt
		s.Interrupt = &interrupt
	}
}

// ReplaceMessages builds an update that swaps the full message list. Used by
// compression; everything else appends.
func ReplaceMessages(messages []models.Message) Update {
	replacement := make([]models.Message, 0, len(messages)+1)
	replacement = append(replacement, models.ReplaceAllMarker)
	replacement = append(replacement, messages...)
	return Update{Messages: replacement}
}

// Clone returns a deep copy of the state. Hooks receive clones so their only
// effect on the run is the update they return.
func (s *AgentState) Clone() *AgentState {
	out := &AgentState{
		Messages:     append([]models.Message(nil), s.Messages...),
		Todos:        append([]models.Todo(nil), s.Todos...),
		PendingPlans: append([]models.Plan(nil), s.PendingPlans...),
		Outcome:      s.Outcome,
	}
	out.Files = make(map[string]string, len(s.Files))
	for k, v := range s.Files {
		out.Files[k] = v
	}
	if s.ApprovedPlan != nil {
		plan := *s.ApprovedPlan
		out.ApprovedPlan = &plan
	}
	if s.Interrupt != nil {
		interrupt := *s.Interrupt
		out.Interrupt = &interrupt
	}
	out.CompressionHistory = append([]models.CompressionRecord(nil), s.CompressionHistory...)
	out.Phase = models.PhaseState{
		CurrentPhase:    s.Phase.CurrentPhase,
		CompletedPhases: append([]models.Phase(nil), s.Phase.CompletedPhases...),
		ContextSummary:  s.Phase.ContextSummary,
	}
	if s.Phase.PhaseOutputs != nil {
		out.Phase.PhaseOutputs = make(map[models.Phase]map[string]string, len(s.Phase.PhaseOutputs))
		for phase, outputs := range s.Phase.PhaseOutputs {
			copied := make(map[string]string, len(outputs))
			for k, v := range outputs {
				copied[k] = v
			}
			out.Phase.PhaseOutputs[phase] = copied
		}
	}
	if s.Phase.ValidationStatus != nil {
		out.Phase.ValidationStatus = make(map[models.Phase]models.ValidationResult, len(s.Phase.ValidationStatus))
		for phase, res := range s.Phase.ValidationStatus {
			copied := res
			copied.Missing = append([]string(nil), res.Missing...)
			out.Phase.ValidationStatus[phase] = copied
		}
	}
	return out
}

// Marshal serialises the state. Map keys serialise in sorted order, so the
// encoding is byte-stable across round trips.
func (s *AgentState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal deserialises a state previously produced by Marshal.
func Unmarshal(data []byte) (*AgentState, error) {
	var s AgentState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.Files == nil {
		s.Files = make(map[string]string)
	}
	if s.Phase.CurrentPhase == "" {
		s.Phase.CurrentPhase = models.PhaseInvestigation
	}
	return &s, nil
}

// Validate checks structural invariants: exactly one known current phase, and
// every tool message answering a preceding assistant tool call.
func (s *AgentState) Validate() error {
	if !models.ValidPhase(s.Phase.CurrentPhase) {
		return fmt.Errorf("invalid current phase: %q", s.Phase.CurrentPhase)
	}
	issued := make(map[string]bool)
	for i, msg := range s.Messages {
		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				issued[tc.ID] = true
			}
		case models.RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("tool message %d has no tool_call_id", i)
			}
			if !issued[msg.ToolCallID] {
				return fmt.Errorf("tool message %d references unknown tool call %q", i, msg.ToolCallID)
			}
		}
	}
	return nil
}
