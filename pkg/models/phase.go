package models

// Phase names a stage of the planning workflow. Transitions are linear.
type Phase string

const (
	PhaseInvestigation  Phase = "investigation"
	PhaseDiscussion     Phase = "discussion"
	PhasePlanning       Phase = "planning"
	PhaseTaskGeneration Phase = "task_generation"
	PhaseComplete       Phase = "complete"
)

// PhaseOrder is the linear workflow sequence, terminal phase last.
var PhaseOrder = []Phase{
	PhaseInvestigation,
	PhaseDiscussion,
	PhasePlanning,
	PhaseTaskGeneration,
	PhaseComplete,
}

// NextPhase returns the unique linear successor of p, or "" when p is
// terminal or unknown.
func NextPhase(p Phase) Phase {
	for i, cur := range PhaseOrder {
		if cur == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1]
		}
	}
	return ""
}

// ValidPhase reports whether p is a known phase.
func ValidPhase(p Phase) bool {
	for _, cur := range PhaseOrder {
		if cur == p {
			return true
		}
	}
	return false
}

// ValidationResult records the outcome of a phase-completion check.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
}

// PhaseState tracks workflow progress through the linear phase sequence.
type PhaseState struct {
	CurrentPhase     Phase                       `json:"current_phase"`
	CompletedPhases  []Phase                     `json:"completed_phases,omitempty"`
	PhaseOutputs     map[Phase]map[string]string `json:"phase_outputs,omitempty"`
	ValidationStatus map[Phase]ValidationResult  `json:"validation_status,omitempty"`

	// ContextSummary is a one-line note written on each phase advance.
	ContextSummary string `json:"context_summary,omitempty"`
}

// Output returns a phase output value, or "" when absent.
func (s PhaseState) Output(phase Phase, key string) string {
	if s.PhaseOutputs == nil {
		return ""
	}
	return s.PhaseOutputs[phase][key]
}

// Completed reports whether the given phase has been validated and passed.
func (s PhaseState) Completed(phase Phase) bool {
	for _, p := range s.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}
