package models

// Outcome is the terminal disposition of an agent loop run.
type Outcome string

const (
	// OutcomeTerminal means the assistant finished with no more tool calls.
	OutcomeTerminal Outcome = "terminal"

	// OutcomeCancelled means the run was cancelled by the host.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeFatalTokenOverflow means the context exceeded the window after a
	// compression attempt.
	OutcomeFatalTokenOverflow Outcome = "fatal_token_overflow"

	// OutcomeFatalToolError means a hook escalated a tool failure to fatal.
	OutcomeFatalToolError Outcome = "fatal_tool_error"

	// OutcomeMaxIterations means the iteration guard fired.
	OutcomeMaxIterations Outcome = "max_iterations_exceeded"

	// OutcomeInterrupted means the run suspended waiting for human input.
	OutcomeInterrupted Outcome = "interrupted"
)

// Fatal reports whether the outcome aborted the run abnormally.
func (o Outcome) Fatal() bool {
	switch o {
	case OutcomeFatalTokenOverflow, OutcomeFatalToolError:
		return true
	default:
		return false
	}
}
