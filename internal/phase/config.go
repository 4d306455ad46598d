// Package phase implements the linear planning workflow: per-phase
// configuration, completion validation, and transitions.
package phase

import (
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// Rule is one completion predicate for a phase. Validation is all-or-nothing:
// every rule must pass before the orchestrator allows the transition.
type Rule struct {
	// Description is the human-readable requirement, used verbatim in
	// missing-requirement strings.
	Description string

	// Check evaluates the rule against the current state.
	Check func(s *state.AgentState) bool
}

// TodoTemplate generates phase-appropriate todos from the current state.
type TodoTemplate func(s *state.AgentState) []models.Todo

// Config is the static configuration of one workflow phase.
type Config struct {
	Phase models.Phase

	// Name is the agent persona name for the phase.
	Name string

	// Goal is the one-line phase objective injected into the prompt.
	Goal string

	// Label is the display label (with marker) for progress output.
	Label string

	// DurationEstimate is a rough human estimate shown in the prompt.
	DurationEstimate string

	// AllowedTools lists tool names or "*"-suffixed prefixes visible to the
	// model during the phase. Empty means all tools.
	AllowedTools []string

	// RequiredOutputs lists the keys that must be present in the phase's
	// output map before the phase can complete.
	RequiredOutputs []string

	// Rules are additional completion predicates.
	Rules []Rule

	// RequiresApproval gates the transition on an approved plan for this
	// phase.
	RequiresApproval bool

	// Todos generates the phase todo list.
	Todos TodoTemplate

	// PromptTemplate is the phase system prompt; see prompts.go for the
	// variables injected at render time.
	PromptTemplate string

	// InteractionPoints lists where the phase expects human input.
	InteractionPoints []string
}

// ToolVisible reports whether a tool name is visible in this phase.
func (c Config) ToolVisible(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range c.AllowedTools {
		if allowed == name {
			return true
		}
		if strings.HasSuffix(allowed, "*") && strings.HasPrefix(name, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func staticTodos(contents ...string) TodoTemplate {
	return func(*state.AgentState) []models.Todo {
		todos := make([]models.Todo, 0, len(contents))
		for _, c := range contents {
			todos = append(todos, models.Todo{
				ID:      uuid.NewString(),
				Content: c,
				Status:  models.TodoPending,
			})
		}
		return todos
	}
}

// DefaultConfigs returns the built-in four-phase planning workflow.
func DefaultConfigs() map[models.Phase]Config {
	return map[models.Phase]Config{
		models.PhaseInvestigation: {
			Phase:            models.PhaseInvestigation,
			Name:             "investigator",
			Goal:             "Understand the project structure, existing code, and constraints",
			Label:            "🔍 Investigation",
			DurationEstimate: "15-30 minutes",
			AllowedTools:     []string{"ls", "read_file", "write_file", "write_todos", "organize_virtual_fs"},
			RequiredOutputs:  []string{"investigation_findings.md"},
			Todos: staticTodos(
				"Explore the project layout and entry points",
				"Identify the core components and their responsibilities",
				"Record findings in investigation_findings.md",
			),
			PromptTemplate: investigationPrompt,
		},
		models.PhaseDiscussion: {
			Phase:            models.PhaseDiscussion,
			Name:             "discussion partner",
			Goal:             "Clarify requirements and resolve open questions with the user",
			Label:            "💬 Discussion",
			DurationEstimate: "10-20 minutes",
			AllowedTools:     []string{"ls", "read_file", "write_file", "write_todos"},
			RequiredOutputs:  []string{"discussion_notes.md"},
			InteractionPoints: []string{
				"Ask the user about ambiguous requirements",
				"Confirm scope and priorities before planning",
			},
			Todos: staticTodos(
				"List open questions from the investigation",
				"Discuss each question with the user",
				"Record agreed answers in discussion_notes.md",
			),
			PromptTemplate: discussionPrompt,
		},
		models.PhasePlanning: {
			Phase:            models.PhasePlanning,
			Name:             "planner",
			Goal:             "Produce a structured implementation plan for approval",
			Label:            "📋 Planning",
			DurationEstimate: "20-40 minutes",
			AllowedTools:     []string{"ls", "read_file", "write_file", "write_todos", "review_plan"},
			RequiredOutputs:  []string{"implementation_plan.md"},
			RequiresApproval: true,
			InteractionPoints: []string{
				"Submit the plan for human approval via review_plan",
			},
			Todos: staticTodos(
				"Draft the implementation plan sections",
				"Write the plan to implementation_plan.md",
				"Submit the plan for approval with review_plan",
			),
			PromptTemplate: planningPrompt,
		},
		models.PhaseTaskGeneration: {
			Phase:            models.PhaseTaskGeneration,
			Name:             "task generator",
			Goal:             "Break the approved plan into concrete, ordered tasks",
			Label:            "🛠️ Task Generation",
			DurationEstimate: "10-15 minutes",
			AllowedTools:     []string{"ls", "read_file", "write_file", "edit_file", "write_todos"},
			RequiredOutputs:  []string{"task_list.md"},
			Todos: staticTodos(
				"Derive tasks from the approved plan sections",
				"Order tasks by dependency",
				"Write the task list to task_list.md",
			),
			PromptTemplate: taskGenerationPrompt,
		},
	}
}
