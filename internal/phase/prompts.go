package phase

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/haasonsaas/deepplan/pkg/models"
)

const promptFrame = `You are the {{.Name}} for a software planning workflow.

Current phase: {{.Label}} (estimated {{.Duration}})
Goal: {{.Goal}}

{{.Body}}

Phase todos:
{{.Todos}}

Required outputs:
{{.Outputs}}
{{if .Interactions}}
Human interaction points:
{{.Interactions}}
{{end}}`

const investigationPrompt = `Investigate the project before anything is planned. Read broadly,
take notes as you go, and archive oversized tool output into the virtual
filesystem instead of keeping it in conversation. Do not propose solutions
yet; your deliverable is an accurate picture of what exists.`

const discussionPrompt = `Work through the open questions your investigation surfaced. Ask the
user one focused question at a time and record each agreed answer. Do not
start planning until the requirements are unambiguous.`

const planningPrompt = `Write the implementation plan: sections with a title, description, and
estimated length. When the plan is complete, submit it with the review_plan
tool and wait for the human decision. A rejected plan means replanning; an
edited plan must be re-presented.`

const taskGenerationPrompt = `Turn the approved plan into an ordered task list. Every task must be
small enough to verify independently and reference the plan section it
implements.`

var frame = template.Must(template.New("phase").Parse(promptFrame))

// RenderPrompt builds the phase system prompt with todos, required outputs,
// and interaction points injected.
func RenderPrompt(cfg Config, todos []models.Todo) string {
	var b strings.Builder
	err := frame.Execute(&b, map[string]string{
		"Name":         cfg.Name,
		"Label":        cfg.Label,
		"Duration":     cfg.DurationEstimate,
		"Goal":         cfg.Goal,
		"Body":         cfg.PromptTemplate,
		"Todos":        FormatTodos(todos),
		"Outputs":      formatOutputs(cfg.RequiredOutputs),
		"Interactions": formatInteractions(cfg.InteractionPoints),
	})
	if err != nil {
		// The template is static; execution only fails on writer errors,
		// which strings.Builder never returns.
		return cfg.PromptTemplate
	}
	return b.String()
}

// FormatTodos renders todos with status markers for prompt injection.
func FormatTodos(todos []models.Todo) string {
	if len(todos) == 0 {
		return "No specific tasks generated"
	}
	lines := make([]string, 0, len(todos))
	for _, t := range todos {
		marker := "⏳"
		switch t.Status {
		case models.TodoInProgress:
			marker = "🔄"
		case models.TodoCompleted:
			marker = "✅"
		}
		lines = append(lines, fmt.Sprintf("%s %s", marker, t.Content))
	}
	return strings.Join(lines, "\n")
}

func formatOutputs(outputs []string) string {
	if len(outputs) == 0 {
		return "No specific output required"
	}
	lines := make([]string, 0, len(outputs))
	for _, o := range outputs {
		lines = append(lines, "📄 "+o)
	}
	return strings.Join(lines, "\n")
}

func formatInteractions(points []string) string {
	if len(points) == 0 {
		return ""
	}
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, "👤 "+p)
	}
	return strings.Join(lines, "\n")
}
