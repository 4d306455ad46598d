// Package subagent implements the task tool: a bounded nested agent run
// with its own prompt and tool subset.
package subagent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/tools"
)

// maxResultChars clips the sub-agent's final text in the tool result.
const maxResultChars = 4000

// Tool dispatches a task to a nested sub-agent.
type Tool struct {
	loop *agent.Loop
}

// New creates the task tool bound to a loop.
func New(loop *agent.Loop) *Tool {
	return &Tool{loop: loop}
}

type taskInput struct {
	Description string   `json:"description" jsonschema:"required,description=What the sub-agent should accomplish"`
	Prompt      string   `json:"prompt" jsonschema:"required,description=Full instructions for the sub-agent"`
	Tools       []string `json:"tools,omitempty" jsonschema:"description=Tool names visible to the sub-agent; empty means all"`
}

func (t *Tool) Name() string { return "task" }
func (t *Tool) Description() string {
	return "Run a focused sub-agent on a self-contained task and return its final answer."
}
func (t *Tool) Schema() json.RawMessage {
	return tools.MustSchema(&taskInput{})
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in taskInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	snapshot := agent.StateSnapshotFromContext(ctx)
	if snapshot == nil {
		return &agent.ToolOutput{Content: "no state available", IsError: true}, nil
	}

	// The sub-agent works against a private copy; its state changes come
	// back as this tool's update.
	private := snapshot.Clone()
	text, err := t.loop.RunSubagent(ctx, private, in.Description, in.Prompt, in.Tools, in.Description)
	if err != nil {
		return &agent.ToolOutput{Content: "subagent failed: " + err.Error(), IsError: true}, nil
	}
	return &agent.ToolOutput{
		Content: agent.SubagentResultSummary(text, maxResultChars),
		Update: &agent.ToolStateUpdate{
			Files:        private.Files,
			Todos:        private.Todos,
			PhaseOutputs: private.Phase.PhaseOutputs[private.Phase.CurrentPhase],
		},
	}, nil
}
