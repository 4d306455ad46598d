package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (Anthropic, OpenAI, ...) while presenting a unified streaming
// interface to the runtime. Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages in most
	// LLM APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools defines the tools the model may request. The schemas are opaque
	// passthroughs for the LLM.
	Tools []ToolDescriptor `json:"tools,omitempty"`

	// Temperature adjusts sampling when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ToolDescriptor is the wire form of a tool passed to the model.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// CompletionChunk is a single chunk of a streaming LLM response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream completed successfully.
	Done bool `json:"done,omitempty"`

	// InputTokens and OutputTokens are populated on the final chunk when the
	// provider reports usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}

// Tool defines the interface for executable agent tools. The Core treats the
// tool set as a flat registry; phase filtering is by name.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Errors are communicated via ToolOutput with
	// IsError set where possible; a returned error is converted to one.
	Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is the result of one tool execution.
type ToolOutput struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`

	// Update carries a state delta for tools that mutate agent state (the
	// virtual filesystem and todo tools).
	Update *ToolStateUpdate `json:"-"`
}

// ToolStateUpdate is the subset of state a tool may change.
type ToolStateUpdate struct {
	Files        map[string]string `json:"files,omitempty"`
	Todos        []models.Todo     `json:"todos,omitempty"`
	PhaseOutputs map[string]string `json:"phase_outputs,omitempty"`
}

// InterruptTool is implemented by tools whose invocation suspends the loop
// for human input instead of executing, e.g. review_plan.
type InterruptTool interface {
	Tool

	// BuildInterrupt parses the call parameters into the interrupt to emit
	// and the plan under review.
	BuildInterrupt(ctx context.Context, params json.RawMessage) (*models.Interrupt, models.Plan, error)
}
