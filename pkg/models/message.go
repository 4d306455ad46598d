package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Metadata type markers for synthetic messages produced by the runtime.
const (
	// MetaTypeKey is the metadata key carrying the synthetic message type.
	MetaTypeKey = "type"

	// MetaCompressionSummary marks a system message that replaced a run of
	// compressed messages.
	MetaCompressionSummary = "compression_summary"

	// MetaArchiveMarker marks a tool message rewritten by the archive
	// protocol.
	MetaArchiveMarker = "archiving_marker"

	// MetaError marks a message recording a recoverable failure.
	MetaError = "error"
)

// ReplaceAllMarker is the sentinel message used by the state reducer. When it
// is the first element of a message update, the remainder of the update
// replaces the full message list instead of being appended.
//
// Compression is the only producer of replace-all updates; everything else
// appends.
var ReplaceAllMarker = Message{Role: RoleSystem, Content: "__replace_all__"}

// IsReplaceAllMarker reports whether m is the reducer sentinel.
func IsReplaceAllMarker(m Message) bool {
	return m.Role == RoleSystem && m.Content == ReplaceAllMarker.Content
}

// Message is a single conversation entry. The Role field is the tag of the
// union; constructors below build each variant so callers never assemble the
// struct field-by-field for common cases.
//
// Messages are append-only from the agent's point of view. The compressor may
// replace runs of messages with a synthetic system summary carrying
// MetaCompressionSummary metadata.
type Message struct {
	ID   string `json:"id,omitempty"`
	Role Role   `json:"role"`

	// Content is the textual payload. Tool messages carry the tool output;
	// assistant messages may be empty when they only request tool calls.
	Content string `json:"content,omitempty"`

	// Name is the tool identifier for tool messages.
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool message to the assistant tool call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls holds the assistant's tool requests, if any.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewAssistantMessage builds an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage builds a tool result message answering the given call.
func NewToolMessage(name, toolCallID, content string) Message {
	return Message{Role: RoleTool, Name: name, ToolCallID: toolCallID, Content: content}
}

// MetaType returns the synthetic-message type marker, or "" when absent.
func (m Message) MetaType() string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[MetaTypeKey].(string); ok {
		return v
	}
	return ""
}

// IsCompressionSummary reports whether m is a synthetic compression summary.
func (m Message) IsCompressionSummary() bool {
	return m.MetaType() == MetaCompressionSummary
}

// IsArchiveMarker reports whether m was rewritten by the archive protocol.
func (m Message) IsArchiveMarker() bool {
	return m.MetaType() == MetaArchiveMarker
}

// WithMeta returns a copy of m with the given metadata key set.
func (m Message) WithMeta(key string, value any) Message {
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// ContentSize returns the size of the message content in characters.
func (m Message) ContentSize() int {
	return len(m.Content)
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
