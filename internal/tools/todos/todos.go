// Package todos implements the write_todos tool for phase task tracking.
package todos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/tools"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// WriteTodosTool replaces the todo list. Todos live in state, outside the
// message stream, so compression never touches them.
type WriteTodosTool struct{}

type todoItem struct {
	Content string `json:"content" jsonschema:"required,description=The task description"`
	Status  string `json:"status" jsonschema:"required,enum=pending,enum=in_progress,enum=completed,description=Current task status"`
}

type writeTodosInput struct {
	Todos []todoItem `json:"todos" jsonschema:"required,description=The full todo list; replaces the previous list"`
}

func (t *WriteTodosTool) Name() string { return "write_todos" }
func (t *WriteTodosTool) Description() string {
	return "Replace the todo list with the given items. Use to plan and track progress through the current phase."
}
func (t *WriteTodosTool) Schema() json.RawMessage {
	return tools.MustSchema(&writeTodosInput{})
}

func (t *WriteTodosTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var in writeTodosInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &agent.ToolOutput{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}

	todos := make([]models.Todo, 0, len(in.Todos))
	for _, item := range in.Todos {
		status := models.TodoStatus(item.Status)
		switch status {
		case models.TodoPending, models.TodoInProgress, models.TodoCompleted:
		default:
			return &agent.ToolOutput{
				Content: fmt.Sprintf("invalid status %q for todo %q", item.Status, item.Content),
				IsError: true,
			}, nil
		}
		todos = append(todos, models.Todo{
			ID:      uuid.NewString(),
			Content: item.Content,
			Status:  status,
		})
	}

	pending, inProgress, completed := models.CountTodosByStatus(todos)
	return &agent.ToolOutput{
		Content: fmt.Sprintf("Updated todo list: %d pending, %d in progress, %d completed", pending, inProgress, completed),
		Update:  &agent.ToolStateUpdate{Todos: todos},
	}, nil
}
