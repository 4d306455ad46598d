package models

// TodoStatus tracks the lifecycle of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is a phase-scoped task tracked by the orchestrator. Todos live in
// agent state, not the message stream, and are never touched by compression.
type Todo struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// CountTodosByStatus returns the number of todos in each status.
func CountTodosByStatus(todos []Todo) (pending, inProgress, completed int) {
	for _, t := range todos {
		switch t.Status {
		case TodoInProgress:
			inProgress++
		case TodoCompleted:
			completed++
		default:
			pending++
		}
	}
	return pending, inProgress, completed
}
