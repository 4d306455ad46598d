package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// ExecutorConfig configures parallel tool execution.
type ExecutorConfig struct {
	// MaxConcurrent bounds tools running at once within a single assistant
	// turn.
	MaxConcurrent int

	// DefaultTimeout applies to tools without their own timeout. Zero means
	// no default, per the tool contract.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{MaxConcurrent: 4}
}

// ToolTimeout is implemented by tools that declare their own timeout.
type ToolTimeout interface {
	Timeout() time.Duration
}

// ExecResult pairs a tool call with its output.
type ExecResult struct {
	Call   models.ToolCall
	Output *ToolOutput
}

// Executor dispatches tool calls, in parallel within one assistant turn, and
// collects results in the model-specified order before the next iteration.
type Executor struct {
	registry *ToolRegistry
	config   *ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrent),
	}
}

// ExecuteAll runs the tool calls concurrently and returns outputs in call
// order. Tool failures become error outputs, never errors: a failed tool is
// a message for the model, not an abort.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, snapshot *state.AgentState) []ExecResult {
	results := make([]ExecResult, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = ExecResult{
				Call:   calls[idx],
				Output: e.executeOne(ctx, calls[idx], snapshot),
			}
		}(i)
	}
	wg.Wait()
	return results
}

// executeOne runs a single call under the semaphore with panic recovery and
// the tool's declared timeout.
func (e *Executor) executeOne(ctx context.Context, call models.ToolCall, snapshot *state.AgentState) (out *ToolOutput) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return &ToolOutput{Content: ctx.Err().Error(), IsError: true}
	}

	defer func() {
		if r := recover(); r != nil {
			out = &ToolOutput{
				Content: fmt.Sprintf("%v: %v", ErrToolPanic, r),
				IsError: true,
			}
		}
	}()

	execCtx := ctx
	if timeout := e.timeoutFor(call.Name); timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := e.registry.Execute(execCtx, call.Name, call.Input, snapshot)
	if err != nil {
		return &ToolOutput{Content: NewToolError(call.Name, err).Error(), IsError: true}
	}
	if output == nil {
		return &ToolOutput{Content: "tool returned no output", IsError: true}
	}
	return output
}

func (e *Executor) timeoutFor(name string) time.Duration {
	if tool, ok := e.registry.Get(name); ok {
		if tt, ok := tool.(ToolTimeout); ok {
			return tt.Timeout()
		}
	}
	return e.config.DefaultTimeout
}
