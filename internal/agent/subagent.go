package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/deepplan/internal/hooks"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// maxSubagentIterations bounds a nested sub-agent run.
const maxSubagentIterations = 10

// RunSubagent executes a bounded nested ReAct run with its own prompt and
// tool subset. The sub-agent works over a private message list seeded with
// the task input; its tool executions read the parent state snapshot and
// their state updates merge into the parent. Pre/post subagent hooks fire
// around the run.
func (l *Loop) RunSubagent(ctx context.Context, st *state.AgentState, name, systemPrompt string, allowedTools []string, input string) (string, error) {
	if l.provider == nil {
		return "", ErrNoProvider
	}

	l.runHookChain(ctx, st, hooks.KindPreSubagent, map[string]any{"subagent": name})
	defer l.runHookChain(ctx, st, hooks.KindPostSubagent, map[string]any{"subagent": name})

	visible := func(toolName string) bool {
		if len(allowedTools) == 0 {
			return true
		}
		for _, allowed := range allowedTools {
			if allowed == toolName {
				return true
			}
		}
		return false
	}

	messages := []models.Message{newMessageWithID(models.NewUserMessage(input))}
	var finalText string

	for iteration := 0; iteration < maxSubagentIterations; iteration++ {
		if cancelled(ctx) {
			return finalText, ctx.Err()
		}

		req := &CompletionRequest{
			Model:     l.config.Model,
			System:    systemPrompt,
			Messages:  messages,
			Tools:     l.registry.Descriptors(visible),
			MaxTokens: l.config.MaxTokens,
		}
		text, toolCalls, err := l.completeOnce(ctx, req)
		if err != nil {
			return finalText, fmt.Errorf("subagent %s: %w", name, err)
		}
		messages = append(messages, newMessageWithID(models.NewAssistantMessage(text, toolCalls...)))
		if text != "" {
			finalText = text
		}
		if len(toolCalls) == 0 {
			return finalText, nil
		}

		snapshot := st.Clone()
		results := l.executor.ExecuteAll(ctx, toolCalls, snapshot)
		for _, res := range results {
			if res.Output.Update != nil {
				st.Apply(state.Update{
					Files:        res.Output.Update.Files,
					Todos:        res.Output.Update.Todos,
					PhaseOutputs: res.Output.Update.PhaseOutputs,
				})
			}
			messages = append(messages, newMessageWithID(
				models.NewToolMessage(res.Call.Name, res.Call.ID, res.Output.Content)))
		}
	}

	return finalText, fmt.Errorf("subagent %s: %w", name, ErrMaxIterations)
}

// SubagentResultSummary clips a sub-agent's final text for inclusion in a
// tool result.
func SubagentResultSummary(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars > 0 && len(text) > maxChars {
		return text[:maxChars] + "...[truncated]"
	}
	return text
}
