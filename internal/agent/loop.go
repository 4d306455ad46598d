package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/deepplan/internal/backoff"
	"github.com/haasonsaas/deepplan/internal/compression"
	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/hooks"
	"github.com/haasonsaas/deepplan/internal/observability"
	"github.com/haasonsaas/deepplan/internal/phase"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// LoopConfig configures the agent loop behavior.
type LoopConfig struct {
	// Model is the generation model identifier, passed through to the
	// provider and the token counter.
	Model string

	// MaxIterations limits ReAct iterations per run.
	// Default: 50.
	MaxIterations int

	// MaxTokens is the max tokens for LLM responses.
	// Default: 4096.
	MaxTokens int

	// Temperature adjusts sampling when non-nil.
	Temperature *float64

	// MaxLLMRetries bounds the attempts at one model call within a turn,
	// the first call included, before the failure escalates.
	// Default: 3.
	MaxLLMRetries int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations: 50,
		MaxTokens:     4096,
		MaxLLMRetries: 3,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxLLMRetries <= 0 {
		cfg.MaxLLMRetries = defaults.MaxLLMRetries
	}
	return &cfg
}

// StreamEvent is emitted after each loop node completes.
type StreamEvent struct {
	Node  string
	Event *models.RuntimeEvent
}

// Loop drives the ReAct cycle: pre-step hooks (compression), model call,
// tool dispatch with pre/post tool hooks, post-step hooks, orchestrator
// validation, repeat until terminal.
//
// The loop is single-threaded per session; concurrency exists only in
// parallel tool calls within one assistant turn and in compression LLM calls
// across sessions.
type Loop struct {
	provider     LLMProvider
	registry     *ToolRegistry
	executor     *Executor
	pipeline     *hooks.Pipeline
	orchestrator *phase.Orchestrator
	window       *contextwindow.Manager
	archiver     *compression.Archiver
	config       *LoopConfig
	retryPolicy  backoff.Policy
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewLoop creates a loop. Registry, pipeline, orchestrator, window, and
// archiver must be non-nil; metrics may be nil.
func NewLoop(
	provider LLMProvider,
	registry *ToolRegistry,
	pipeline *hooks.Pipeline,
	orchestrator *phase.Orchestrator,
	window *contextwindow.Manager,
	archiver *compression.Archiver,
	config *LoopConfig,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	policy := backoff.DefaultPolicy()
	policy.Initial = 500 * time.Millisecond
	policy.Max = 10 * time.Second
	return &Loop{
		provider:     provider,
		registry:     registry,
		executor:     NewExecutor(registry, nil),
		pipeline:     pipeline,
		orchestrator: orchestrator,
		window:       window,
		archiver:     archiver,
		config:       sanitizeLoopConfig(config),
		retryPolicy:  policy,
		metrics:      metrics,
		logger:       logger.With("component", "loop"),
	}
}

// Invoke appends the user input and runs iterations until a terminal
// condition. The returned state carries the outcome; only misuse (nil
// provider or state) returns an error.
func (l *Loop) Invoke(ctx context.Context, st *state.AgentState, input string) (*state.AgentState, error) {
	if err := l.checkUsable(st); err != nil {
		return st, err
	}
	if input != "" {
		st.Apply(state.Update{Messages: []models.Message{newMessageWithID(models.NewUserMessage(input))}})
	}
	l.run(ctx, st, nil)
	return st, nil
}

// Stream runs like Invoke but emits a StreamEvent after each node completes.
// The channel closes when the run ends.
func (l *Loop) Stream(ctx context.Context, st *state.AgentState, input string) (<-chan StreamEvent, error) {
	if err := l.checkUsable(st); err != nil {
		return nil, err
	}
	if input != "" {
		st.Apply(state.Update{Messages: []models.Message{newMessageWithID(models.NewUserMessage(input))}})
	}
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		l.run(ctx, st, events)
	}()
	return events, nil
}

// Resume continues a run suspended by a plan-approval interrupt. The
// response is mapped through the orchestrator, a tool message answers the
// pending review_plan call, and the loop continues.
func (l *Loop) Resume(ctx context.Context, st *state.AgentState, resp models.InterruptResponse) (*state.AgentState, error) {
	if err := l.checkUsable(st); err != nil {
		return st, err
	}
	if st.Interrupt == nil {
		return st, fmt.Errorf("no pending interrupt")
	}
	interrupt := *st.Interrupt

	var plan models.Plan
	found := false
	for _, p := range st.PendingPlans {
		if p.ID == interrupt.PlanID {
			plan = p
			found = true
			break
		}
	}
	if !found {
		return st, fmt.Errorf("pending plan %q not found", interrupt.PlanID)
	}

	update := l.orchestrator.HandleApprovalResponse(st, plan, resp)
	st.Apply(update)

	answer := map[string]any{"action": resp.Action, "plan_id": interrupt.PlanID}
	if resp.Feedback != "" {
		answer["feedback"] = resp.Feedback
	}
	payload, _ := json.Marshal(answer)
	toolMsg := newMessageWithID(models.NewToolMessage("review_plan", interrupt.ToolCallID, string(payload)))
	st.Apply(state.Update{Messages: []models.Message{toolMsg}})

	st.Interrupt = nil
	st.Outcome = ""
	l.run(ctx, st, nil)
	return st, nil
}

func (l *Loop) checkUsable(st *state.AgentState) error {
	if l.provider == nil {
		return ErrNoProvider
	}
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	return nil
}

// run executes iterations until terminal. All outcomes are recorded on the
// state; run has no return value.
func (l *Loop) run(ctx context.Context, st *state.AgentState, events chan<- StreamEvent) {
	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		if cancelled(ctx) {
			st.Outcome = models.OutcomeCancelled
			return
		}
		if l.metrics != nil {
			l.metrics.Iterations.Inc()
		}
		l.emit(events, "step", &models.RuntimeEvent{
			Type: models.EventIterationStart, Iteration: iteration,
			Phase: string(st.Phase.CurrentPhase), At: time.Now(),
		})

		// Pre-model hooks. Compression applied here is visible to the LLM
		// call it precedes.
		l.runHookChain(ctx, st, hooks.KindPreStep, map[string]any{"trigger": "standard", "model": l.config.Model})
		l.emit(events, "compress", nil)

		// Hard budget check at LLM call time. Overflow after the compression
		// attempt above is fatal, not a warning.
		metrics := l.window.Analyze(st.Messages, l.config.Model)
		if l.metrics != nil {
			l.metrics.TokensUsed.Set(float64(metrics.TokensUsed))
		}
		if metrics.Overflow() {
			st.Outcome = models.OutcomeFatalTokenOverflow
			l.logger.Error("token overflow after compression",
				"tokens", metrics.TokensUsed, "window", metrics.MaxTokens)
			return
		}

		agent, err := l.orchestrator.CurrentAgent(st)
		if err != nil {
			// A malformed phase is a state invariant violation.
			st.Outcome = models.OutcomeFatalToolError
			l.logger.Error("phase resolution failed", "error", err)
			return
		}
		if len(st.Todos) == 0 && len(agent.Todos) > 0 {
			st.Apply(state.Update{Todos: agent.Todos})
		}

		if cancelled(ctx) {
			st.Outcome = models.OutcomeCancelled
			return
		}

		text, toolCalls, err := l.callModel(ctx, st, agent)
		if err != nil {
			if cancelled(ctx) {
				st.Outcome = models.OutcomeCancelled
				return
			}
			errMsg := newMessageWithID(models.NewAssistantMessage(""))
			errMsg.Metadata = map[string]any{
				models.MetaTypeKey: models.MetaError,
				"error":            err.Error(),
			}
			st.Apply(state.Update{Messages: []models.Message{errMsg}})
			l.logger.Warn("model call failed, turn terminated", "error", err)
			st.Outcome = models.OutcomeTerminal
			return
		}
		l.emit(events, "model", nil)

		assistantMsg := newMessageWithID(models.NewAssistantMessage(text, toolCalls...))
		l.runHookChain(ctx, st, hooks.KindPreMessage, map[string]any{"role": string(models.RoleAssistant)})
		st.Apply(state.Update{Messages: []models.Message{assistantMsg}})
		l.runHookChain(ctx, st, hooks.KindPostMessage, map[string]any{"role": string(models.RoleAssistant)})

		if len(toolCalls) == 0 {
			st.Outcome = models.OutcomeTerminal
			return
		}

		// A review_plan call suspends the loop before any execution.
		remaining, suspended := l.maybeInterrupt(ctx, st, toolCalls, events)
		if suspended {
			return
		}

		if fatal := l.dispatchTools(ctx, st, remaining, events); fatal {
			st.Outcome = models.OutcomeFatalToolError
			return
		}
		if cancelled(ctx) {
			st.Outcome = models.OutcomeCancelled
			return
		}

		l.runHookChain(ctx, st, hooks.KindPostStep, map[string]any{"trigger": "post_step"})

		// Phase advancement observes all state mutations of the completing
		// iteration.
		if advanced, _ := l.orchestrator.Advance(st); advanced {
			if l.metrics != nil {
				l.metrics.PhaseAdvances.WithLabelValues(string(st.Phase.CurrentPhase)).Inc()
			}
			l.emit(events, "phase", &models.RuntimeEvent{
				Type: models.EventPhaseAdvanced, Phase: string(st.Phase.CurrentPhase), At: time.Now(),
			})
		}

		l.emit(events, "step", &models.RuntimeEvent{
			Type: models.EventIterationEnd, Iteration: iteration, At: time.Now(),
		})
	}

	st.Outcome = models.OutcomeMaxIterations
}

// callModel invokes the provider with the phase-filtered tool subset,
// retrying transient failures with backoff.
func (l *Loop) callModel(ctx context.Context, st *state.AgentState, agent phase.Agent) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:       l.config.Model,
		System:      agent.Prompt,
		Messages:    st.Messages,
		Tools:       l.registry.Descriptors(agent.Config.ToolVisible),
		Temperature: l.config.Temperature,
		MaxTokens:   l.config.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= l.config.MaxLLMRetries; attempt++ {
		text, toolCalls, err := l.completeOnce(ctx, req)
		if err == nil {
			return text, toolCalls, nil
		}
		lastErr = err
		if !IsTransient(err) || cancelled(ctx) {
			break
		}
		if attempt < l.config.MaxLLMRetries {
			delay := l.retryPolicy.Delay(attempt)
			l.logger.Warn("transient model failure, retrying", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}
	}
	return "", nil, lastErr
}

func (l *Loop) completeOnce(ctx context.Context, req *CompletionRequest) (string, []models.ToolCall, error) {
	stream, err := l.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}
	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range stream {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			toolCalls = append(toolCalls, tc)
		}
	}
	return text.String(), toolCalls, nil
}

// maybeInterrupt suspends the run when a tool call targets an interrupting
// tool. It returns the calls still needing dispatch and whether the loop
// suspended; an interrupting call never reaches the executor.
func (l *Loop) maybeInterrupt(ctx context.Context, st *state.AgentState, toolCalls []models.ToolCall, events chan<- StreamEvent) ([]models.ToolCall, bool) {
	remaining := make([]models.ToolCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		tool, ok := l.registry.Get(tc.Name)
		if !ok {
			remaining = append(remaining, tc)
			continue
		}
		interrupter, ok := tool.(InterruptTool)
		if !ok {
			remaining = append(remaining, tc)
			continue
		}

		interrupt, plan, err := interrupter.BuildInterrupt(ctx, tc.Input)
		if err != nil {
			// Malformed interrupt parameters go back to the model as a tool
			// error instead of suspending.
			msg := newMessageWithID(models.NewToolMessage(tc.Name, tc.ID, "invalid plan: "+err.Error()))
			msg = msg.WithMeta(models.MetaTypeKey, models.MetaError)
			st.Apply(state.Update{Messages: []models.Message{msg}})
			continue
		}
		interrupt.ToolCallID = tc.ID
		if plan.Phase == "" {
			plan.Phase = string(st.Phase.CurrentPhase)
		}
		st.Apply(state.Update{
			PendingPlans: []models.Plan{plan},
			Interrupt:    interrupt,
		})
		st.Outcome = models.OutcomeInterrupted
		l.emit(events, "interrupt", &models.RuntimeEvent{
			Type: models.EventInterrupt, ToolCallID: tc.ID, ToolName: tc.Name, At: time.Now(),
		})
		return nil, true
	}
	return remaining, false
}

// dispatchTools runs the pre-tool chain, executes the calls in parallel,
// appends results in call order, and runs the post-tool chain. Returns true
// when a hook escalated to fatal.
func (l *Loop) dispatchTools(ctx context.Context, st *state.AgentState, toolCalls []models.ToolCall, events chan<- StreamEvent) bool {
	if fatal := l.runHookChain(ctx, st, hooks.KindPreTool, map[string]any{"tool_calls": len(toolCalls)}); fatal {
		return true
	}

	snapshot := st.Clone()
	results := l.executor.ExecuteAll(ctx, toolCalls, snapshot)

	toolMessages := make([]models.Message, 0, len(results))
	for _, res := range results {
		if l.metrics != nil {
			outcome := "ok"
			if res.Output.IsError {
				outcome = "error"
			}
			l.metrics.ToolExecutions.WithLabelValues(res.Call.Name, outcome).Inc()
		}
		if res.Output.Update != nil {
			st.Apply(state.Update{
				Files:        res.Output.Update.Files,
				Todos:        res.Output.Update.Todos,
				PhaseOutputs: res.Output.Update.PhaseOutputs,
			})
		}

		msg := newMessageWithID(models.NewToolMessage(res.Call.Name, res.Call.ID, res.Output.Content))
		if res.Output.IsError {
			msg = msg.WithMeta(models.MetaTypeKey, models.MetaError)
		} else if l.archiver != nil {
			if rewritten, archived := l.archiver.Check(msg); archived {
				msg = rewritten
			}
		}
		toolMessages = append(toolMessages, msg)
		l.emit(events, "tools", &models.RuntimeEvent{
			Type: models.EventToolCompleted, ToolName: res.Call.Name, ToolCallID: res.Call.ID, At: time.Now(),
		})
	}
	st.Apply(state.Update{Messages: toolMessages})

	// Post-tool hooks observe all tool results of the iteration.
	return l.runHookChain(ctx, st, hooks.KindPostTool, map[string]any{
		"trigger": "post_tool", "model": l.config.Model, "tool_calls": len(toolCalls),
	})
}

// runHookChain runs one hook chain against a snapshot and merges the
// returned deltas in priority order. Returns true when a hook escalated.
func (l *Loop) runHookChain(ctx context.Context, st *state.AgentState, kind hooks.Kind, metadata map[string]any) bool {
	chain := l.pipeline.Run(ctx, kind, st.Clone(), metadata)
	for _, update := range chain.Updates {
		st.Apply(update)
	}
	if chain.Fatal {
		l.logger.Error("hook escalated to fatal", "kind", kind, "reason", chain.FatalReason)
	}
	return chain.Fatal
}

func (l *Loop) emit(events chan<- StreamEvent, node string, event *models.RuntimeEvent) {
	if events == nil {
		return
	}
	select {
	case events <- StreamEvent{Node: node, Event: event}:
	default:
		// A slow consumer never blocks the loop.
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func newMessageWithID(m models.Message) models.Message {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now()
	return m
}
