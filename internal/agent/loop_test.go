package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/deepplan/internal/compression"
	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/hooks"
	"github.com/haasonsaas/deepplan/internal/phase"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Complete call.
type scriptedProvider struct {
	responses   [][]CompletionChunk
	currentCall int32
	lastReq     atomic.Pointer[CompletionRequest]
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.lastReq.Store(req)
	call := int(atomic.AddInt32(&p.currentCall, 1)) - 1
	ch := make(chan *CompletionChunk, 8)
	go func() {
		defer close(ch)
		if call < len(p.responses) {
			for i := range p.responses[call] {
				select {
				case ch <- &p.responses[call][i]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// echoTool returns its input size; used to exercise dispatch.
type echoTool struct {
	output string
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Echo back canned output." }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error) {
	if t.output != "" {
		return &ToolOutput{Content: t.output}, nil
	}
	return &ToolOutput{Content: "echo:" + string(params)}, nil
}

// reviewTool is a minimal interrupting tool for approval tests.
type reviewTool struct{}

func (t *reviewTool) Name() string        { return "review_plan" }
func (t *reviewTool) Description() string { return "Submit a plan for review." }
func (t *reviewTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (t *reviewTool) Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error) {
	return &ToolOutput{Content: "unreachable", IsError: true}, nil
}
func (t *reviewTool) BuildInterrupt(ctx context.Context, params json.RawMessage) (*models.Interrupt, models.Plan, error) {
	var in struct {
		Title    string               `json:"title"`
		Sections []models.PlanSection `json:"sections"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, models.Plan{}, err
	}
	plan := models.Plan{
		ID:       "plan_test",
		Type:     "implementation",
		Title:    in.Title,
		Sections: in.Sections,
		Status:   models.PlanPending,
	}
	return models.NewPlanApprovalInterrupt(plan), plan, nil
}

type loopFixture struct {
	provider *scriptedProvider
	registry *ToolRegistry
	loop     *Loop
	state    *state.AgentState
}

func newLoopFixture(t *testing.T, responses [][]CompletionChunk) *loopFixture {
	t.Helper()
	provider := &scriptedProvider{responses: responses}
	registry := NewToolRegistry()
	registry.Register(&echoTool{})
	registry.Register(&reviewTool{})

	window := contextwindow.NewManager(contextwindow.Config{
		MaxTokens:         50000,
		TriggerThreshold:  0.85,
		PostToolThreshold: 0.80,
		ForceLLMThreshold: 0.90,
	}, nil)
	archiver := compression.NewArchiver(compression.DefaultArchiveThresholds(), nil)

	loop := NewLoop(provider, registry, hooks.NewPipeline(nil), phase.NewOrchestrator(nil, nil),
		window, archiver, &LoopConfig{Model: "test-model", MaxIterations: 10}, nil, nil)

	return &loopFixture{
		provider: provider,
		registry: registry,
		loop:     loop,
		state:    state.New(),
	}
}

func TestLoop_IdlePassthroughTerminal(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{{Text: "Hello! Let me look around."}, {Done: true}},
	})

	st, err := f.loop.Invoke(context.Background(), f.state, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeTerminal {
		t.Errorf("outcome = %s, want terminal", st.Outcome)
	}
	// user + assistant
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(st.Messages))
	}
	if st.Messages[1].Role != models.RoleAssistant || st.Messages[1].Content == "" {
		t.Errorf("assistant message malformed: %+v", st.Messages[1])
	}
}

func TestLoop_ToolDispatchRound(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{
			{Text: "Checking."},
			{ToolCall: &models.ToolCall{ID: "tc1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)}},
			{Done: true},
		},
		{{Text: "Done."}, {Done: true}},
	})

	st, err := f.loop.Invoke(context.Background(), f.state, "run echo")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeTerminal {
		t.Fatalf("outcome = %s, want terminal", st.Outcome)
	}

	var toolMsg *models.Message
	for i := range st.Messages {
		if st.Messages[i].Role == models.RoleTool {
			toolMsg = &st.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message appended")
	}
	if toolMsg.ToolCallID != "tc1" {
		t.Errorf("tool_call_id = %q, want tc1", toolMsg.ToolCallID)
	}
	if !strings.HasPrefix(toolMsg.Content, "echo:") {
		t.Errorf("tool content = %q", toolMsg.Content)
	}
	if err := st.Validate(); err != nil {
		t.Errorf("state invariant broken: %v", err)
	}
}

func TestLoop_PhaseFilteredTools(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{{Text: "ok"}, {Done: true}},
	})

	if _, err := f.loop.Invoke(context.Background(), f.state, "hi"); err != nil {
		t.Fatal(err)
	}
	req := f.provider.lastReq.Load()
	if req == nil {
		t.Fatal("no request captured")
	}
	// Investigation phase allows ls/read_file/write_file/write_todos;
	// echo is not in the allowlist and must not reach the model.
	for _, tool := range req.Tools {
		if tool.Name == "echo" {
			t.Error("phase-filtered tool leaked into the request")
		}
	}
	if req.System == "" || !strings.Contains(req.System, "Investigation") {
		t.Errorf("system prompt missing phase context")
	}
}

func TestLoop_OversizedToolOutputArchived(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "tc1", Name: "echo", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "archived"}, {Done: true}},
	})
	f.registry.Register(&echoTool{output: strings.Repeat("x", 6000)})

	st, err := f.loop.Invoke(context.Background(), f.state, "big output")
	if err != nil {
		t.Fatal(err)
	}

	var marker *models.Message
	for i := range st.Messages {
		if st.Messages[i].IsArchiveMarker() {
			marker = &st.Messages[i]
		}
	}
	if marker == nil {
		t.Fatal("oversized tool output not rewritten to archive marker")
	}
	if !strings.Contains(marker.Content, "Size: 6000 characters") {
		t.Error("marker missing size")
	}
	if !strings.Contains(marker.Content, "write_file(") {
		t.Error("marker missing archiving instructions")
	}
}

func TestLoop_PlanApprovalInterruptAndResume(t *testing.T) {
	sections := `[{"title":"a","description":"1"},{"title":"b","description":"2"},
		{"title":"c","description":"3"},{"title":"d","description":"4"},{"title":"e","description":"5"}]`
	f := newLoopFixture(t, [][]CompletionChunk{
		{
			{ToolCall: &models.ToolCall{
				ID: "tc_plan", Name: "review_plan",
				Input: json.RawMessage(`{"title":"Plan","sections":` + sections + `}`),
			}},
			{Done: true},
		},
		{{Text: "Re-presenting the updated plan."}, {Done: true}},
	})

	st, err := f.loop.Invoke(context.Background(), f.state, "plan it")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeInterrupted {
		t.Fatalf("outcome = %s, want interrupted", st.Outcome)
	}
	if st.Interrupt == nil || st.Interrupt.Type != models.InterruptTypePlanApproval {
		t.Fatalf("interrupt = %+v", st.Interrupt)
	}
	if st.Interrupt.ToolCallID != "tc_plan" {
		t.Errorf("interrupt tool_call_id = %q", st.Interrupt.ToolCallID)
	}
	if len(st.PendingPlans) != 1 || len(st.PendingPlans[0].Sections) != 5 {
		t.Fatalf("pending plan sections = %v", st.PendingPlans)
	}

	// Host resumes with an edit adding a section.
	st, err = f.loop.Resume(context.Background(), st, models.InterruptResponse{
		Action:   models.ApprovalActionEdit,
		Feedback: "add security section",
		Modifications: &models.PlanModifications{
			AddSections: []models.PlanSection{{Title: "Security", Description: "Threat model"}},
		},
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if st.Outcome != models.OutcomeTerminal {
		t.Errorf("outcome after resume = %s, want terminal", st.Outcome)
	}
	if st.Interrupt != nil {
		t.Error("interrupt not cleared after resume")
	}

	var modified *models.Plan
	for i := range st.PendingPlans {
		if st.PendingPlans[i].Status == models.PlanModified {
			modified = &st.PendingPlans[i]
		}
	}
	if modified == nil {
		t.Fatal("no modified plan stored")
	}
	if len(modified.Sections) != 6 {
		t.Errorf("modified sections = %d, want 6", len(modified.Sections))
	}

	// The review_plan call got a tool message answer.
	found := false
	for _, msg := range st.Messages {
		if msg.Role == models.RoleTool && msg.ToolCallID == "tc_plan" {
			found = true
		}
	}
	if !found {
		t.Error("review_plan call left unanswered in transcript")
	}
}

func TestLoop_Cancellation(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{{Text: "never read"}, {Done: true}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := f.loop.Invoke(ctx, f.state, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", st.Outcome)
	}
}

func TestLoop_MaxIterations(t *testing.T) {
	// Every response requests another tool call; the guard must fire.
	responses := make([][]CompletionChunk, 12)
	for i := range responses {
		responses[i] = []CompletionChunk{
			{ToolCall: &models.ToolCall{ID: "tc", Name: "echo", Input: json.RawMessage(`{}`)}},
			{Done: true},
		}
	}
	f := newLoopFixture(t, responses)

	st, err := f.loop.Invoke(context.Background(), f.state, "loop forever")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeMaxIterations {
		t.Errorf("outcome = %s, want max_iterations_exceeded", st.Outcome)
	}
}

func TestLoop_TokenOverflowFatal(t *testing.T) {
	provider := &scriptedProvider{responses: [][]CompletionChunk{
		{{Text: "unreachable"}, {Done: true}},
	}}
	registry := NewToolRegistry()
	window := contextwindow.NewManager(contextwindow.Config{
		MaxTokens:         10,
		TriggerThreshold:  0.85,
		PostToolThreshold: 0.80,
		ForceLLMThreshold: 0.90,
	}, nil)
	loop := NewLoop(provider, registry, hooks.NewPipeline(nil), phase.NewOrchestrator(nil, nil),
		window, nil, &LoopConfig{Model: "m", MaxIterations: 3}, nil, nil)

	st := state.New()
	st.Apply(state.Update{Messages: []models.Message{
		models.NewUserMessage(strings.Repeat("far too much context ", 50)),
	}})

	st, err := loop.Invoke(context.Background(), st, "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeFatalTokenOverflow {
		t.Errorf("outcome = %s, want fatal_token_overflow", st.Outcome)
	}
}

func TestLoop_ModelFailureRecorded(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{{Error: context.DeadlineExceeded}},
		{{Error: context.DeadlineExceeded}},
		{{Error: context.DeadlineExceeded}},
	})
	f.loop.config.MaxLLMRetries = 3
	f.loop.retryPolicy.Initial = 0

	st, err := f.loop.Invoke(context.Background(), f.state, "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeTerminal {
		t.Errorf("outcome = %s, want terminal", st.Outcome)
	}
	last := st.Messages[len(st.Messages)-1]
	if last.Role != models.RoleAssistant || last.MetaType() != models.MetaError {
		t.Errorf("model failure not recorded as assistant error message: %+v", last)
	}
}

func TestLoop_FatalHookEscalation(t *testing.T) {
	f := newLoopFixture(t, [][]CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "tc", Name: "echo", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
	})
	f.loop.pipeline.Register(hooks.KindPostTool, "escalator", hooks.PriorityNormal,
		func(ctx context.Context, hc *hooks.HookContext) (*hooks.Result, error) {
			return &hooks.Result{Fatal: true, FatalReason: "tool output unsafe"}, nil
		})

	st, err := f.loop.Invoke(context.Background(), f.state, "go")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st.Outcome != models.OutcomeFatalToolError {
		t.Errorf("outcome = %s, want fatal_tool_error", st.Outcome)
	}
}
