package compression

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/ratelimit"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// fakeSummarizer records calls and returns a canned summary or error.
type fakeSummarizer struct {
	calls   int
	text    string
	err     error
	lastMsg string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	f.calls++
	f.lastMsg = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func planningMessages(n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		out = append(out, models.Message{
			Role:    role,
			Content: strings.Repeat("we should discuss the architecture and plan the implementation approach ", 10),
		})
	}
	return out
}

func TestCompressLLM_ReplacesPrefixKeepsTail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveLastN = 3
	summarizer := &fakeSummarizer{text: "Decisions: use gRPC. Open: auth design."}
	c := New(cfg, summarizer, nil, nil, nil)

	input := []models.Message{models.NewSystemMessage("base prompt")}
	input = append(input, planningMessages(20)...)

	result := c.compressLLM(context.Background(), input, "claude-sonnet-4-20250514")
	if !result.Changed {
		t.Fatal("expected change")
	}
	if summarizer.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", summarizer.calls)
	}

	// Head system prompt verbatim, then summary, then last 3 verbatim.
	if result.Messages[0].Content != "base prompt" {
		t.Error("system prompt not retained verbatim")
	}
	if !result.Messages[1].IsCompressionSummary() {
		t.Error("second message should be the compression summary")
	}
	tail := result.Messages[len(result.Messages)-3:]
	for i, msg := range tail {
		if msg.Content != input[len(input)-3+i].Content {
			t.Errorf("tail[%d] not preserved", i)
		}
	}
	if result.Record.FallbackUsed {
		t.Error("fallback flagged on successful LLM call")
	}
}

func TestCompressLLM_FallbackOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveLastN = 3
	cfg.EnableFallback = true
	summarizer := &fakeSummarizer{err: errors.New("model timeout")}
	c := New(cfg, summarizer, nil, nil, nil)

	input := planningMessages(20)
	result := c.compressLLM(context.Background(), input, "m")
	if !result.Changed {
		t.Fatal("fallback should still produce a summary")
	}
	if !result.Record.FallbackUsed {
		t.Error("FallbackUsed not set")
	}
	summary := result.Messages[0]
	if !strings.Contains(summary.Content, "Recent user requests:") {
		t.Errorf("fallback template missing sections: %q", summary.Content[:80])
	}
}

func TestCompressLLM_ErrorWithoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFallback = false
	summarizer := &fakeSummarizer{err: errors.New("boom")}
	c := New(cfg, summarizer, nil, nil, nil)

	result := c.compressLLM(context.Background(), planningMessages(20), "m")
	if result.Changed {
		t.Fatal("expected unchanged on error without fallback")
	}
	if !strings.HasPrefix(result.Reason, "error:") {
		t.Errorf("reason = %q, want error: prefix", result.Reason)
	}
}

func TestCompressLLM_RateLimitedUsesFallback(t *testing.T) {
	cfg := DefaultConfig()
	limiter := ratelimit.NewLimiter(ratelimit.Config{PerMinute: 1, PerHour: 1, Burst: 0})
	// Exhaust the window.
	if !limiter.Allow() {
		t.Fatal("first request should pass")
	}
	summarizer := &fakeSummarizer{text: "unused"}
	c := New(cfg, summarizer, limiter, nil, nil)

	result := c.compressLLM(context.Background(), planningMessages(20), "m")
	if !result.Changed || !result.Record.FallbackUsed {
		t.Errorf("rate-limited compression should fall back, changed=%v fallback=%v",
			result.Changed, result.Record.FallbackUsed)
	}
	if summarizer.calls != 0 {
		t.Errorf("summarizer called %d times while rate limited", summarizer.calls)
	}
}

func TestSelectStrategy(t *testing.T) {
	c := newTestCompressor(3)

	force := contextwindow.Metrics{Utilization: 0.92, TriggerThreshold: 0.85, ForceLLMThreshold: 0.90}
	if got := c.selectStrategy(fillerMessages(20, 100), force); got != models.StrategyLLM {
		t.Errorf("at force threshold strategy = %s, want llm", got)
	}

	normal := contextwindow.Metrics{Utilization: 0.86, TriggerThreshold: 0.85, ForceLLMThreshold: 0.90}
	if got := c.selectStrategy(fillerMessages(20, 100), normal); got != models.StrategySelective {
		t.Errorf("plain content strategy = %s, want selective", got)
	}

	if got := c.selectStrategy(planningMessages(20), normal); got != models.StrategyLLM {
		t.Errorf("planning content strategy = %s, want llm", got)
	}

	noisy := make([]models.Message, 0, 20)
	for i := 0; i < 20; i++ {
		noisy = append(noisy, models.NewToolMessage("search", "id", strings.Repeat("result ", 100)))
	}
	if got := c.selectStrategy(noisy, normal); got != models.StrategyHybrid {
		t.Errorf("tool-noise strategy = %s, want hybrid", got)
	}
}

func TestDetectPromptKind(t *testing.T) {
	if got := detectPromptKind(planningMessages(6)); got != PromptPlanning {
		t.Errorf("kind = %s, want planning", got)
	}

	code := []models.Message{
		models.NewUserMessage("the func main in package server needs import fixes"),
		models.NewAssistantMessage("updated func handler in package api"),
		models.NewUserMessage("also check func helper in package util"),
	}
	if got := detectPromptKind(code); got != PromptCode {
		t.Errorf("kind = %s, want code", got)
	}

	if got := detectPromptKind(fillerMessages(4, 50)); got != PromptGeneral {
		t.Errorf("kind = %s, want general", got)
	}
}

func TestCompress_ForceLLMEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveLastN = 3
	summarizer := &fakeSummarizer{text: "short summary"}
	c := New(cfg, summarizer, nil, nil, nil)

	metrics := contextwindow.Metrics{Utilization: 0.95, TriggerThreshold: 0.85, ForceLLMThreshold: 0.90}
	result := c.Compress(context.Background(), fillerMessages(40, 500), metrics, "m")
	if !result.Changed {
		t.Fatalf("expected compression, reason=%q", result.Reason)
	}
	if result.Record.Strategy != models.StrategyLLM {
		t.Errorf("record strategy = %s, want llm", result.Record.Strategy)
	}
	if result.Record.ReductionPct <= 0 {
		t.Error("reduction percentage not recorded")
	}
	if result.Record.OriginalCount != 40 {
		t.Errorf("original count = %d, want 40", result.Record.OriginalCount)
	}
}
