package contextwindow

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/deepplan/pkg/models"
)

func newTestManager(maxTokens int) *Manager {
	cfg := DefaultConfig()
	cfg.MaxTokens = maxTokens
	return NewManager(cfg, nil)
}

func TestAnalyze_EmptyMessages(t *testing.T) {
	m := newTestManager(50000)
	metrics := m.Analyze(nil, "claude-sonnet-4-20250514")

	if metrics.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", metrics.TokensUsed)
	}
	if metrics.ShouldCompact() {
		t.Error("empty conversation should not trigger compression")
	}
}

func TestMetrics_InclusiveThresholds(t *testing.T) {
	m := Metrics{
		TokensUsed:        850,
		MaxTokens:         1000,
		Utilization:       0.85,
		TriggerThreshold:  0.85,
		PostToolThreshold: 0.80,
		ForceLLMThreshold: 0.90,
	}
	if !m.ShouldCompact() {
		t.Error("utilization exactly at trigger threshold must trigger (inclusive)")
	}
	if !m.ShouldCompactPostTool() {
		t.Error("post-tool threshold is inclusive")
	}
	if m.ForceLLM() {
		t.Error("below force threshold")
	}

	m.Utilization = 0.90
	if !m.ForceLLM() {
		t.Error("at force threshold, LLM strategy must be forced")
	}
	if !m.NearLimit() {
		t.Error("at 90%, near limit")
	}
}

func TestMetrics_Overflow(t *testing.T) {
	m := Metrics{TokensUsed: 1001, MaxTokens: 1000}
	if !m.Overflow() {
		t.Error("tokens above window must report overflow")
	}
	m.TokensUsed = 1000
	if m.Overflow() {
		t.Error("tokens equal to window is not overflow")
	}
}

func TestCountTokens_RegisteredCounterWins(t *testing.T) {
	m := newTestManager(50000)
	m.RegisterCounter("claude", func(messages []models.Message, model string) (int, error) {
		return 1234, nil
	})

	got := m.CountTokens([]models.Message{models.NewUserMessage("hello world")}, "claude-sonnet-4-20250514")
	if got != 1234 {
		t.Errorf("CountTokens = %d, want 1234 from registered counter", got)
	}
}

func TestCountTokens_CorrectionFactor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrectionFactors = map[string]float64{"glm-4.5": 0.65}
	m := NewManager(cfg, nil)
	m.RegisterCounter("glm", func(messages []models.Message, model string) (int, error) {
		return 1000, nil
	})

	got := m.CountTokens([]models.Message{models.NewUserMessage("x")}, "glm-4.5-air")
	if got != 650 {
		t.Errorf("CountTokens = %d, want 650 after 0.65 correction", got)
	}
}

func TestCountTokens_FallbackEstimate(t *testing.T) {
	m := newTestManager(50000)
	msgs := []models.Message{models.NewUserMessage(strings.Repeat("word ", 100))}
	got := m.CountTokens(msgs, "unknown-model")
	if got <= 0 {
		t.Errorf("fallback estimate = %d, want > 0", got)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	m := newTestManager(50000)
	msgs := []models.Message{
		models.NewSystemMessage("prompt"),
		models.NewUserMessage("hello there"),
	}
	first := m.Analyze(msgs, "claude-sonnet-4-20250514")
	second := m.Analyze(msgs, "claude-sonnet-4-20250514") // cache hit
	if first != second {
		t.Errorf("cache hit differs from miss: %+v vs %+v", first, second)
	}

	fresh := newTestManager(50000)
	third := fresh.Analyze(msgs, "claude-sonnet-4-20250514")
	if first != third {
		t.Errorf("analysis not deterministic across managers: %+v vs %+v", first, third)
	}
}

func TestAnalyze_CacheInvalidatesOnChange(t *testing.T) {
	m := newTestManager(50000)
	msgs := []models.Message{models.NewUserMessage("hello")}
	before := m.Analyze(msgs, "m")

	msgs = append(msgs, models.NewUserMessage(strings.Repeat("more content ", 50)))
	after := m.Analyze(msgs, "m")
	if after.TokensUsed <= before.TokensUsed {
		t.Errorf("tokens after growth = %d, want > %d", after.TokensUsed, before.TokensUsed)
	}
}

func TestAnalysisCache_TTLExpiry(t *testing.T) {
	cache := newAnalysisCache(4, 10*time.Millisecond)
	cache.put(1, Metrics{TokensUsed: 5})
	if _, ok := cache.get(1); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.get(1); ok {
		t.Error("expired entry still served")
	}
}

func TestAnalysisCache_Bounded(t *testing.T) {
	cache := newAnalysisCache(2, time.Minute)
	cache.put(1, Metrics{})
	cache.put(2, Metrics{})
	cache.put(3, Metrics{})
	if len(cache.entries) > 2 {
		t.Errorf("cache size = %d, want <= 2", len(cache.entries))
	}
}

func TestEstimateTokens_NonEmptyMinimum(t *testing.T) {
	if got := EstimateTokensChars("ab"); got != 1 {
		t.Errorf("EstimateTokensChars(short) = %d, want 1", got)
	}
	if got := EstimateTokensChars(""); got != 0 {
		t.Errorf("EstimateTokensChars(empty) = %d, want 0", got)
	}
}
