// Package contextwindow provides token accounting for LLM conversations:
// counting, utilization thresholds, and a short-lived analysis cache.
package contextwindow

import (
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// Default thresholds as fractions of the context window.
const (
	// DefaultContextWindow is the fallback window size in tokens.
	DefaultContextWindow = 50000

	// DefaultTriggerThreshold is the standard compression trigger.
	DefaultTriggerThreshold = 0.85

	// DefaultPostToolThreshold catches rapid growth after tool calls.
	DefaultPostToolThreshold = 0.80

	// DefaultForceLLMThreshold bypasses strategy selection and forces
	// LLM compression.
	DefaultForceLLMThreshold = 0.90

	// NearLimitThreshold is the diagnostic near-limit boundary.
	NearLimitThreshold = 0.90
)

// Metrics is a derived snapshot of context usage. All threshold comparisons
// are inclusive.
type Metrics struct {
	TokensUsed        int     `json:"tokens_used"`
	MaxTokens         int     `json:"max_tokens"`
	Utilization       float64 `json:"utilization"`
	TriggerThreshold  float64 `json:"trigger_threshold"`
	PostToolThreshold float64 `json:"post_tool_threshold"`
	ForceLLMThreshold float64 `json:"force_llm_threshold"`
}

// ShouldCompact reports whether utilization reached the standard trigger.
func (m Metrics) ShouldCompact() bool {
	return m.Utilization >= m.TriggerThreshold
}

// ShouldCompactPostTool reports whether utilization reached the post-tool
// trigger.
func (m Metrics) ShouldCompactPostTool() bool {
	return m.Utilization >= m.PostToolThreshold
}

// ForceLLM reports whether utilization is high enough to force the LLM
// compression strategy regardless of content profile.
func (m Metrics) ForceLLM() bool {
	return m.Utilization >= m.ForceLLMThreshold
}

// NearLimit reports whether the context is approaching the absolute limit.
func (m Metrics) NearLimit() bool {
	return m.Utilization >= NearLimitThreshold
}

// Overflow reports whether the token count exceeds the window. Overflow at
// LLM call time is fatal, not a warning.
func (m Metrics) Overflow() bool {
	return m.TokensUsed > m.MaxTokens
}

// Config configures a Manager.
type Config struct {
	MaxTokens         int
	TriggerThreshold  float64
	PostToolThreshold float64
	ForceLLMThreshold float64

	// CacheDuration bounds how long analysis results are reused.
	CacheDuration time.Duration

	// CacheSize caps the analysis cache; oldest entries are evicted.
	CacheSize int

	// CorrectionFactors maps model-family names to published token-count
	// correction factors (e.g. "glm-4.5" → 0.65). A family matches when it
	// appears anywhere in the model id, case-insensitively; the longest
	// match wins.
	CorrectionFactors map[string]float64
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:         DefaultContextWindow,
		TriggerThreshold:  DefaultTriggerThreshold,
		PostToolThreshold: DefaultPostToolThreshold,
		ForceLLMThreshold: DefaultForceLLMThreshold,
		CacheDuration:     60 * time.Second,
		CacheSize:         10,
		CorrectionFactors: map[string]float64{"glm-4.5": 0.65},
	}
}

// Manager counts tokens and derives utilization metrics with a recent-analysis
// cache keyed by the structural hash of the input.
type Manager struct {
	config   Config
	counters map[string]CounterFunc
	cache    *analysisCache
	logger   *slog.Logger
}

// NewManager creates a context window manager. A nil logger defaults to
// slog.Default.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultContextWindow
	}
	if config.TriggerThreshold <= 0 {
		config.TriggerThreshold = DefaultTriggerThreshold
	}
	if config.PostToolThreshold <= 0 {
		config.PostToolThreshold = DefaultPostToolThreshold
	}
	if config.ForceLLMThreshold <= 0 {
		config.ForceLLMThreshold = DefaultForceLLMThreshold
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 10
	}
	return &Manager{
		config:   config,
		counters: make(map[string]CounterFunc),
		cache:    newAnalysisCache(config.CacheSize, config.CacheDuration),
		logger:   logger.With("component", "contextwindow"),
	}
}

// RegisterCounter installs a model-aware counting function for a model id or
// model-family prefix. Longest prefix wins at lookup time.
func (m *Manager) RegisterCounter(modelPrefix string, fn CounterFunc) {
	m.counters[modelPrefix] = fn
}

// MaxTokens returns the configured window size.
func (m *Manager) MaxTokens() int {
	return m.config.MaxTokens
}

// Analyze counts tokens for the message list and returns derived metrics.
// Results are cached for the configured duration, keyed by structural hash,
// so repeated analyses of an unchanged conversation skip the token count.
func (m *Manager) Analyze(messages []models.Message, model string) Metrics {
	key := structuralHash(messages, model)
	if cached, ok := m.cache.get(key); ok {
		return cached
	}

	tokens := m.CountTokens(messages, model)
	metrics := Metrics{
		TokensUsed:        tokens,
		MaxTokens:         m.config.MaxTokens,
		TriggerThreshold:  m.config.TriggerThreshold,
		PostToolThreshold: m.config.PostToolThreshold,
		ForceLLMThreshold: m.config.ForceLLMThreshold,
	}
	if m.config.MaxTokens > 0 {
		metrics.Utilization = float64(tokens) / float64(m.config.MaxTokens)
	}

	m.cache.put(key, metrics)
	m.logger.Debug("context analysis",
		"messages", len(messages),
		"tokens", tokens,
		"utilization", metrics.Utilization)
	return metrics
}

// CountTokens counts tokens for the messages using, in order of preference:
// a registered model-aware counter, the encoding approximation, and finally
// the chars/4 estimate. A per-family correction factor is applied when
// configured.
func (m *Manager) CountTokens(messages []models.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}

	var count int
	if fn, ok := m.lookupCounter(model); ok {
		n, err := fn(messages, model)
		if err != nil {
			m.logger.Warn("model token counter failed, using estimate", "model", model, "error", err)
			count = EstimateTokens(messages)
		} else {
			count = n
		}
	} else {
		count = EstimateTokens(messages)
	}

	if factor, ok := m.lookupCorrection(model); ok {
		corrected := int(float64(count) * factor)
		m.logger.Debug("token correction applied", "model", model, "factor", factor, "raw", count, "corrected", corrected)
		count = corrected
	}
	return count
}

func (m *Manager) lookupCounter(model string) (CounterFunc, bool) {
	best := ""
	var fn CounterFunc
	for prefix, candidate := range m.counters {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			fn = candidate
		}
	}
	return fn, best != ""
}

func (m *Manager) lookupCorrection(model string) (float64, bool) {
	lower := strings.ToLower(model)
	best := ""
	factor := 0.0
	for family, f := range m.config.CorrectionFactors {
		if strings.Contains(lower, strings.ToLower(family)) && len(family) > len(best) {
			best = family
			factor = f
		}
	}
	return factor, best != ""
}
