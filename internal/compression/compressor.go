// Package compression reduces conversation size under a token budget while
// preserving designated critical elements. Three strategies are available:
// selective (structural), LLM summarisation (semantic), and hybrid
// (selective first, then LLM on the residue), with a deterministic fallback
// template when the LLM path fails.
package compression

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/observability"
	"github.com/haasonsaas/deepplan/internal/ratelimit"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// Summarizer is the minimal LLM surface the compressor needs. Providers
// implement it alongside the full completion interface.
type Summarizer interface {
	// Summarize produces a completion for the given system and user prompts.
	Summarize(ctx context.Context, model, system, prompt string, maxTokens int) (string, error)
}

// Result of one compression pass.
type Result struct {
	// Messages is the replacement list. Equal to the input when unchanged.
	Messages []models.Message

	// Changed reports whether the output differs from the input.
	Changed bool

	// Reason explains an unchanged result ("insufficient_reduction",
	// "too_few_messages", "error: ...").
	Reason string

	// Record carries the history entry for a changed result.
	Record models.CompressionRecord
}

// Unchanged reasons.
const (
	ReasonInsufficientReduction = "insufficient_reduction"
	ReasonTooFewMessages        = "too_few_messages"
	ReasonRateLimited           = "rate_limited"
)

// Config configures the compressor.
type Config struct {
	// PreserveLastN messages survive every compression byte-identically.
	PreserveLastN int

	// MinReduction is the minimum fractional token reduction for a pass to
	// count; below it the input is returned unchanged.
	MinReduction float64

	// Timeout bounds each strategy, LLM calls included.
	Timeout time.Duration

	// EnableFallback produces a deterministic template summary when the LLM
	// path times out or errors.
	EnableFallback bool

	// MaxOutputTokens bounds LLM summary length.
	MaxOutputTokens int

	// MCPNoiseThreshold is the tool-content fraction above which the hybrid
	// strategy is preferred.
	MCPNoiseThreshold float64

	// MaxConcurrent bounds parallel LLM-summarise calls across sessions.
	MaxConcurrent int

	// CompressionModel overrides the conversation model for summarisation.
	CompressionModel string
}

// DefaultConfig returns the default compressor configuration.
func DefaultConfig() Config {
	return Config{
		PreserveLastN:     5,
		MinReduction:      0.30,
		Timeout:           30 * time.Second,
		EnableFallback:    true,
		MaxOutputTokens:   2000,
		MCPNoiseThreshold: 0.60,
		MaxConcurrent:     3,
	}
}

// Compressor executes compression strategies with preservation guarantees.
// Safe for concurrent use across sessions; LLM calls are bounded by a counted
// semaphore and a rate limiter.
type Compressor struct {
	config     Config
	summarizer Summarizer
	limiter    *ratelimit.Limiter
	sem        chan struct{}
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a compressor. The summarizer may be nil, in which case the LLM
// strategy degrades to the fallback template. A nil limiter disables rate
// limiting; a nil logger defaults to slog.Default.
func New(config Config, summarizer Summarizer, limiter *ratelimit.Limiter, metrics *observability.Metrics, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PreserveLastN <= 0 {
		config.PreserveLastN = 5
	}
	if config.MinReduction <= 0 {
		config.MinReduction = 0.30
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 2000
	}
	return &Compressor{
		config:     config,
		summarizer: summarizer,
		limiter:    limiter,
		sem:        make(chan struct{}, config.MaxConcurrent),
		metrics:    metrics,
		logger:     logger.With("component", "compression"),
		now:        time.Now,
	}
}

// Compress reduces the message list according to the selected strategy. The
// input is never mutated. On any internal failure the original list is
// returned unchanged with an error reason; the compressor never panics or
// raises across the boundary.
func (c *Compressor) Compress(ctx context.Context, messages []models.Message, metrics contextwindow.Metrics, model string) Result {
	if len(messages) <= 1 {
		return Result{Messages: messages, Reason: ReasonTooFewMessages}
	}

	strategy := c.selectStrategy(messages, metrics)
	start := c.now()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var result Result
	switch strategy {
	case models.StrategyLLM:
		result = c.compressLLM(ctx, messages, model)
	case models.StrategyHybrid:
		result = c.compressHybrid(ctx, messages, model)
	default:
		result = c.compressSelective(messages)
	}

	if result.Changed {
		result = c.enforceMinReduction(messages, result)
	}
	if result.Changed {
		result.Record.Strategy = strategy
		if result.Record.FallbackUsed {
			result.Record.Strategy = models.StrategyFallback
		}
		result.Record.At = c.now()
		result.Record.OriginalCount = len(messages)
		result.Record.ResultCount = len(result.Messages)
	}

	if c.metrics != nil {
		outcome := "unchanged"
		if result.Changed {
			outcome = "compressed"
		}
		c.metrics.Compressions.WithLabelValues(string(strategy), outcome).Inc()
		c.metrics.CompressionTime.Observe(c.now().Sub(start).Seconds())
	}
	c.logger.Info("compression pass",
		"strategy", strategy,
		"changed", result.Changed,
		"reason", result.Reason,
		"messages_in", len(messages),
		"messages_out", len(result.Messages))
	return result
}

// selectStrategy picks the strategy per call. Utilization at or above the
// force threshold always selects LLM; heavy tool noise selects hybrid so the
// structural pass shrinks the LLM's work; semantically rich planning content
// selects LLM; everything else selects selective.
func (c *Compressor) selectStrategy(messages []models.Message, metrics contextwindow.Metrics) models.CompressionStrategy {
	if metrics.ForceLLM() {
		return models.StrategyLLM
	}
	noise := toolContentFraction(messages)
	if noise >= c.config.MCPNoiseThreshold && c.config.MCPNoiseThreshold > 0 {
		return models.StrategyHybrid
	}
	if isSemanticallyRich(messages) && noise < 0.5 {
		return models.StrategyLLM
	}
	return models.StrategySelective
}

// enforceMinReduction reverts the pass when the token reduction is below the
// configured minimum.
func (c *Compressor) enforceMinReduction(input []models.Message, result Result) Result {
	before := contextwindow.EstimateTokens(input)
	after := contextwindow.EstimateTokens(result.Messages)
	if before == 0 {
		return Result{Messages: input, Reason: ReasonInsufficientReduction}
	}
	reduction := 1 - float64(after)/float64(before)
	if reduction < c.config.MinReduction {
		return Result{Messages: input, Reason: ReasonInsufficientReduction}
	}
	result.Record.TokensBefore = before
	result.Record.TokensAfter = after
	result.Record.ReductionPct = reduction * 100
	return result
}

// toolContentFraction returns the fraction of total content characters held
// by tool messages.
func toolContentFraction(messages []models.Message) float64 {
	total, tool := 0, 0
	for _, m := range messages {
		n := len(m.Content)
		total += n
		if m.Role == models.RoleTool {
			tool += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(tool) / float64(total)
}

var planningVocabulary = []string{
	"plan", "planning", "architecture", "design", "requirement",
	"implementation", "phase", "milestone", "approach", "strategy",
}

// isSemanticallyRich reports whether the conversation carries planning or
// architecture vocabulary dense enough to be worth a semantic summary.
func isSemanticallyRich(messages []models.Message) bool {
	hits := 0
	for _, m := range messages {
		if m.Role == models.RoleTool {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, word := range planningVocabulary {
			if strings.Contains(lower, word) {
				hits++
				break
			}
		}
	}
	return hits >= 3
}
