// Package runtime assembles the agent runtime from configuration: providers,
// context window manager, compressor, hook pipeline, orchestrator, tool
// registry, and the loop. There is no global mutable state; everything hangs
// off the Runtime value.
package runtime

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/compression"
	"github.com/haasonsaas/deepplan/internal/config"
	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/hooks"
	"github.com/haasonsaas/deepplan/internal/observability"
	"github.com/haasonsaas/deepplan/internal/phase"
	"github.com/haasonsaas/deepplan/internal/providers/anthropic"
	"github.com/haasonsaas/deepplan/internal/providers/openai"
	"github.com/haasonsaas/deepplan/internal/ratelimit"
	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/internal/tools/files"
	"github.com/haasonsaas/deepplan/internal/tools/planreview"
	"github.com/haasonsaas/deepplan/internal/tools/subagent"
	"github.com/haasonsaas/deepplan/internal/tools/todos"
	"github.com/prometheus/client_golang/prometheus"
)

// Runtime bundles the assembled components of one agent runtime.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	Loop         *agent.Loop
	Registry     *agent.ToolRegistry
	Pipeline     *hooks.Pipeline
	Orchestrator *phase.Orchestrator
	Window       *contextwindow.Manager
	Compressor   *compression.Compressor
	Archiver     *compression.Archiver
	Metrics      *observability.Metrics
}

// Options controls optional runtime wiring.
type Options struct {
	// Provider overrides provider resolution from the environment.
	Provider agent.LLMProvider

	// Summarizer overrides the compression summarizer. Defaults to the
	// provider when it implements compression.Summarizer.
	Summarizer compression.Summarizer

	// MetricsRegisterer receives the Prometheus collectors. Nil disables
	// metrics registration.
	MetricsRegisterer prometheus.Registerer
}

// New assembles a runtime from config. The provider is resolved from the
// model name and API keys in the environment unless overridden.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(logger); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = resolveProvider(cfg.Model)
		if err != nil {
			return nil, err
		}
	}
	summarizer := opts.Summarizer
	if summarizer == nil {
		if s, ok := provider.(compression.Summarizer); ok {
			summarizer = s
		}
	}

	var metrics *observability.Metrics
	if opts.MetricsRegisterer != nil {
		metrics = observability.NewMetrics(opts.MetricsRegisterer)
	}

	window := contextwindow.NewManager(contextwindow.Config{
		MaxTokens:         cfg.MaxContextWindow,
		TriggerThreshold:  cfg.TriggerThreshold,
		PostToolThreshold: cfg.PostToolThreshold,
		ForceLLMThreshold: cfg.ForceLLMThreshold,
		CacheDuration:     cfg.AnalysisCacheDuration(),
		CorrectionFactors: cfg.TokenCorrectionFactors,
	}, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		PerMinute:         cfg.RateLimit.PerMinute,
		PerHour:           cfg.RateLimit.PerHour,
		BackoffMultiplier: cfg.RateLimit.BackoffMultiplier,
		MaxBackoff:        cfg.RateLimit.MaxBackoff(),
		AutoTuning:        cfg.RateLimit.AutoTuning,
	})

	compressor := compression.New(compression.Config{
		PreserveLastN:     cfg.PreserveLastNMessages,
		MinReduction:      cfg.MinReductionThreshold,
		Timeout:           cfg.CompressionTimeout(),
		EnableFallback:    cfg.FallbackEnabled(),
		MCPNoiseThreshold: cfg.MCPNoiseThreshold,
		CompressionModel:  cfg.CompressionModel,
	}, summarizer, limiter, metrics, logger)

	archiver := compression.NewArchiver(compression.ArchiveThresholds{
		Large: cfg.ArchiveThresholds.Large,
		Huge:  cfg.ArchiveThresholds.Huge,
	}, nil)

	pipeline := hooks.NewPipeline(logger)
	hooks.NewCompressionHook(window, compressor, cfg.HookCooldown(), logger).RegisterOn(pipeline)

	orchestrator := phase.NewOrchestrator(nil, logger)
	registry := agent.NewToolRegistry()

	loop := agent.NewLoop(provider, registry, pipeline, orchestrator, window, archiver,
		&agent.LoopConfig{
			Model:         cfg.Model,
			MaxIterations: cfg.MaxIterations,
		}, metrics, logger)

	registerBuiltinTools(registry, loop)

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Loop:         loop,
		Registry:     registry,
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
		Window:       window,
		Compressor:   compressor,
		Archiver:     archiver,
		Metrics:      metrics,
	}, nil
}

// NewState returns a fresh session state positioned at the first phase.
func (r *Runtime) NewState() *state.AgentState {
	return state.New()
}

func registerBuiltinTools(registry *agent.ToolRegistry, loop *agent.Loop) {
	registry.Register(&files.LsTool{})
	registry.Register(&files.ReadFileTool{})
	registry.Register(&files.WriteFileTool{})
	registry.Register(&files.EditFileTool{})
	registry.Register(&files.OrganizeTool{})
	registry.Register(&files.CleanupTool{})
	registry.Register(&todos.WriteTodosTool{})
	registry.Register(&planreview.Tool{})
	registry.Register(subagent.New(loop))

	// OpenAI-family models JSON-encode the todos array; see NormalizeArguments.
	registry.RegisterCompatibilityFix("write_todos")
	registry.RegisterCompatibilityFix("review_plan")
}

// resolveProvider picks a provider from the model name and environment keys.
func resolveProvider(model string) (agent.LLMProvider, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && isClaudeModel(model) {
		return anthropic.New(anthropic.Config{APIKey: key, DefaultModel: model})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return openai.New(openai.Config{APIKey: key, DefaultModel: model})
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return anthropic.New(anthropic.Config{APIKey: key, DefaultModel: model})
	}
	return nil, fmt.Errorf("no provider credentials: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

func isClaudeModel(model string) bool {
	return model == "" || (len(model) >= 6 && model[:6] == "claude")
}
