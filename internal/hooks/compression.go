package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/deepplan/internal/compression"
	"github.com/haasonsaas/deepplan/internal/contextwindow"
	"github.com/haasonsaas/deepplan/internal/state"
)

// CompressionHookName identifies the built-in compression hook.
const CompressionHookName = "context_compression"

// DefaultCompressionCooldown spaces compressions to avoid thrashing.
const DefaultCompressionCooldown = 60 * time.Second

// CompressionHook calls the context window manager and, when compression is
// required, invokes the compressor and returns the replaced messages as a
// state delta. It enforces a wall-time cooldown between compressions.
//
// Registered as a pre-step hook (standard trigger) and a post-tool hook
// (post-tool trigger to catch rapid growth).
type CompressionHook struct {
	window     *contextwindow.Manager
	compressor *compression.Compressor
	cooldown   time.Duration
	logger     *slog.Logger

	mu             sync.Mutex
	lastCompressed time.Time
	now            func() time.Time
}

// NewCompressionHook creates the built-in compression hook. A non-positive
// cooldown uses the default.
func NewCompressionHook(window *contextwindow.Manager, compressor *compression.Compressor, cooldown time.Duration, logger *slog.Logger) *CompressionHook {
	if cooldown <= 0 {
		cooldown = DefaultCompressionCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CompressionHook{
		window:     window,
		compressor: compressor,
		cooldown:   cooldown,
		logger:     logger.With("component", "compression_hook"),
		now:        time.Now,
	}
}

// RegisterOn installs the hook on the pipeline for the pre-step and
// post-tool dispatch points at high priority, so its delta merges before
// other hooks' deltas.
func (h *CompressionHook) RegisterOn(pipeline *Pipeline) {
	pipeline.Register(KindPreStep, CompressionHookName, PriorityHigh, h.Run)
	pipeline.Register(KindPostTool, CompressionHookName, PriorityHigh, h.Run)
}

// Run implements Func. It returns nil (no change) when no compression is
// needed, the cooldown is active, or the compressor declined to change the
// list.
func (h *CompressionHook) Run(ctx context.Context, hc *HookContext) (*Result, error) {
	messages := hc.State.Messages
	if len(messages) == 0 {
		return nil, nil
	}

	model, _ := hc.Metadata["model"].(string)
	metrics := h.window.Analyze(messages, model)

	trigger, _ := hc.Metadata["trigger"].(string)
	needed := metrics.ShouldCompact()
	if trigger == "post_tool" {
		needed = metrics.ShouldCompactPostTool()
	}
	if !needed {
		return nil, nil
	}

	// Cooldown, unless the context is about to overflow.
	h.mu.Lock()
	inCooldown := !h.lastCompressed.IsZero() && h.now().Sub(h.lastCompressed) < h.cooldown
	h.mu.Unlock()
	if inCooldown && !metrics.NearLimit() {
		h.logger.Debug("compression skipped, cooldown active", "utilization", metrics.Utilization)
		return nil, nil
	}

	result := h.compressor.Compress(ctx, messages, metrics, model)
	if !result.Changed {
		h.logger.Info("compression returned unchanged", "reason", result.Reason)
		return nil, nil
	}

	h.mu.Lock()
	h.lastCompressed = h.now()
	h.mu.Unlock()

	update := state.ReplaceMessages(result.Messages)
	record := result.Record
	update.CompressionRecord = &record
	return &Result{Update: update}, nil
}
