// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig configures compression rate limiting.
type RateLimitConfig struct {
	PerMinute         int     `yaml:"per_minute"`
	PerHour           int     `yaml:"per_hour"`
	AutoTuning        bool    `yaml:"auto_tuning"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffSeconds float64 `yaml:"max_backoff_seconds"`
}

// ArchiveThresholdsConfig configures the archive protocol character counts.
type ArchiveThresholdsConfig struct {
	Large int `yaml:"large"`
	Huge  int `yaml:"huge"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the runtime configuration.
type Config struct {
	Model            string `yaml:"model"`
	CompressionModel string `yaml:"compression_model"`

	MaxContextWindow int `yaml:"max_context_window"`

	TriggerThreshold  float64 `yaml:"trigger_threshold"`
	PostToolThreshold float64 `yaml:"post_tool_threshold"`
	ForceLLMThreshold float64 `yaml:"force_llm_threshold"`
	MCPNoiseThreshold float64 `yaml:"mcp_noise_threshold"`

	PreserveLastNMessages        int     `yaml:"preserve_last_n_messages"`
	MinReductionThreshold        float64 `yaml:"min_reduction_threshold"`
	CompressionTimeoutSeconds    float64 `yaml:"compression_timeout_seconds"`
	EnableFallback               *bool   `yaml:"enable_fallback"`
	AnalysisCacheDurationSeconds float64 `yaml:"analysis_cache_duration_seconds"`
	HookCooldownSeconds          float64 `yaml:"hook_cooldown_seconds"`

	MaxIterations int `yaml:"max_iterations"`

	ArchiveThresholds ArchiveThresholdsConfig `yaml:"archive_thresholds"`
	RateLimit         RateLimitConfig         `yaml:"rate_limit"`

	// TokenCorrectionFactors maps model families to published token-count
	// correction factors.
	TokenCorrectionFactors map[string]float64 `yaml:"token_correction_factors"`

	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the default configuration.
func Default() *Config {
	enableFallback := true
	return &Config{
		Model:                        "claude-sonnet-4-20250514",
		MaxContextWindow:             50000,
		TriggerThreshold:             0.85,
		PostToolThreshold:            0.80,
		ForceLLMThreshold:            0.90,
		MCPNoiseThreshold:            0.60,
		PreserveLastNMessages:        5,
		MinReductionThreshold:        0.30,
		CompressionTimeoutSeconds:    30,
		EnableFallback:               &enableFallback,
		AnalysisCacheDurationSeconds: 60,
		HookCooldownSeconds:          60,
		MaxIterations:                50,
		ArchiveThresholds:            ArchiveThresholdsConfig{Large: 3000, Huge: 5000},
		RateLimit: RateLimitConfig{
			PerMinute:         20,
			PerHour:           1000,
			AutoTuning:        true,
			BackoffMultiplier: 2.0,
			MaxBackoffSeconds: 300,
		},
		TokenCorrectionFactors: map[string]float64{"glm-4.5": 0.65},
		Logging:                LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects out-of-range values and logs warnings for accepted but
// suspicious combinations.
func (c *Config) Validate(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c.MaxContextWindow <= 0 {
		return fmt.Errorf("max_context_window must be positive, got %d", c.MaxContextWindow)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.PreserveLastNMessages < 0 {
		return fmt.Errorf("preserve_last_n_messages must be non-negative, got %d", c.PreserveLastNMessages)
	}
	if c.CompressionTimeoutSeconds <= 0 {
		return fmt.Errorf("compression_timeout_seconds must be positive, got %v", c.CompressionTimeoutSeconds)
	}
	if c.AnalysisCacheDurationSeconds < 0 {
		return fmt.Errorf("analysis_cache_duration_seconds must be non-negative, got %v", c.AnalysisCacheDurationSeconds)
	}
	if c.HookCooldownSeconds < 0 {
		return fmt.Errorf("hook_cooldown_seconds must be non-negative, got %v", c.HookCooldownSeconds)
	}

	fractions := map[string]float64{
		"trigger_threshold":       c.TriggerThreshold,
		"post_tool_threshold":     c.PostToolThreshold,
		"force_llm_threshold":     c.ForceLLMThreshold,
		"mcp_noise_threshold":     c.MCPNoiseThreshold,
		"min_reduction_threshold": c.MinReductionThreshold,
	}
	for name, v := range fractions {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
		}
	}

	// Accepted but logged: inverted threshold ordering still works; the
	// post-tool check then fires no earlier than the standard trigger.
	if c.PostToolThreshold >= c.TriggerThreshold {
		logger.Warn("post_tool_threshold >= trigger_threshold",
			"post_tool", c.PostToolThreshold, "trigger", c.TriggerThreshold)
	}
	if c.ForceLLMThreshold < c.TriggerThreshold {
		logger.Warn("force_llm_threshold below trigger_threshold",
			"force_llm", c.ForceLLMThreshold, "trigger", c.TriggerThreshold)
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// CompressionTimeout returns the compression timeout as a duration.
func (c *Config) CompressionTimeout() time.Duration {
	return time.Duration(c.CompressionTimeoutSeconds * float64(time.Second))
}

// AnalysisCacheDuration returns the analysis cache TTL as a duration.
func (c *Config) AnalysisCacheDuration() time.Duration {
	return time.Duration(c.AnalysisCacheDurationSeconds * float64(time.Second))
}

// HookCooldown returns the compression hook cooldown as a duration.
func (c *Config) HookCooldown() time.Duration {
	return time.Duration(c.HookCooldownSeconds * float64(time.Second))
}

// MaxBackoff returns the rate limiter backoff cap as a duration.
func (c *RateLimitConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds * float64(time.Second))
}

// FallbackEnabled reports whether the compression fallback template is on.
func (c *Config) FallbackEnabled() bool {
	return c.EnableFallback == nil || *c.EnableFallback
}

// NewLogger builds a slog logger from the logging config.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
