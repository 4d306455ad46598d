// Package ratelimit bounds LLM compression QPS with sliding per-minute and
// per-hour windows, a token-bucket burst allowance, and exponential backoff
// on consecutive errors.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config configures the limiter.
type Config struct {
	// PerMinute is the sliding-window request ceiling per minute.
	PerMinute int `yaml:"per_minute"`

	// PerHour is the sliding-window request ceiling per hour.
	PerHour int `yaml:"per_hour"`

	// Burst is the token-bucket burst allowance on top of the per-minute
	// ceiling.
	Burst int `yaml:"burst"`

	// BackoffMultiplier is the exponential factor applied per consecutive
	// error.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// AutoTuning adjusts the per-minute ceiling from the observed error rate.
	AutoTuning bool `yaml:"auto_tuning"`
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		PerMinute:         20,
		PerHour:           1000,
		Burst:             5,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Second,
		AutoTuning:        true,
	}
}

// Limiter tracks request timestamps across sliding windows and applies
// exponential backoff after consecutive errors. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	config Config

	requests []time.Time

	consecutiveErrors int
	backoffUntil      time.Time

	// Auto-tuning state: the effective per-minute ceiling and recent outcome
	// counts within the tuning window.
	effectivePerMinute int
	tuneSuccesses      int
	tuneErrors         int
	lastTune           time.Time

	now func() time.Time
}

// autoTuneInterval is how often the per-minute ceiling is reconsidered.
const autoTuneInterval = time.Minute

// NewLimiter creates a limiter from config.
func NewLimiter(config Config) *Limiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 20
	}
	if config.PerHour <= 0 {
		config.PerHour = 1000
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = 2.0
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 300 * time.Second
	}
	return &Limiter{
		config:             config,
		effectivePerMinute: config.PerMinute,
		now:                time.Now,
	}
}

// Allow reports whether a request may proceed now, consuming a slot if so.
func (l *Limiter) Allow() bool {
	ok, _ := l.check(true)
	return ok
}

// WaitTime returns how long the caller should wait before a request would be
// allowed. Zero means a request is allowed now.
func (l *Limiter) WaitTime() time.Duration {
	_, wait := l.check(false)
	return wait
}

func (l *Limiter) check(consume bool) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.backoffUntil) {
		return false, l.backoffUntil.Sub(now)
	}

	l.prune(now)
	l.maybeTune(now)

	minuteCount := 0
	cutoff := now.Add(-time.Minute)
	for _, t := range l.requests {
		if t.After(cutoff) {
			minuteCount++
		}
	}
	hourCount := len(l.requests)

	if minuteCount >= l.effectivePerMinute+l.config.Burst || hourCount >= l.config.PerHour {
		return false, l.retryAfter(now)
	}
	if consume {
		l.requests = append(l.requests, now)
	}
	return true, 0
}

func (l *Limiter) retryAfter(now time.Time) time.Duration {
	if len(l.requests) == 0 {
		return time.Second
	}
	oldest := l.requests[0]
	wait := oldest.Add(time.Minute).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// prune drops request timestamps older than the hour window. Must be called
// with the lock held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := l.requests[:0]
	for _, t := range l.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.requests = kept
}

// RecordError registers a failed request and arms exponential backoff. The
// delay is multiplier^consecutive_errors seconds, capped at MaxBackoff.
func (l *Limiter) RecordError() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveErrors++
	l.tuneErrors++
	seconds := math.Pow(l.config.BackoffMultiplier, float64(l.consecutiveErrors))
	delay := time.Duration(seconds * float64(time.Second))
	if delay > l.config.MaxBackoff {
		delay = l.config.MaxBackoff
	}
	l.backoffUntil = l.now().Add(delay)
	return delay
}

// RecordSuccess registers a completed request and clears backoff state.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveErrors = 0
	l.backoffUntil = time.Time{}
	l.tuneSuccesses++
}

// ConsecutiveErrors returns the current consecutive error count.
func (l *Limiter) ConsecutiveErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutiveErrors
}

// maybeTune periodically adjusts the effective per-minute ceiling based on
// the observed error rate: shrink on a high error rate, recover toward the
// configured ceiling on a clean window. Must be called with the lock held.
func (l *Limiter) maybeTune(now time.Time) {
	if !l.config.AutoTuning {
		return
	}
	if l.lastTune.IsZero() {
		l.lastTune = now
		return
	}
	if now.Sub(l.lastTune) < autoTuneInterval {
		return
	}
	total := l.tuneSuccesses + l.tuneErrors
	if total > 0 {
		errorRate := float64(l.tuneErrors) / float64(total)
		switch {
		case errorRate > 0.2:
			l.effectivePerMinute = maxInt(1, l.effectivePerMinute/2)
		case errorRate == 0 && l.effectivePerMinute < l.config.PerMinute:
			l.effectivePerMinute = minInt(l.config.PerMinute, l.effectivePerMinute+maxInt(1, l.config.PerMinute/4))
		}
	}
	l.tuneSuccesses = 0
	l.tuneErrors = 0
	l.lastTune = now
}

// EffectivePerMinute returns the current per-minute ceiling after tuning.
func (l *Limiter) EffectivePerMinute() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectivePerMinute
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
