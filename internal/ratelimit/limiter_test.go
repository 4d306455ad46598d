package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := NewLimiter(cfg)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_MinuteWindow(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 2, PerHour: 100, Burst: 0})

	if !l.Allow() || !l.Allow() {
		t.Fatal("first two requests should pass")
	}
	if l.Allow() {
		t.Error("third request within the minute should be denied")
	}

	*now = now.Add(61 * time.Second)
	if !l.Allow() {
		t.Error("request after window slide should pass")
	}
}

func TestLimiter_HourWindow(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 100, PerHour: 3, Burst: 0})

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should pass", i)
		}
		*now = now.Add(2 * time.Minute)
	}
	if l.Allow() {
		t.Error("fourth request within the hour should be denied")
	}
}

func TestLimiter_ExponentialBackoffOnConsecutiveErrors(t *testing.T) {
	l, now := newTestLimiter(Config{
		PerMinute:         100,
		PerHour:           1000,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Second,
	})

	l.RecordError()
	l.RecordError()
	delay := l.RecordError()

	// Third consecutive error: at least multiplier^3 seconds.
	if delay < 8*time.Second {
		t.Errorf("third backoff = %v, want >= 8s", delay)
	}
	if l.Allow() {
		t.Error("request during backoff should be denied")
	}
	if wait := l.WaitTime(); wait <= 0 {
		t.Error("WaitTime should be positive during backoff")
	}

	*now = now.Add(10 * time.Second)
	if !l.Allow() {
		t.Error("request after backoff elapsed should pass")
	}

	l.RecordSuccess()
	if l.ConsecutiveErrors() != 0 {
		t.Errorf("consecutive errors = %d after success, want 0", l.ConsecutiveErrors())
	}
}

func TestLimiter_BackoffCapped(t *testing.T) {
	l, _ := newTestLimiter(Config{
		PerMinute:         100,
		PerHour:           1000,
		BackoffMultiplier: 10.0,
		MaxBackoff:        30 * time.Second,
	})
	var delay time.Duration
	for i := 0; i < 5; i++ {
		delay = l.RecordError()
	}
	if delay != 30*time.Second {
		t.Errorf("capped delay = %v, want 30s", delay)
	}
}

func TestLimiter_AutoTuneShrinksOnErrors(t *testing.T) {
	l, now := newTestLimiter(Config{
		PerMinute:  20,
		PerHour:    1000,
		AutoTuning: true,
	})

	// Prime the tuning clock, record a bad window, then cross the interval.
	l.Allow()
	for i := 0; i < 10; i++ {
		l.RecordError()
		// Clear backoff so subsequent checks are about tuning, not backoff.
		l.RecordSuccess()
		l.RecordError()
		l.RecordSuccess()
	}
	*now = now.Add(2 * time.Minute)
	l.Allow()

	if got := l.EffectivePerMinute(); got >= 20 {
		t.Errorf("effective per-minute = %d, want shrunk below 20", got)
	}
}

func TestLimiter_AutoTuneRecovers(t *testing.T) {
	l, now := newTestLimiter(Config{PerMinute: 20, PerHour: 1000, AutoTuning: true})
	l.mu.Lock()
	l.effectivePerMinute = 5
	l.mu.Unlock()

	l.Allow()
	for i := 0; i < 10; i++ {
		l.RecordSuccess()
	}
	*now = now.Add(2 * time.Minute)
	l.Allow()

	if got := l.EffectivePerMinute(); got <= 5 {
		t.Errorf("effective per-minute = %d, want recovery above 5", got)
	}
}
