package control

import (
	"fmt"
	"time"
)

// Policy defines per-update limits and session restart behavior.
type Policy struct {
	// HandleTimeout bounds the handling of a single update.
	HandleTimeout time.Duration
	// RestartDelay is the base delay before a new session; it doubles
	// with every consecutive crash up to MaxBackoffFactor.
	RestartDelay time.Duration
	// StableRun is how long a session must live to count as healthy.
	StableRun time.Duration
	// CrashWindow and CrashThreshold define a crash loop.
	CrashWindow    time.Duration
	CrashThreshold int
	// CircuitCooldown is how long the supervisor pauses after a crash loop.
	CircuitCooldown time.Duration
}

// MaxBackoffFactor caps RetryBackoffSeconds.
const MaxBackoffFactor = 30

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitHandleTime LimitType = "handle_timeout_seconds"
)

// LimitError indicates a limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// CheckHandleTime validates the time spent on one update against policy.
func CheckHandleTime(p Policy, startedAt time.Time, now time.Time) error {
	limit := p.HandleTimeout
	if limit <= 0 {
		return nil
	}
	elapsed := now.Sub(startedAt)
	if elapsed > limit {
		return &LimitError{
			Type:      LimitHandleTime,
			Value:     int64(elapsed.Seconds()),
			Threshold: int64(limit.Seconds()),
		}
	}
	return nil
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return MaxBackoffFactor
	}
	seconds := 1 << (attempt - 1)
	if seconds > MaxBackoffFactor {
		return MaxBackoffFactor
	}
	return seconds
}

// RestartBackoff returns the delay before the next session after the given
// number of consecutive crashes. Zero crashes means a plain RestartDelay.
func (p Policy) RestartBackoff(consecutiveCrashes int) time.Duration {
	factor := RetryBackoffSeconds(consecutiveCrashes)
	if factor < 1 {
		factor = 1
	}
	return p.RestartDelay * time.Duration(factor)
}

// CrashWindow counts crashes within a sliding time window.
type CrashWindow struct {
	Window    time.Duration
	Threshold int

	times []time.Time
}

// NewCrashWindow creates a CrashWindow.
func NewCrashWindow(window time.Duration, threshold int) *CrashWindow {
	if threshold <= 0 {
		threshold = 3
	}
	return &CrashWindow{Window: window, Threshold: threshold}
}

// Record adds a crash at now and reports whether the crashes still inside
// the window reach the threshold. Reaching it clears the window.
func (w *CrashWindow) Record(now time.Time) bool {
	w.times = append(w.times, now)
	filtered := w.times[:0]
	for _, t := range w.times {
		if now.Sub(t) <= w.Window {
			filtered = append(filtered, t)
		}
	}
	w.times = filtered

	if len(w.times) >= w.Threshold {
		w.times = nil
		return true
	}
	return false
}

// Count is the number of crashes currently inside the window.
func (w *CrashWindow) Count() int { return len(w.times) }

// Reset forgets every crash.
func (w *CrashWindow) Reset() { w.times = nil }
