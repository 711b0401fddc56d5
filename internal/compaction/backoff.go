package compaction

import (
	"sync"
	"time"
)

// RunBackoff tracks recent run outcomes and stretches the daemon's check
// interval while runs keep failing.
//
// When the failure rate in the sliding window exceeds the threshold the
// multiplier doubles, up to MaxMultiplier. Once the rate drops below half the
// threshold it halves again, never below 1.
type RunBackoff struct {
	threshold     float64
	window        time.Duration
	maxMultiplier int

	mu         sync.Mutex
	attempts   []attemptRecord
	multiplier int
	now        func() time.Time
}

type attemptRecord struct {
	at      time.Time
	success bool
}

// BackoffConfig holds configuration for RunBackoff.
type BackoffConfig struct {
	// FailureThreshold is the failure rate above which the interval grows (default: 0.5).
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`

	// WindowDuration is the sliding window of remembered runs (default: 6h).
	WindowDuration time.Duration `json:"window_duration" yaml:"window_duration"`

	// MaxMultiplier caps how far the interval stretches (default: 16).
	MaxMultiplier int `json:"max_multiplier" yaml:"max_multiplier"`
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		FailureThreshold: 0.5,
		WindowDuration:   6 * time.Hour,
		MaxMultiplier:    16,
	}
}

// NewRunBackoff creates a backoff tracker.
func NewRunBackoff(cfg BackoffConfig) *RunBackoff {
	def := DefaultBackoffConfig()
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold >= 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = def.WindowDuration
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = def.MaxMultiplier
	}
	return &RunBackoff{
		threshold:     cfg.FailureThreshold,
		window:        cfg.WindowDuration,
		maxMultiplier: cfg.MaxMultiplier,
		multiplier:    1,
		now:           time.Now,
	}
}

// Record remembers the outcome of one run and adjusts the multiplier.
func (b *RunBackoff) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = append(b.attempts, attemptRecord{at: b.now(), success: success})
	rate := b.failureRateLocked()

	switch {
	case rate > b.threshold:
		b.multiplier *= 2
		if b.multiplier > b.maxMultiplier {
			b.multiplier = b.maxMultiplier
		}
	case rate < b.threshold/2:
		b.multiplier /= 2
		if b.multiplier < 1 {
			b.multiplier = 1
		}
	}
}

// FailureRate returns the failure rate within the sliding window.
func (b *RunBackoff) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureRateLocked()
}

// failureRateLocked computes the failure rate. Caller must hold b.mu.
func (b *RunBackoff) failureRateLocked() float64 {
	b.pruneWindowLocked()

	if len(b.attempts) == 0 {
		return 0
	}
	failures := 0
	for _, a := range b.attempts {
		if !a.success {
			failures++
		}
	}
	return float64(failures) / float64(len(b.attempts))
}

// pruneWindowLocked drops records older than the window. Caller must hold b.mu.
func (b *RunBackoff) pruneWindowLocked() {
	cutoff := b.now().Add(-b.window)
	i := 0
	for i < len(b.attempts) && b.attempts[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.attempts = b.attempts[i:]
	}
}

// Multiplier returns the current interval multiplier.
func (b *RunBackoff) Multiplier() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.multiplier
}

// Interval scales base by the current multiplier.
func (b *RunBackoff) Interval(base time.Duration) time.Duration {
	return base * time.Duration(b.Multiplier())
}
