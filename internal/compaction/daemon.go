package compaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DaemonConfig holds configuration for the compaction daemon.
type DaemonConfig struct {
	// Options are passed to every run.
	Options Options

	// CheckInterval is how often the daemon runs compaction (default: 1h).
	CheckInterval time.Duration

	// Backoff stretches the interval while runs keep failing.
	Backoff BackoffConfig
}

// DefaultDaemonConfig returns the default daemon configuration.
func DefaultDaemonConfig(opts Options) DaemonConfig {
	return DaemonConfig{
		Options:       opts,
		CheckInterval: time.Hour,
		Backoff:       DefaultBackoffConfig(),
	}
}

// Daemon runs compaction periodically in the background.
type Daemon struct {
	config    DaemonConfig
	compactor *Compactor
	backoff   *RunBackoff
	logger    *zap.Logger

	// runMu serializes runs so a manual RunOnce never overlaps a tick.
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    *Report
}

// NewDaemon creates a new compaction daemon.
func NewDaemon(config DaemonConfig, compactor *Compactor, logger *zap.Logger) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		config:    config,
		compactor: compactor,
		backoff:   NewRunBackoff(config.Backoff),
		logger:    logger,
	}
}

// Start begins the compaction loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("compaction: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the compaction daemon, waiting for an in-flight run.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.running = false
	d.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running reports whether the loop is active.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// run is the main compaction loop.
func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.RunOnce(ctx)

	for {
		interval := d.backoff.Interval(d.config.CheckInterval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single compaction run and returns its report.
func (d *Daemon) RunOnce(ctx context.Context) *Report {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	report := d.compactor.Run(ctx, d.config.Options)
	d.backoff.Record(succeeded(report))

	if !report.OK {
		d.logger.Error("compaction run failed",
			zap.String("run_id", report.RunID),
			zap.String("error", report.Error),
			zap.Int("interval_multiplier", d.backoff.Multiplier()))
	}

	d.mu.Lock()
	d.last = report
	d.mu.Unlock()
	return report
}

// succeeded reports a run's outcome for the backoff. A period that failed
// with a non-retryable error fails identically on every run and does not
// count against the interval.
func succeeded(r *Report) bool {
	if !r.OK {
		return false
	}
	for _, p := range r.Periods {
		if p.Status == PeriodFailed && p.Retryable {
			return false
		}
	}
	return true
}

// LastReport returns the report of the most recent run, or nil.
func (d *Daemon) LastReport() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
