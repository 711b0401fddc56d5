package compaction

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/index"
	"github.com/arkilian/eventarchive/internal/observability"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

const (
	// DefaultCutoffDays keeps roughly the last quarter in the hot store.
	DefaultCutoffDays = 90

	// DefaultMaxPeriodsPerRun bounds how much backlog one run drains.
	DefaultMaxPeriodsPerRun = 3

	// DefaultIndexFile is the index file name, created beside the hot store.
	DefaultIndexFile = "index.db"
)

// Options configures one compaction run.
type Options struct {
	// EventsDir is the hot store directory
	EventsDir string
	// ArchiveDir is the local archive root. Unused when the Compactor was
	// built with its own archive storage.
	ArchiveDir string
	// IndexPath defaults to DefaultIndexFile beside EventsDir
	IndexPath string
	// CutoffDays: a period is eligible once all its events are older than this
	CutoffDays int
	// MaxPeriodsPerRun bounds the periods archived by one run
	MaxPeriodsPerRun int
	// TopN bounds each summary pattern list (default: summary.DefaultTopN)
	TopN int
	// SweepArchived removes verified leftover hot files of already-archived
	// periods instead of only warning about them
	SweepArchived bool
}

// withDefaults fills unset options. A zero CutoffDays is meaningful, so only
// negative values fall back to the default.
func (o Options) withDefaults() Options {
	if o.CutoffDays < 0 {
		o.CutoffDays = DefaultCutoffDays
	}
	if o.MaxPeriodsPerRun <= 0 {
		o.MaxPeriodsPerRun = DefaultMaxPeriodsPerRun
	}
	if o.IndexPath == "" && o.EventsDir != "" {
		o.IndexPath = filepath.Join(filepath.Dir(filepath.Clean(o.EventsDir)), DefaultIndexFile)
	}
	return o
}

// DefaultOptions returns options with the default cutoff and throttle.
func DefaultOptions(eventsDir, archiveDir string) Options {
	return Options{
		EventsDir:        eventsDir,
		ArchiveDir:       archiveDir,
		CutoffDays:       DefaultCutoffDays,
		MaxPeriodsPerRun: DefaultMaxPeriodsPerRun,
	}
}

// PeriodStatus is the outcome of one period in a run.
type PeriodStatus string

const (
	PeriodArchived PeriodStatus = "archived"
	PeriodSkipped  PeriodStatus = "skipped"
	PeriodFailed   PeriodStatus = "failed"
)

// PeriodReport describes one period touched by a run.
type PeriodReport struct {
	Period string       `json:"period"`
	Events int          `json:"events"`
	Files  int          `json:"files"`
	Status PeriodStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
	// Retryable marks a failure that may clear on a later run
	Retryable bool `json:"retryable,omitempty"`
}

// Report is the outcome of one compaction run.
type Report struct {
	OK               bool           `json:"ok"`
	RunID            string         `json:"runId"`
	PeriodsProcessed int            `json:"periodsProcessed"`
	PeriodsSkipped   int            `json:"periodsSkipped"`
	EventsArchived   int            `json:"eventsArchived"`
	SummariesCreated int            `json:"summariesCreated"`
	FilesArchived    int            `json:"filesArchived"`
	FilesRemoved     int            `json:"filesRemoved"`
	Warnings         []string       `json:"warnings"`
	Periods          []PeriodReport `json:"periods"`
	Error            string         `json:"error,omitempty"`
	// Err is the structured cause behind Error
	Err error `json:"-"`
}

func newReport() *Report {
	return &Report{
		OK:       true,
		RunID:    uuid.NewString(),
		Warnings: []string{},
		Periods:  []PeriodReport{},
	}
}

func (r *Report) fail(err error) *Report {
	r.OK = false
	r.Err = err
	r.Error = err.Error()
	return r
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Failed reports whether any period of the run failed.
func (r *Report) Failed() bool {
	for _, p := range r.Periods {
		if p.Status == PeriodFailed {
			return true
		}
	}
	return false
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Compactor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records each run on m.
func WithMetrics(m *observability.CompactionMetrics) Option {
	return func(c *Compactor) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for the cutoff.
func WithClock(now func() time.Time) Option {
	return func(c *Compactor) {
		if now != nil {
			c.now = now
		}
	}
}

// Compactor sequences scanning, summarizing, archiving, hot file removal and
// index maintenance into one bounded run. Periods are processed one at a
// time, oldest first; each is an independent unit of work.
type Compactor struct {
	archive storage.ObjectStorage
	logger  *zap.Logger
	metrics *observability.CompactionMetrics
	now     func() time.Time
}

// NewCompactor creates a compactor writing to archive. With a nil archive
// each run opens local storage at Options.ArchiveDir.
func NewCompactor(archive storage.ObjectStorage, opts ...Option) *Compactor {
	c := &Compactor{
		archive: archive,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompactEvents runs one compaction against a local archive directory.
func CompactEvents(ctx context.Context, opts Options) *Report {
	return NewCompactor(nil).Run(ctx, opts)
}

// Run performs one compaction run. It never panics or returns an error:
// failures are reported through Report.OK, Report.Error and Report.Warnings.
func (c *Compactor) Run(ctx context.Context, opts Options) *Report {
	start := time.Now()
	report := newReport()
	defer func() {
		c.observe(report, time.Since(start))
	}()

	opts = opts.withDefaults()
	if opts.EventsDir == "" {
		return report.fail(arkerrors.NewValidationError(arkerrors.CodeInvalidConfig, "events directory is required"))
	}

	logger := c.logger.With(zap.String("run_id", report.RunID))
	now := c.now().UTC()
	cutoff := now.AddDate(0, 0, -opts.CutoffDays)

	store := eventstore.New(opts.EventsDir, eventstore.WithLogger(logger))
	scanner := NewScanner(store, logger)
	candidates, err := scanner.Closed(ctx, now, cutoff)
	if err != nil {
		return report.fail(arkerrors.NewCompactionError(arkerrors.CodeScanFailed, "failed to scan hot store", err))
	}
	if len(candidates) == 0 {
		logger.Debug("nothing eligible for compaction", zap.Time("cutoff", cutoff))
		return report
	}

	run := &periodRun{
		opts:      opts,
		report:    report,
		compactor: c,
		logger:    logger,
	}
	defer run.close()

	// Each period's files are read once, and only until the throttle is
	// reached; an unreadable period fails alone.
	attempted := 0
	for _, cand := range candidates {
		if attempted >= opts.MaxPeriodsPerRun {
			break
		}
		if err := ctx.Err(); err != nil {
			return report.fail(arkerrors.NewCompactionError(arkerrors.CodeUnexpected, "compaction cancelled", err))
		}

		merged, err := Merge(ctx, store, cand)
		if err != nil {
			attempted++
			run.periodFailed(cand, 0, err)
			continue
		}
		if !scanner.ready(cand, merged, cutoff) {
			continue
		}

		archiver, err := run.archive()
		if err != nil {
			return report.fail(err)
		}
		archived, err := archiver.AlreadyArchived(ctx, cand.Period)
		if err != nil {
			attempted++
			run.periodFailed(cand, len(merged.Events), err)
			continue
		}
		if archived {
			run.skip(ctx, cand)
			continue
		}

		attempted++
		if fatal := run.process(ctx, cand, merged); fatal != nil {
			return report.fail(fatal)
		}
	}

	logger.Info("compaction run complete",
		zap.Int("periods_processed", report.PeriodsProcessed),
		zap.Int("periods_skipped", report.PeriodsSkipped),
		zap.Int("events_archived", report.EventsArchived),
		zap.Int("warnings", len(report.Warnings)))
	return report
}

func (c *Compactor) archiveStorage(opts Options) (storage.ObjectStorage, error) {
	if c.archive != nil {
		return c.archive, nil
	}
	if opts.ArchiveDir == "" {
		return nil, arkerrors.NewValidationError(arkerrors.CodeInvalidConfig, "archive directory is required")
	}
	local, err := storage.NewLocalStorage(opts.ArchiveDir)
	if err != nil {
		return nil, arkerrors.NewArchiveError(arkerrors.CodeArchiveUnwritable, "failed to open archive directory", err)
	}
	return local, nil
}

func (c *Compactor) observe(r *Report, d time.Duration) {
	result := observability.RunResultOK
	switch {
	case !r.OK:
		result = observability.RunResultFailed
	case r.Failed():
		result = observability.RunResultPartial
	}
	c.metrics.ObserveRun(observability.RunStats{
		Result:           result,
		PeriodsProcessed: r.PeriodsProcessed,
		PeriodsSkipped:   r.PeriodsSkipped,
		EventsArchived:   r.EventsArchived,
		FilesArchived:    r.FilesArchived,
		Warnings:         len(r.Warnings),
		Duration:         d,
	})
}

// periodRun holds the per-run state shared by the periods of one run. The
// archive probe and the index are opened lazily, at most once per run.
type periodRun struct {
	opts      Options
	report    *Report
	compactor *Compactor
	logger    *zap.Logger

	archiver *Archiver
	probed   bool
	index    *index.Index
}

// archive opens the archive the first time an eligible period needs it.
func (r *periodRun) archive() (*Archiver, error) {
	if r.archiver != nil {
		return r.archiver, nil
	}
	archive, err := r.compactor.archiveStorage(r.opts)
	if err != nil {
		return nil, err
	}
	r.archiver = NewArchiver(archive, r.logger)
	r.archiver.now = r.compactor.now
	return r.archiver, nil
}

func (r *periodRun) close() {
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			r.logger.Warn("failed to close index", zap.Error(err))
		}
	}
}

func (r *periodRun) skip(ctx context.Context, cand Candidate) {
	r.report.PeriodsSkipped++
	r.report.Periods = append(r.report.Periods, PeriodReport{
		Period: cand.Period.String(),
		Files:  len(cand.Files),
		Status: PeriodSkipped,
	})

	if !r.opts.SweepArchived {
		r.report.warn("period %s already archived but %d hot files remain", cand.Period, len(cand.Files))
		return
	}

	removed, warnings := r.archiver.SweepArchived(ctx, cand.Period, cand.Files)
	r.report.FilesRemoved += removed
	r.report.Warnings = append(r.report.Warnings, warnings...)
}

func (r *periodRun) periodFailed(cand Candidate, events int, err error) {
	r.report.Periods = append(r.report.Periods, PeriodReport{
		Period: cand.Period.String(),
		Events: events,
		Files:  len(cand.Files),
		Status:    PeriodFailed,
		Error:     err.Error(),
		Retryable: arkerrors.IsRetryable(err),
	})
	r.report.warn("period %s: %v", cand.Period, err)
	r.logger.Warn("period compaction failed",
		zap.String("period", cand.Period.String()),
		zap.Error(err))
}

// process archives one period. Only run-fatal failures are returned; a
// failure confined to the period is recorded as a warning.
func (r *periodRun) process(ctx context.Context, cand Candidate, merged *MergeResult) error {
	if !r.probed {
		if err := r.archiver.CheckWritable(ctx); err != nil {
			return err
		}
		r.probed = true
	}

	if merged.Malformed > 0 {
		r.logger.Debug("skipped malformed lines",
			zap.String("period", cand.Period.String()),
			zap.Int("malformed", merged.Malformed))
	}

	s := summary.Generate(cand.Period, merged.Events, summary.Options{TopN: r.opts.TopN})

	result, err := r.archiver.Archive(ctx, cand.Period, cand.Files, s, r.report.RunID)
	if err != nil {
		r.periodFailed(cand, len(merged.Events), err)
		return nil
	}

	removed, warnings := r.archiver.RemoveSourceFiles(cand.Files)
	r.report.Warnings = append(r.report.Warnings, warnings...)

	r.report.PeriodsProcessed++
	r.report.SummariesCreated++
	r.report.EventsArchived += len(merged.Events)
	r.report.FilesArchived += result.NewlyArchived
	r.report.FilesRemoved += removed
	r.report.Periods = append(r.report.Periods, PeriodReport{
		Period: cand.Period.String(),
		Events: len(merged.Events),
		Files:  len(cand.Files),
		Status: PeriodArchived,
	})

	if err := r.updateIndex(ctx, cand.Period, s, merged); err != nil {
		return err
	}

	r.logger.Info("period compacted",
		zap.String("period", cand.Period.String()),
		zap.Int("events", len(merged.Events)),
		zap.Int("files", len(cand.Files)),
		zap.Int("newly_archived", result.NewlyArchived))
	return nil
}

func (r *periodRun) updateIndex(ctx context.Context, period types.Period, s *summary.PeriodSummary, merged *MergeResult) error {
	if r.index == nil {
		ix, err := index.Open(ctx, r.opts.IndexPath, index.WithLogger(r.logger))
		if err != nil {
			return err
		}
		r.index = ix
	}

	removed, err := r.index.ReplacePeriod(ctx, period, s, merged.IDs)
	if err != nil {
		return err
	}
	r.logger.Debug("index updated",
		zap.String("period", period.String()),
		zap.Int64("event_rows_removed", removed))
	return nil
}
