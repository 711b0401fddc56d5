// Package compaction rolls closed months of the hot event store into the
// archive: the Scanner finds eligible periods, the Archiver copies and
// verifies their day files and writes the summary artifact, and the
// Compactor sequences both into one bounded, reportable run.
package compaction

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/pkg/types"
)

// DayFileSource is the part of the event store the scanner reads.
type DayFileSource interface {
	ListDayFiles() ([]eventstore.DayFile, error)
	ReadFile(name string) (*eventstore.FileContents, error)
}

// Candidate is an eligible period and the hot files that hold it.
type Candidate struct {
	Period types.Period
	Files  []eventstore.DayFile
}

// Names returns the base names of the candidate's files.
func (c Candidate) Names() []string {
	names := make([]string, len(c.Files))
	for i, f := range c.Files {
		names[i] = f.Name
	}
	return names
}

// Scanner identifies periods eligible for compaction.
type Scanner struct {
	source DayFileSource
	logger *zap.Logger
}

// NewScanner creates a scanner over source.
func NewScanner(source DayFileSource, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{source: source, logger: logger}
}

// Closed returns the periods whose month has ended by now and began before
// cutoff, oldest first. No file is read, so a period returned here may still
// hold events inside the retention window. A missing or empty hot store
// yields an empty result.
func (s *Scanner) Closed(ctx context.Context, now, cutoff time.Time) ([]Candidate, error) {
	files, err := s.source.ListDayFiles()
	if err != nil {
		return nil, err
	}

	groups := make(map[types.Period][]eventstore.DayFile)
	for _, f := range files {
		p := f.Period()
		groups[p] = append(groups[p], f)
	}

	periods := make([]types.Period, 0, len(groups))
	for p := range groups {
		// Still open, or entirely inside the retention window.
		if now.Before(p.End()) || !p.Start().Before(cutoff) {
			continue
		}
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Before(periods[j])
	})

	candidates := make([]Candidate, 0, len(periods))
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Period: p, Files: groups[p]})
	}
	return candidates, nil
}

// Eligible returns the closed periods whose every event predates cutoff,
// oldest first. A period whose files cannot be read is logged and left out;
// the other periods are still returned.
func (s *Scanner) Eligible(ctx context.Context, now, cutoff time.Time) ([]Candidate, error) {
	closed, err := s.Closed(ctx, now, cutoff)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, c := range closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		merged, err := Merge(ctx, s.source, c)
		if err != nil {
			s.logger.Warn("failed to read period",
				zap.String("period", c.Period.String()),
				zap.Error(err))
			continue
		}
		if !s.ready(c, merged, cutoff) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// ready reports whether the newest event of a merged candidate predates cutoff.
func (s *Scanner) ready(c Candidate, merged *MergeResult, cutoff time.Time) bool {
	latest := merged.Latest(c)
	if latest.Before(cutoff) {
		return true
	}
	s.logger.Debug("period not yet eligible",
		zap.String("period", c.Period.String()),
		zap.Time("latest_event", latest),
		zap.Time("cutoff", cutoff))
	return false
}
