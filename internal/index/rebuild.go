package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkilian/eventarchive/internal/bloom"
	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

// EventSource is the hot store as seen by Rebuild.
type EventSource interface {
	ListDayFiles() ([]eventstore.DayFile, error)
	ReadFile(name string) (*eventstore.FileContents, error)
}

// RebuildResult describes what a rebuild replayed.
type RebuildResult struct {
	Files     int      `json:"files"`
	Events    int      `json:"events"`
	Malformed int      `json:"malformed"`
	Summaries int      `json:"summaries"`
	// ByType counts the indexed events per type after the rebuild
	ByType   map[types.EventType]int64 `json:"byType"`
	Warnings []string                  `json:"warnings,omitempty"`
}

type loadedSummary struct {
	summary *summary.PeriodSummary
	ids     *bloom.Filter
}

// Rebuild wipes the index and replays every hot file from src. When archive
// is non-nil, summary artifacts found there are reloaded too, with their id
// filters rebuilt from the archived day files. Replacement happens in one
// transaction, so a failed rebuild leaves the previous index intact.
func (ix *Index) Rebuild(ctx context.Context, src EventSource, archive storage.ObjectStorage) (*RebuildResult, error) {
	result := &RebuildResult{}

	files, err := src.ListDayFiles()
	if err != nil {
		return nil, arkerrors.NewStoreError(arkerrors.CodeReadFailed, "failed to list hot files", err)
	}

	var events []types.EventRecord
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := src.ReadFile(f.Name)
		if err != nil {
			return nil, arkerrors.NewStoreError(arkerrors.CodeReadFailed, fmt.Sprintf("failed to read %s", f.Name), err)
		}
		result.Files++
		result.Malformed += contents.Malformed
		events = append(events, contents.Events...)
	}
	result.Events = len(events)

	var summaries []loadedSummary
	if archive != nil {
		summaries, result.Warnings, err = ix.loadArchivedSummaries(ctx, archive)
		if err != nil {
			return nil, err
		}
	}
	result.Summaries = len(summaries)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to begin rebuild", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM events`, `DELETE FROM summaries`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to clear index", err)
		}
	}
	if err := insertEventsTx(ctx, tx, events); err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if err := upsertSummary(ctx, tx, s.summary, s.ids); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, arkerrors.NewIndexError(arkerrors.CodeIndexWriteFailed, "failed to commit rebuild", err)
	}

	if result.ByType, err = ix.CountByType(ctx); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to count events by type: %v", err))
	}

	ix.logger.Info("index rebuilt",
		zap.Int("files", result.Files),
		zap.Int("events", result.Events),
		zap.Int("malformed", result.Malformed),
		zap.Int("summaries", result.Summaries),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// loadArchivedSummaries reads every summary artifact from archive. Artifacts
// that cannot be read or decoded become warnings.
func (ix *Index) loadArchivedSummaries(ctx context.Context, archive storage.ObjectStorage) ([]loadedSummary, []string, error) {
	objects, err := archive.ListObjects(ctx, "")
	if err != nil {
		return nil, nil, arkerrors.NewArchiveError(arkerrors.CodeDownloadFailed, "failed to list archive", err)
	}

	var paths []string
	for _, p := range objects {
		if _, ok := summary.ParseObjectPath(p); ok {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, nil, nil
	}

	reader := storage.NewBatchReader(archive, 4)
	batch, err := reader.Read(ctx, paths)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	var out []loadedSummary
	for _, p := range paths {
		if err, failed := batch.Errors[p]; failed {
			warnings = append(warnings, fmt.Sprintf("failed to read %s: %v", p, err))
			continue
		}
		artifact, err := summary.DecodeArtifact(batch.Objects[p])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to decode %s: %v", p, err))
			continue
		}

		ids, idWarnings := archivedIDs(ctx, reader, artifact, ix.logger)
		warnings = append(warnings, idWarnings...)
		s := artifact.PeriodSummary
		out = append(out, loadedSummary{summary: &s, ids: ids})
	}
	return out, warnings, nil
}

// archivedIDs rebuilds the id filter for an artifact from its archived day
// files. Returns nil when the artifact lists no files.
func archivedIDs(ctx context.Context, reader *storage.BatchReader, a *summary.Artifact, logger *zap.Logger) (*bloom.Filter, []string) {
	if a.Archive == nil || len(a.Archive.Files) == 0 {
		return nil, nil
	}
	period, err := types.ParsePeriod(a.Period)
	if err != nil {
		return nil, []string{err.Error()}
	}

	paths := make([]string, len(a.Archive.Files))
	for i, f := range a.Archive.Files {
		paths[i] = summary.FilePath(period, f.Name)
	}
	batch, err := reader.Read(ctx, paths)
	if err != nil {
		return nil, []string{err.Error()}
	}

	var warnings []string
	var ids []string
	for _, p := range paths {
		if err, failed := batch.Errors[p]; failed {
			warnings = append(warnings, fmt.Sprintf("failed to read %s: %v", p, err))
			continue
		}
		contents, err := eventstore.ParseBytes(batch.Objects[p], p, logger)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to parse %s: %v", p, err))
			continue
		}
		for _, e := range contents.Events {
			ids = append(ids, e.ID)
		}
	}
	return bloom.ForIDs(ids), warnings
}
