package compaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

const probePrefix = ".write-probe-"

// ArchiveResult describes one archived period.
type ArchiveResult struct {
	Period      types.Period
	SummaryPath string
	Files       []summary.ArchivedFile
	// NewlyArchived counts files copied by this call. Identical copies that
	// were already present are not counted.
	NewlyArchived int
	Bytes         int64
}

// Archiver copies day files into year-bucketed archive storage and writes
// the period's summary artifact once every copy is verified.
type Archiver struct {
	storage   storage.ObjectStorage
	validator *Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewArchiver creates an archiver writing to store.
func NewArchiver(store storage.ObjectStorage, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		storage:   store,
		validator: NewValidator(store),
		logger:    logger,
		now:       time.Now,
	}
}

// AlreadyArchived reports whether the period's summary artifact exists.
func (a *Archiver) AlreadyArchived(ctx context.Context, period types.Period) (bool, error) {
	ok, err := a.storage.Exists(ctx, summary.ObjectPath(period))
	if err != nil {
		return false, arkerrors.NewArchiveError(arkerrors.CodeDownloadFailed,
			"failed to check summary artifact", err).
			WithDetails(map[string]interface{}{"period": period.String()})
	}
	return ok, nil
}

// CheckWritable writes and removes a probe object.
func (a *Archiver) CheckWritable(ctx context.Context) error {
	probe := probePrefix + uuid.NewString()
	if err := a.storage.Put(ctx, probe, []byte("ok\n")); err != nil {
		return arkerrors.NewArchiveError(arkerrors.CodeArchiveUnwritable, "archive storage is not writable", err)
	}
	if err := a.storage.Delete(ctx, probe); err != nil {
		return arkerrors.NewArchiveError(arkerrors.CodeArchiveUnwritable, "failed to remove write probe", err)
	}
	return nil
}

// Archive copies files into the period's year directory, verifies every copy
// against its source and then writes the summary artifact. The artifact is
// written last: its presence means the period is complete.
func (a *Archiver) Archive(ctx context.Context, period types.Period, files []eventstore.DayFile, s *summary.PeriodSummary, runID string) (*ArchiveResult, error) {
	result := &ArchiveResult{
		Period:      period,
		SummaryPath: summary.ObjectPath(period),
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		copied, err := a.copyFile(ctx, period, f)
		if err != nil {
			return nil, err
		}
		if copied {
			result.NewlyArchived++
		}
	}

	vr, err := a.validator.Validate(ctx, period, files)
	if err != nil {
		return nil, arkerrors.NewArchiveError(arkerrors.CodeDownloadFailed, "failed to verify archived copies", err)
	}
	if !vr.Valid {
		// Sources stay in place; the next run redoes the period.
		return nil, arkerrors.New(arkerrors.ErrCategoryArchive, arkerrors.CodeCopyMismatch,
			"archived copies failed verification: "+strings.Join(vr.Errors, "; ")).
			WithDetails(map[string]interface{}{"period": period.String()})
	}
	result.Files = vr.Files
	for _, f := range vr.Files {
		result.Bytes += f.Bytes
	}

	artifact := &summary.Artifact{
		PeriodSummary: *s,
		Archive: &summary.ArchiveInfo{
			RunID:       runID,
			CompactedAt: a.now().UTC(),
			Files:       vr.Files,
		},
	}
	data, err := artifact.Encode()
	if err != nil {
		return nil, arkerrors.NewInternalError("failed to encode summary artifact", err)
	}
	if err := a.storage.Put(ctx, result.SummaryPath, data); err != nil {
		return nil, arkerrors.NewArchiveError(arkerrors.CodeUploadFailed, "failed to write summary artifact", err).
			WithDetails(map[string]interface{}{"period": period.String()})
	}

	a.logger.Debug("period archived",
		zap.String("period", period.String()),
		zap.Int("files", len(files)),
		zap.Int("newly_archived", result.NewlyArchived),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

// copyFile uploads f unless an identical copy is already archived.
func (a *Archiver) copyFile(ctx context.Context, period types.Period, f eventstore.DayFile) (bool, error) {
	dest := summary.FilePath(period, f.Name)

	source, err := os.ReadFile(f.Path)
	if err != nil {
		return false, arkerrors.NewCompactionError(arkerrors.CodeSourceMissing, "failed to read hot file", err).
			WithDetails(map[string]interface{}{"file": f.Name})
	}

	existing, err := a.storage.Get(ctx, dest)
	switch {
	case err == nil && bytes.Equal(existing, source):
		return false, nil
	case err == nil:
		a.logger.Warn("archived copy differs from source, re-copying",
			zap.String("period", period.String()),
			zap.String("file", f.Name))
	case !errors.Is(err, storage.ErrObjectNotFound):
		return false, arkerrors.NewArchiveError(arkerrors.CodeDownloadFailed, "failed to read archived copy", err).
			WithDetails(map[string]interface{}{"file": f.Name})
	}

	if err := a.storage.Put(ctx, dest, source); err != nil {
		return false, arkerrors.NewArchiveError(arkerrors.CodeUploadFailed, "failed to copy day file", err).
			WithDetails(map[string]interface{}{"file": f.Name})
	}
	return true, nil
}

// RemoveSourceFiles deletes hot files after archival. A file that cannot be
// removed yields a warning and does not stop the others.
func (a *Archiver) RemoveSourceFiles(files []eventstore.DayFile) (int, []string) {
	removed := 0
	var warnings []string
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("failed to remove %s: %v", f.Name, err))
			a.logger.Warn("failed to remove hot file", zap.String("file", f.Name), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, warnings
}
