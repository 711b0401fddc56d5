package index

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/pkg/types"
)

// DayReader loads one day file of the hot store.
type DayReader interface {
	ReadFile(name string) (*eventstore.FileContents, error)
}

// Events answers f from the indexed rows, then loads the matching records
// from only the day files that hold them. Rows whose record is no longer in
// the hot store are dropped.
func (ix *Index) Events(ctx context.Context, src DayReader, f eventstore.Filter) ([]types.EventRecord, error) {
	rows, err := ix.QueryEvents(ctx, EventQuery{
		Types:           f.Types,
		SessionID:       f.SessionID,
		Since:           f.Since,
		Until:           f.Until,
		Limit:           f.Limit,
		IncludeRedacted: f.IncludeRedacted,
	})
	if err != nil {
		return nil, err
	}

	days := make(map[string]map[string]types.EventRecord)
	out := make([]types.EventRecord, 0, len(rows))
	stale := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := eventstore.FileName(row.Timestamp)
		byID, ok := days[name]
		if !ok {
			if byID, err = readDay(src, name); err != nil {
				return nil, err
			}
			days[name] = byID
		}
		rec, ok := byID[row.ID]
		if !ok {
			stale++
			continue
		}
		out = append(out, rec)
	}

	if stale > 0 {
		ix.logger.Debug("indexed events missing from hot store",
			zap.Int("rows", stale),
			zap.Int("files", len(days)))
	}
	types.SortEvents(out)
	return out, nil
}

func readDay(src DayReader, name string) (map[string]types.EventRecord, error) {
	contents, err := src.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]types.EventRecord{}, nil
	}
	if err != nil {
		return nil, arkerrors.NewStoreError(arkerrors.CodeReadFailed, "failed to read day file", err).
			WithDetails(map[string]interface{}{"file": name})
	}
	byID := make(map[string]types.EventRecord, len(contents.Events))
	for _, e := range contents.Events {
		byID[e.ID] = e
	}
	return byID, nil
}

// ReadEvents serves f through the index at path. When no index exists yet, or
// it cannot be opened or queried, the hot store is scanned instead.
func ReadEvents(ctx context.Context, path string, store *eventstore.Store, f eventstore.Filter, logger *zap.Logger) ([]types.EventRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debug("no index, scanning hot store", zap.String("path", path))
		return store.Read(ctx, f)
	}

	ix, err := Open(ctx, path, WithLogger(logger))
	if err == nil {
		defer ix.Close()
		var events []types.EventRecord
		if events, err = ix.Events(ctx, store, f); err == nil {
			return events, nil
		}
	}
	if arkerrors.GetCategory(err) != arkerrors.ErrCategoryIndex {
		return nil, err
	}

	logger.Warn("index unavailable, scanning hot store", zap.Error(err))
	return store.Read(ctx, f)
}
