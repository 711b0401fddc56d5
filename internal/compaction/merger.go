package compaction

import (
	"context"
	"time"

	"github.com/arkilian/eventarchive/internal/bloom"
	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/pkg/types"
)

// MergeResult is the combined content of a candidate's day files.
type MergeResult struct {
	// Events are sorted by (timestamp, id)
	Events    []types.EventRecord
	Malformed int
	// IDs holds every event id for archived-id lookups
	IDs *bloom.Filter
}

// Merge reads every day file of c into one ordered event set. Every
// parseable line in the period's files is kept, so the archived event count
// equals what the hot store held.
func Merge(ctx context.Context, source DayFileSource, c Candidate) (*MergeResult, error) {
	result := &MergeResult{}

	for _, f := range c.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := source.ReadFile(f.Name)
		if err != nil {
			return nil, arkerrors.NewStoreError(arkerrors.CodeReadFailed, "failed to read day file", err).
				WithDetails(map[string]interface{}{"file": f.Name, "period": c.Period.String()})
		}
		result.Events = append(result.Events, contents.Events...)
		result.Malformed += contents.Malformed
	}

	types.SortEvents(result.Events)

	ids := make([]string, len(result.Events))
	for i, e := range result.Events {
		ids[i] = e.ID
	}
	result.IDs = bloom.ForIDs(ids)
	return result, nil
}

// Latest returns the newest merged event time. A candidate with no parseable
// events counts as ending at the close of its last file's calendar day.
func (m *MergeResult) Latest(c Candidate) time.Time {
	if n := len(m.Events); n > 0 {
		return m.Events[n-1].Timestamp
	}
	if len(c.Files) == 0 {
		return c.Period.End()
	}
	return c.Files[len(c.Files)-1].Date.AddDate(0, 0, 1)
}
