package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

func seedStore(t *testing.T) *eventstore.Store {
	t.Helper()
	store := eventstore.New(filepath.Join(t.TempDir(), "events"))
	ctx := context.Background()
	typesCycle := []types.EventType{types.TypeMessage, types.TypeToolCall, types.TypeCommand}
	for day := 1; day <= 5; day++ {
		for i := 0; i < 3; i++ {
			r := &types.EventRecord{
				Timestamp: time.Date(2025, 10, day, 8+i, 0, 0, 0, time.UTC),
				SessionID: "s1",
				Type:      typesCycle[i],
			}
			require.NoError(t, store.Append(ctx, r))
		}
	}
	// One malformed line that must be skipped.
	f, err := os.OpenFile(filepath.Join(store.Dir(), "events-2025-10-01.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return store
}

func directCounts(t *testing.T, store *eventstore.Store) map[types.EventType]int64 {
	t.Helper()
	events, err := store.Read(context.Background(), eventstore.Filter{IncludeRedacted: true})
	require.NoError(t, err)
	counts := make(map[types.EventType]int64)
	for _, e := range events {
		counts[e.Type]++
	}
	return counts
}

func TestRebuild_MatchesDirectScan(t *testing.T) {
	ctx := context.Background()
	ix, _ := openTemp(t)
	store := seedStore(t)

	// Stale rows that no longer exist in the hot store.
	require.NoError(t, ix.BulkInsertEvents(ctx, []types.EventRecord{rec("evt_stale", "2024-01-01T00:00:00Z", "", types.TypeNote)}))

	result, err := ix.Rebuild(ctx, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Files)
	assert.Equal(t, 15, result.Events)
	assert.Equal(t, 1, result.Malformed)
	assert.Zero(t, result.Summaries)

	counts, err := ix.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, directCounts(t, store), counts)
	assert.Equal(t, counts, result.ByType)

	// Rebuilding again yields the same counts.
	_, err = ix.Rebuild(ctx, store, nil)
	require.NoError(t, err)
	again, err := ix.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, counts, again)
}

func TestRebuild_EmptyStore(t *testing.T) {
	ix, _ := openTemp(t)
	result, err := ix.Rebuild(context.Background(), eventstore.New(filepath.Join(t.TempDir(), "missing")), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Events)
}

func TestRebuild_ReloadsArchivedSummaries(t *testing.T) {
	ctx := context.Background()
	ix, _ := openTemp(t)
	store := seedStore(t)

	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	aug := period("2025-08")
	archived := strings.Join([]string{
		`{"id":"evt_old_1","timestamp":"2025-08-01T10:00:00Z","sessionId":"s9","type":"note"}`,
		`{"id":"evt_old_2","timestamp":"2025-08-01T11:00:00Z","sessionId":"s9","type":"note"}`,
	}, "\n") + "\n"
	require.NoError(t, archive.Put(ctx, summary.FilePath(aug, "events-2025-08-01.jsonl"), []byte(archived)))

	contents, err := eventstore.ParseBytes([]byte(archived), "x", nil)
	require.NoError(t, err)
	artifact := &summary.Artifact{
		PeriodSummary: *summary.Generate(aug, contents.Events, summary.Options{}),
		Archive: &summary.ArchiveInfo{
			RunID:       "run-1",
			CompactedAt: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
			Files:       []summary.ArchivedFile{{Name: "events-2025-08-01.jsonl", Bytes: int64(len(archived))}},
		},
	}
	data, err := artifact.Encode()
	require.NoError(t, err)
	require.NoError(t, archive.Put(ctx, summary.ObjectPath(aug), data))

	// Unrelated and corrupt objects.
	require.NoError(t, archive.Put(ctx, "2025/summary-2025-07.json", []byte("{oops")))
	require.NoError(t, archive.Put(ctx, "README", []byte("hi")))

	result, err := ix.Rebuild(ctx, store, archive)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summaries)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "summary-2025-07.json")

	summaries, err := ix.QuerySummaries(ctx, "2025-08")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].EventCount)

	periods, err := ix.LookupArchived(ctx, "evt_old_2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-08"}, periods)
}
