package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
	"github.com/arkilian/eventarchive/internal/eventstore"
	"github.com/arkilian/eventarchive/internal/index"
	"github.com/arkilian/eventarchive/internal/observability"
	"github.com/arkilian/eventarchive/internal/storage"
	"github.com/arkilian/eventarchive/internal/summary"
	"github.com/arkilian/eventarchive/pkg/types"
)

var testNow = time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

func newLocalCompactor(t *testing.T, e *env) *Compactor {
	t.Helper()
	archive, err := storage.NewLocalStorage(e.archiveDir)
	require.NoError(t, err)
	return NewCompactor(archive, WithClock(fixedClock(testNow)))
}

func TestCompactor_SinglePeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seeded := e.seedMonth(t, 2025, time.August, 2)
	require.Equal(t, 62, seeded)

	report := newLocalCompactor(t, e).Run(ctx, e.options(0, 3))

	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsProcessed)
	assert.Equal(t, 0, report.PeriodsSkipped)
	assert.Equal(t, 62, report.EventsArchived)
	assert.Equal(t, 1, report.SummariesCreated)
	assert.Equal(t, 31, report.FilesArchived)
	assert.Equal(t, 31, report.FilesRemoved)
	assert.Empty(t, report.Warnings)
	assert.NotEmpty(t, report.RunID)

	_, err := os.Stat(filepath.Join(e.archiveDir, "2025", "summary-2025-08.json"))
	require.NoError(t, err)
	assert.Empty(t, e.hotFiles(t, "2025-08"))
}

func TestCompactor_RepeatIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 2)
	c := newLocalCompactor(t, e)

	first := c.Run(ctx, e.options(0, 3))
	require.True(t, first.OK, first.Error)
	before := snapshotDir(t, e.archiveDir)

	second := c.Run(ctx, e.options(0, 3))
	require.True(t, second.OK, second.Error)
	assert.Equal(t, 0, second.PeriodsProcessed)
	assert.Equal(t, 0, second.EventsArchived)
	assert.Empty(t, second.Warnings)

	after := snapshotDir(t, e.archiveDir)
	assert.Equal(t, before, after)

	summaries := 0
	for name := range after {
		if strings.HasPrefix(filepath.Base(name), "summary-2025-08") {
			summaries++
		}
	}
	assert.Equal(t, 1, summaries)
}

func TestCompactor_ThrottleDrainsOldestFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	e.seedMonth(t, 2025, time.August, 1)
	e.seedMonth(t, 2025, time.September, 1)
	c := newLocalCompactor(t, e)

	report := c.Run(ctx, e.options(0, 2))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 2, report.PeriodsProcessed)
	require.Len(t, report.Periods, 2)
	assert.Equal(t, "2025-07", report.Periods[0].Period)
	assert.Equal(t, "2025-08", report.Periods[1].Period)
	assert.NotEmpty(t, e.hotFiles(t, "2025-09"))

	next := c.Run(ctx, e.options(0, 2))
	require.True(t, next.OK, next.Error)
	assert.Equal(t, 1, next.PeriodsProcessed)
	require.Len(t, next.Periods, 1)
	assert.Equal(t, "2025-09", next.Periods[0].Period)
	assert.Equal(t, 30, next.EventsArchived)
}

func TestCompactor_ConservationAndContent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.June, 2)
	e.append(t, time.Date(2025, 6, 3, 23, 0, 0, 0, time.UTC), types.TypeToolCall)

	// Malformed lines are neither archived as events nor lost from the copy.
	f, err := os.OpenFile(filepath.Join(e.eventsDir, "events-2025-06-04.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"id\":\"x\",\"type\":\"bogus\"}\nnot json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sources := e.snapshotHot(t, "2025-06")
	report := newLocalCompactor(t, e).Run(ctx, e.options(0, 3))
	require.True(t, report.OK, report.Error)

	assert.Equal(t, 61, report.EventsArchived)

	data, err := os.ReadFile(filepath.Join(e.archiveDir, "2025", "summary-2025-06.json"))
	require.NoError(t, err)
	artifact, err := summary.DecodeArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, report.EventsArchived, artifact.EventCount)
	require.NotNil(t, artifact.Archive)
	assert.Equal(t, report.RunID, artifact.Archive.RunID)
	assert.Len(t, artifact.Archive.Files, 30)

	for name, src := range sources {
		copied, err := os.ReadFile(filepath.Join(e.archiveDir, "2025", name))
		require.NoError(t, err, name)
		assert.Equal(t, src, copied, name)
	}
}

func TestCompactor_NothingEligible(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.append(t, testNow.Add(-time.Hour), types.TypeMessage)
	e.append(t, time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC), types.TypeMessage)

	report := newLocalCompactor(t, e).Run(ctx, e.options(90, 3))
	require.True(t, report.OK, report.Error)
	assert.Zero(t, report.PeriodsProcessed)
	assert.Zero(t, report.PeriodsSkipped)
	assert.Zero(t, report.EventsArchived)
	assert.Zero(t, report.SummariesCreated)
	assert.Empty(t, report.Warnings)

	_, err := os.Stat(e.indexPath)
	assert.True(t, os.IsNotExist(err), "index must not be opened")
	assert.Empty(t, snapshotDir(t, e.archiveDir))
}

func TestCompactEvents_MissingHotStore(t *testing.T) {
	root := t.TempDir()
	report := CompactEvents(context.Background(), Options{
		EventsDir:  filepath.Join(root, "nope"),
		ArchiveDir: filepath.Join(root, "archive"),
	})
	require.True(t, report.OK, report.Error)
	assert.Zero(t, report.PeriodsProcessed)

	_, err := os.Stat(filepath.Join(root, "archive"))
	assert.True(t, os.IsNotExist(err), "archive must not be created")
}

func TestCompactEvents_RequiresEventsDir(t *testing.T) {
	report := CompactEvents(context.Background(), Options{})
	assert.False(t, report.OK)
	assert.Equal(t, arkerrors.ErrCategoryValidation, arkerrors.GetCategory(report.Err))
}

func TestCompactor_IndexUpdated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)
	recent := e.append(t, time.Date(2025, 10, 2, 8, 0, 0, 0, time.UTC), types.TypeNote)

	all, err := e.store.Read(ctx, eventstore.Filter{IncludeRedacted: true})
	require.NoError(t, err)
	ix, err := index.Open(ctx, e.indexPath)
	require.NoError(t, err)
	require.NoError(t, ix.BulkInsertEvents(ctx, all))
	require.NoError(t, ix.Close())

	report := newLocalCompactor(t, e).Run(ctx, e.options(30, 3))
	require.True(t, report.OK, report.Error)
	require.Equal(t, 1, report.PeriodsProcessed)

	ix, err = index.Open(ctx, e.indexPath)
	require.NoError(t, err)
	defer ix.Close()

	events, summaries, err := ix.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), events, "only the recent event row remains")
	assert.Equal(t, int64(1), summaries)

	rows, err := ix.QuerySummaries(ctx, "2025-08")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 31, rows[0].EventCount)

	periods, err := ix.LookupArchived(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-08"}, periods)

	rows2, err := ix.QueryEvents(ctx, index.EventQuery{})
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, recent.ID, rows2[0].ID)
}

func TestCompactor_SkippedPeriodDoesNotConsumeThrottle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	c := newLocalCompactor(t, e)

	require.True(t, c.Run(ctx, e.options(0, 1)).OK)

	// A hot file for an archived period reappears, e.g. restored from backup.
	restored, err := os.ReadFile(filepath.Join(e.archiveDir, "2025", "events-2025-07-01.jsonl"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.eventsDir, "events-2025-07-01.jsonl"), restored, 0644))
	e.seedMonth(t, 2025, time.August, 1)

	report := c.Run(ctx, e.options(0, 1))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsSkipped)
	assert.Equal(t, 1, report.PeriodsProcessed)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "2025-07 already archived")
	assert.NotEmpty(t, e.hotFiles(t, "2025-07"))
	assert.Empty(t, e.hotFiles(t, "2025-08"))
}

func TestCompactor_SweepArchived(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	c := newLocalCompactor(t, e)
	require.True(t, c.Run(ctx, e.options(0, 3)).OK)

	restored, err := os.ReadFile(filepath.Join(e.archiveDir, "2025", "events-2025-07-01.jsonl"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.eventsDir, "events-2025-07-01.jsonl"), restored, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(e.eventsDir, "events-2025-07-02.jsonl"), []byte("changed\n"), 0644))

	opts := e.options(0, 3)
	opts.SweepArchived = true
	report := c.Run(ctx, opts)
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsSkipped)
	assert.Equal(t, 1, report.FilesRemoved)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "events-2025-07-02.jsonl")
	assert.Equal(t, []string{"events-2025-07-02.jsonl"}, e.hotFiles(t, "2025-07"))
}

func TestCompactor_UnwritableArchive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)
	before := e.snapshotHot(t, "2025-08")

	mem := newMemStorage()
	mem.putErr = errors.New("access denied")
	report := NewCompactor(mem, WithClock(fixedClock(testNow))).Run(ctx, e.options(0, 3))

	assert.False(t, report.OK)
	assert.Contains(t, report.Error, "ARCHIVE_UNWRITABLE")
	assert.True(t, errors.Is(report.Err, arkerrors.New(arkerrors.ErrCategoryArchive, arkerrors.CodeArchiveUnwritable, "")))
	assert.Zero(t, report.PeriodsProcessed)
	assert.Equal(t, before, e.snapshotHot(t, "2025-08"))
}

func TestCompactor_UnopenableArchiveDir(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)
	require.NoError(t, os.WriteFile(e.archiveDir, []byte("a file, not a directory"), 0644))

	report := NewCompactor(nil, WithClock(fixedClock(testNow))).Run(ctx, e.options(0, 3))
	assert.False(t, report.OK)
	assert.Equal(t, arkerrors.CodeArchiveUnwritable, arkerrors.GetCode(report.Err))
	assert.NotEmpty(t, e.hotFiles(t, "2025-08"))
}

func TestCompactor_CopyMismatchFailsOnlyThatPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	e.seedMonth(t, 2025, time.August, 1)

	mem := newMemStorage()
	mem.mangle = func(objectPath string, data []byte) []byte {
		if strings.HasSuffix(objectPath, "events-2025-07-15.jsonl") {
			return append(data, '\n')
		}
		return data
	}

	report := NewCompactor(mem, WithClock(fixedClock(testNow))).Run(ctx, e.options(0, 3))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsProcessed)
	require.Len(t, report.Periods, 2)
	assert.Equal(t, PeriodFailed, report.Periods[0].Status)
	assert.Equal(t, PeriodArchived, report.Periods[1].Status)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "COPY_MISMATCH")

	// The failed period keeps its hot files and has no summary artifact.
	assert.Len(t, e.hotFiles(t, "2025-07"), 31)
	ok, err := mem.Exists(ctx, "2025/summary-2025-07.json")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = mem.Exists(ctx, "2025/summary-2025-08.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompactor_UnreadablePeriodFailsAlone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	e.seedMonth(t, 2025, time.August, 1)
	require.NoError(t, os.Symlink(filepath.Join(e.eventsDir, "gone.jsonl"), filepath.Join(e.eventsDir, "events-2025-06-10.jsonl")))

	report := newLocalCompactor(t, e).Run(ctx, e.options(0, 5))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 2, report.PeriodsProcessed)
	require.Len(t, report.Periods, 3)
	assert.Equal(t, "2025-06", report.Periods[0].Period)
	assert.Equal(t, PeriodFailed, report.Periods[0].Status)
	assert.Contains(t, report.Periods[0].Error, "READ_FAILED")
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "period 2025-06")

	assert.Empty(t, e.hotFiles(t, "2025-07"))
	assert.Empty(t, e.hotFiles(t, "2025-08"))
	assert.Equal(t, []string{"events-2025-06-10.jsonl"}, e.hotFiles(t, "2025-06"))
}

func TestCompactor_UnreadableFailureConsumesThrottle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	require.NoError(t, os.Symlink(filepath.Join(e.eventsDir, "gone.jsonl"), filepath.Join(e.eventsDir, "events-2025-06-10.jsonl")))

	report := newLocalCompactor(t, e).Run(ctx, e.options(0, 1))
	require.True(t, report.OK, report.Error)
	assert.Zero(t, report.PeriodsProcessed)
	require.Len(t, report.Periods, 1)
	assert.Equal(t, PeriodFailed, report.Periods[0].Status)
	assert.Len(t, e.hotFiles(t, "2025-07"), 31)
}

func TestCompactor_PeriodsPastThrottleAreNotRead(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.July, 1)
	// Reading August would fail; a run limited to one period never gets there.
	require.NoError(t, os.Symlink(filepath.Join(e.eventsDir, "gone.jsonl"), filepath.Join(e.eventsDir, "events-2025-08-10.jsonl")))

	report := newLocalCompactor(t, e).Run(ctx, e.options(0, 1))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsProcessed)
	require.Len(t, report.Periods, 1)
	assert.Equal(t, "2025-07", report.Periods[0].Period)
	assert.Empty(t, report.Warnings)
}

func TestCompactor_ObjectStorageBackend(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 2)
	sources := e.snapshotHot(t, "2025-08")

	mem := newMemStorage()
	report := NewCompactor(mem, WithClock(fixedClock(testNow))).Run(ctx, e.options(0, 3))
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 62, report.EventsArchived)

	objects, err := mem.ListObjects(ctx, "2025/")
	require.NoError(t, err)
	assert.Len(t, objects, 32)
	for name, src := range sources {
		copied, err := mem.Get(ctx, "2025/"+name)
		require.NoError(t, err)
		assert.Equal(t, src, copied)
	}
	_, err = os.Stat(e.archiveDir)
	assert.True(t, os.IsNotExist(err), "local archive dir unused with a storage backend")
}

func TestCompactor_Metrics(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)

	reg := prometheus.NewRegistry()
	archive, err := storage.NewLocalStorage(e.archiveDir)
	require.NoError(t, err)
	c := NewCompactor(archive,
		WithClock(fixedClock(testNow)),
		WithMetrics(observability.NewCompactionMetrics(reg)))

	require.True(t, c.Run(ctx, e.options(0, 3)).OK)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), values["eventarchive_periods_processed_total"])
	assert.Equal(t, float64(31), values["eventarchive_events_archived_total"])
	assert.Equal(t, float64(1), values["eventarchive_runs_total"])
}

func TestRemoveSourceFiles_WarnsAndContinues(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "events-2025-01-01.jsonl")
	require.NoError(t, os.WriteFile(ok, []byte("{}\n"), 0644))

	// A non-empty directory cannot be removed with os.Remove.
	stuck := filepath.Join(dir, "events-2025-01-02.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Join(stuck, "child"), 0755))

	a := NewArchiver(newMemStorage(), nil)
	removed, warnings := a.RemoveSourceFiles([]eventstore.DayFile{
		{Name: "events-2025-01-02.jsonl", Path: stuck},
		{Name: "events-2025-01-01.jsonl", Path: ok},
		{Name: "events-2025-01-03.jsonl", Path: filepath.Join(dir, "events-2025-01-03.jsonl")},
	})

	assert.Equal(t, 1, removed)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "events-2025-01-02.jsonl")
	_, err := os.Stat(ok)
	assert.True(t, os.IsNotExist(err))
}

func TestArchiver_ExistingIdenticalCopyNotRecopied(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)
	files, err := e.store.ListDayFiles()
	require.NoError(t, err)

	mem := newMemStorage()
	p := types.NewPeriod(2025, time.August)
	first, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, summary.FilePath(p, files[0].Name), first))
	require.NoError(t, mem.Put(ctx, summary.FilePath(p, files[1].Name), []byte("stale")))

	a := NewArchiver(mem, nil)
	res, err := a.Archive(ctx, p, files, summary.Generate(p, nil, summary.Options{}), "run-1")
	require.NoError(t, err)
	assert.Equal(t, len(files)-1, res.NewlyArchived)
	assert.Len(t, res.Files, len(files))

	second, err := mem.Get(ctx, summary.FilePath(p, files[1].Name))
	require.NoError(t, err)
	src, err := os.ReadFile(files[1].Path)
	require.NoError(t, err)
	assert.Equal(t, src, second, "mismatching copy is replaced")

	archived, err := a.AlreadyArchived(ctx, p)
	require.NoError(t, err)
	assert.True(t, archived)
}

func TestArchiver_CheckWritableLeavesNoProbe(t *testing.T) {
	ctx := context.Background()
	mem := newMemStorage()
	require.NoError(t, NewArchiver(mem, nil).CheckWritable(ctx))

	objects, err := mem.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func ExampleCompactEvents() {
	root, _ := os.MkdirTemp("", "eventarchive")
	defer os.RemoveAll(root)

	report := CompactEvents(context.Background(), DefaultOptions(
		filepath.Join(root, "events"),
		filepath.Join(root, "archive"),
	))
	fmt.Println(report.OK, report.PeriodsProcessed)
	// Output: true 0
}
