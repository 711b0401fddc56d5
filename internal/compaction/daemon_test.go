package compaction

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemon_RunOnceRecordsLastReport(t *testing.T) {
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)

	d := NewDaemon(DefaultDaemonConfig(e.options(0, 3)), newLocalCompactor(t, e), nil)
	assert.Nil(t, d.LastReport())

	report := d.RunOnce(context.Background())
	require.True(t, report.OK, report.Error)
	assert.Equal(t, 1, report.PeriodsProcessed)
	assert.Same(t, report, d.LastReport())
	assert.Equal(t, 1, d.backoff.Multiplier())
}

func TestDaemon_StartRunsImmediatelyAndStops(t *testing.T) {
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)

	cfg := DefaultDaemonConfig(e.options(0, 3))
	cfg.CheckInterval = time.Hour
	d := NewDaemon(cfg, newLocalCompactor(t, e), nil)

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Running())
	assert.Error(t, d.Start(context.Background()), "second start must fail")

	require.Eventually(t, func() bool {
		return d.LastReport() != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.False(t, d.Running())
	require.NoError(t, d.Stop(), "stop is idempotent")

	assert.Equal(t, 1, d.LastReport().PeriodsProcessed)
	assert.Empty(t, e.hotFiles(t, "2025-08"))
}

func TestDaemon_FailedRunsStretchInterval(t *testing.T) {
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)

	mem := newMemStorage()
	mem.putErr = assert.AnError
	d := NewDaemon(DefaultDaemonConfig(e.options(0, 3)), NewCompactor(mem, WithClock(fixedClock(testNow))), nil)

	report := d.RunOnce(context.Background())
	assert.False(t, report.OK)
	assert.Equal(t, 2, d.backoff.Multiplier())
	assert.Equal(t, 2*time.Hour, d.backoff.Interval(d.config.CheckInterval))
}

func TestDaemon_RetryablePeriodFailureStretchesInterval(t *testing.T) {
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)

	mem := newMemStorage()
	mem.mangle = func(objectPath string, data []byte) []byte {
		if strings.HasSuffix(objectPath, ".jsonl") {
			return append(data, '\n')
		}
		return data
	}
	d := NewDaemon(DefaultDaemonConfig(e.options(0, 3)), NewCompactor(mem, WithClock(fixedClock(testNow))), nil)

	report := d.RunOnce(context.Background())
	require.True(t, report.OK, report.Error)
	require.Len(t, report.Periods, 1)
	assert.True(t, report.Periods[0].Retryable)
	assert.Equal(t, 2, d.backoff.Multiplier())
}

func TestDaemon_PermanentPeriodFailureKeepsInterval(t *testing.T) {
	e := newEnv(t)
	e.seedMonth(t, 2025, time.August, 1)
	require.NoError(t, os.Symlink(filepath.Join(e.eventsDir, "gone.jsonl"), filepath.Join(e.eventsDir, "events-2025-07-10.jsonl")))

	d := NewDaemon(DefaultDaemonConfig(e.options(0, 3)), newLocalCompactor(t, e), nil)

	report := d.RunOnce(context.Background())
	require.True(t, report.OK, report.Error)
	assert.True(t, report.Failed())
	require.Len(t, report.Periods, 2)
	assert.False(t, report.Periods[0].Retryable)
	assert.Equal(t, PeriodArchived, report.Periods[1].Status)
	assert.Equal(t, 1, d.backoff.Multiplier())
}
