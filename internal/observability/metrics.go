package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results used as the "result" label of the runs counter.
const (
	RunResultOK      = "ok"
	RunResultPartial = "partial"
	RunResultFailed  = "failed"
)

// CompactionMetrics captures compaction health signals.
// A nil *CompactionMetrics is valid and records nothing.
type CompactionMetrics struct {
	periodsProcessed prometheus.Counter
	periodsSkipped   prometheus.Counter
	eventsArchived   prometheus.Counter
	filesArchived    prometheus.Counter
	warnings         prometheus.Counter
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
}

// RunStats is what one compaction run contributes to the metrics.
type RunStats struct {
	Result           string
	PeriodsProcessed int
	PeriodsSkipped   int
	EventsArchived   int
	FilesArchived    int
	Warnings         int
	Duration         time.Duration
}

// NewCompactionMetrics creates the compaction collectors and registers them
// on registerer (prometheus.DefaultRegisterer when nil).
func NewCompactionMetrics(registerer prometheus.Registerer) *CompactionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &CompactionMetrics{
		periodsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "periods_processed_total",
			Help:      "Periods archived and summarized.",
		}),
		periodsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "periods_skipped_total",
			Help:      "Eligible periods skipped because a summary artifact already existed.",
		}),
		eventsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "events_archived_total",
			Help:      "Events moved from the hot store into the archive.",
		}),
		filesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "files_archived_total",
			Help:      "Day files newly copied into the archive.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "warnings_total",
			Help:      "Non-fatal warnings raised by compaction runs.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventarchive",
			Name:      "runs_total",
			Help:      "Compaction runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventarchive",
			Name:      "run_duration_seconds",
			Help:      "Wall time of compaction runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
	}

	registerer.MustRegister(
		m.periodsProcessed,
		m.periodsSkipped,
		m.eventsArchived,
		m.filesArchived,
		m.warnings,
		m.runs,
		m.runDuration,
	)
	return m
}

// ObserveRun records the outcome of one compaction run.
func (m *CompactionMetrics) ObserveRun(stats RunStats) {
	if m == nil {
		return
	}
	m.periodsProcessed.Add(float64(stats.PeriodsProcessed))
	m.periodsSkipped.Add(float64(stats.PeriodsSkipped))
	m.eventsArchived.Add(float64(stats.EventsArchived))
	m.filesArchived.Add(float64(stats.FilesArchived))
	m.warnings.Add(float64(stats.Warnings))

	result := stats.Result
	if result == "" {
		result = RunResultOK
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(stats.Duration.Seconds())
}
