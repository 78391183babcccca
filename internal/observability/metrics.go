package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orca_absence"

// Metrics holds the Prometheus counters, histograms, and gauges for absence generation.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // labels: outcome={success,error,empty}
	RunRunning   prometheus.Gauge
	RunDuration  prometheus.Histogram
	AbsencesKept prometheus.Gauge

	// Phase 1.
	BucketsProcessed  prometheus.Counter
	AbsencesGenerated prometheus.Counter
	ConflictsSkipped  prometheus.Counter
	EligibleZones     prometheus.Histogram
	InsertBatchSize   prometheus.Histogram

	// Phase 2.
	AbsencesDeleted prometheus.Counter
	DanglingZones   prometheus.Counter

	// Summary publishing.
	SummariesPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunRunning,
		m.RunDuration,
		m.AbsencesKept,
		m.BucketsProcessed,
		m.AbsencesGenerated,
		m.ConflictsSkipped,
		m.EligibleZones,
		m.InsertBatchSize,
		m.AbsencesDeleted,
		m.DanglingZones,
		m.SummariesPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed generation runs by outcome.",
		}, []string{"outcome"}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a generation run is executing, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full two-phase run.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		AbsencesKept: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "absences_kept",
			Help:      "Absence rows retained after the most recent downsampling pass.",
		}),
		BucketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_processed_total",
			Help:      "Hour buckets evaluated for eligibility.",
		}),
		AbsencesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absences_generated_total",
			Help:      "Absence candidates inserted during generation.",
		}),
		ConflictsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absence_conflicts_total",
			Help:      "Absence candidates skipped because the (zone, hour) row already existed.",
		}),
		EligibleZones: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eligible_zones",
			Help:      "Eligible zones per hour bucket.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		InsertBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insert_batch_size",
			Help:      "Rows per absence insert batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		AbsencesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absences_deleted_total",
			Help:      "Absence rows removed by weighted downsampling.",
		}),
		DanglingZones: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dangling_zone_refs_total",
			Help:      "Absence rows scored with the floor weight because their zone is not in the catalog.",
		}),
		SummariesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_published_total",
			Help:      "Run summaries published to Kafka by outcome.",
		}, []string{"outcome"}),
	}
}
