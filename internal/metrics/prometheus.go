package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SyncMetrics holds Prometheus metrics for the plan sync. A nil *SyncMetrics
// records nothing.
//
// Metrics:
//   - mealplanner_sync_items_total{phase,outcome}
//   - mealplanner_sync_runs_total{kind,outcome}
//   - mealplanner_sync_duration_seconds{kind}
type SyncMetrics struct {
	ItemsTotal *prometheus.CounterVec
	RunsTotal  *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewSyncMetrics registers the sync metrics with reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	f := promauto.With(reg)
	return &SyncMetrics{
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealplanner_sync_items_total",
				Help: "Total number of recipes and plans processed by sync",
			},
			[]string{"phase", "outcome"},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealplanner_sync_runs_total",
				Help: "Total number of sync runs",
			},
			[]string{"kind", "outcome"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mealplanner_sync_duration_seconds",
				Help:    "Duration of sync runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"kind"},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveItem counts one synced item.
func (m *SyncMetrics) ObserveItem(phase string, err error) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(phase, outcome(err)).Inc()
}

// ObserveRun counts a finished run and its duration.
func (m *SyncMetrics) ObserveRun(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(kind, outcome(err)).Inc()
	m.Duration.WithLabelValues(kind).Observe(d.Seconds())
}
