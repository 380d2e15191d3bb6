package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the worker jobs and the compliance core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	AuditWriteFailures *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	PurgeEntries       *prometheus.CounterVec
	AlertsDispatched   *prometheus.CounterVec
	RowsSwept          *prometheus.CounterVec
}

// New registers every metric with reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_audit_write_failures_total",
			Help: "Audit records that could not be written",
		}, []string{"action"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_job_runs_total",
			Help: "Scheduled job runs by outcome (success, error, panic, locked)",
		}, []string{"job", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetdesk_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		PurgeEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_purge_entries_total",
			Help: "Deletion queue entries processed by the purge tick",
		}, []string{"kind", "outcome"}),
		AlertsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_alerts_total",
			Help: "Alert notifications by kind and outcome (sent, deduped, failed)",
		}, []string{"kind", "outcome"}),
		RowsSwept: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assetdesk_rows_swept_total",
			Help: "Rows removed by retention sweeps",
		}, []string{"target"}),
	}
}

func (m *Metrics) IncAuditFailure(action string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(action).Inc()
}

// ObserveJob records one job run. Call with time.Now() taken at the start.
func (m *Metrics) ObserveJob(job, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncJobSkipped(job string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, "locked").Inc()
}

func (m *Metrics) IncPurge(kind, outcome string) {
	if m == nil {
		return
	}
	m.PurgeEntries.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncAlert(kind, outcome string) {
	if m == nil {
		return
	}
	m.AlertsDispatched.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AddSwept(target string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsSwept.WithLabelValues(target).Add(float64(n))
}
