package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline.
// Tracks run counts, verdicts, loop behavior, and detector output.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	LoopPasses    prometheus.Counter
	Findings      *prometheus.CounterVec
	RunDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all audit pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verity_audit_runs_started_total",
			Help: "Total number of audit runs started",
		}),
		RunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_audit_runs_completed_total",
			Help: "Total number of audit runs completed, by final verdict",
		}, []string{"verdict"}),
		LoopPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verity_audit_loop_passes_total",
			Help: "Total number of full pipeline passes, including re-audit loops",
		}),
		Findings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verity_audit_findings_total",
			Help: "Total number of findings emitted, by category",
		}, []string{"category"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verity_audit_run_duration_seconds",
			Help:    "End-to-end duration of an audit run including all loop passes",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// IncrementRunsStarted records an audit run entering the pipeline.
func (m *Metrics) IncrementRunsStarted() {
	m.RunsStarted.Inc()
}

// IncrementRunsCompleted records a finished run with its final verdict.
func (m *Metrics) IncrementRunsCompleted(verdict string) {
	m.RunsCompleted.WithLabelValues(verdict).Inc()
}

// IncrementLoopPasses records one full pass through the three stages.
func (m *Metrics) IncrementLoopPasses() {
	m.LoopPasses.Inc()
}

// IncrementFindings records detector output for one pass.
func (m *Metrics) IncrementFindings(category string) {
	m.Findings.WithLabelValues(category).Inc()
}

// ObserveRunDuration records the end-to-end run duration.
// Call with time.Now() captured at run start.
func (m *Metrics) ObserveRunDuration(start time.Time) {
	m.RunDuration.Observe(time.Since(start).Seconds())
}
