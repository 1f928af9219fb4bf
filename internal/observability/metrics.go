package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Item outcomes used as the "outcome" label.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the Prometheus counters and histograms for one pipeline run.
// The registry is exported to a node_exporter textfile at the end of the run.
type Metrics struct {
	Registry *prometheus.Registry

	Items             *prometheus.CounterVec   // labels: stage, outcome
	StageDuration     *prometheus.HistogramVec // labels: stage
	PartitionsWritten prometheus.Counter
	Days              *prometheus.CounterVec // labels: outcome
}

// NewMetrics creates the pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdparquet",
			Name:      "items_total",
			Help:      "Per-item outcomes by pipeline stage.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vdparquet",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage for one day.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"stage"}),
		PartitionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vdparquet",
			Name:      "partitions_written_total",
			Help:      "Device partition files written.",
		}),
		Days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdparquet",
			Name:      "days_total",
			Help:      "Days processed by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(m.Items, m.StageDuration, m.PartitionsWritten, m.Days)
	return m
}

// NewMetricsForTesting returns metrics on an isolated registry.
func NewMetricsForTesting() *Metrics {
	return NewMetrics()
}

// ObserveItem counts one item outcome. Safe on a nil receiver.
func (m *Metrics) ObserveItem(stage, outcome string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records how long a stage took. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObservePartitions adds n written partitions. Safe on a nil receiver.
func (m *Metrics) ObservePartitions(n int) {
	if m == nil {
		return
	}
	m.PartitionsWritten.Add(float64(n))
}

// ObserveDay counts a finished day. Safe on a nil receiver.
func (m *Metrics) ObserveDay(outcome string) {
	if m == nil {
		return
	}
	m.Days.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the registry in Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
