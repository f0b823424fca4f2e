package harvest

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes recorded per operation
const (
	OutcomeFound = "found"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// Metrics exposes Prometheus collectors for harvest runs.
type Metrics struct {
	queries     *prometheus.CounterVec
	records     prometheus.Counter
	branchStops *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the harvest metrics against registerer. A nil
// registerer uses the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsfe_harvest_queries_total",
		Help: "Remote WSFE calls issued by the harvester, by operation and outcome.",
	}, []string{"operation", "outcome"})
	records := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsfe_harvest_records_total",
		Help: "Voucher records harvested inside the requested date range.",
	})
	branchStops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsfe_harvest_branch_stops_total",
		Help: "Finished branches grouped by stop reason.",
	}, []string{"reason"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsfe_harvest_runs_total",
		Help: "Harvest runs by final status.",
	}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsfe_harvest_run_duration_seconds",
		Help:    "Duration in seconds of harvest runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
	registerer.MustRegister(queries, records, branchStops, runs, duration)
	return &Metrics{queries: queries, records: records, branchStops: branchStops, runs: runs, duration: duration}
}

func (m *Metrics) query(op, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) recorded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.Add(float64(n))
}

func (m *Metrics) branchStopped(reason StopReason) {
	if m == nil {
		return
	}
	m.branchStops.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) runFinished(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}
