package ops

import "github.com/prometheus/client_golang/prometheus"

// QueryStats is the injected observer of spec.md §9 Design Notes: the
// coordinator calls Record once per completed query; this package does
// not own where the measurement is stored, matching the teacher's split
// of go/ops/stats.go (stats shape) from go/ops/publish.go (where it goes).
type QueryStats interface {
	Record(ddocID, indexName string, elapsedSeconds float64)
}

// PrometheusQueryStats implements QueryStats with a Prometheus
// HistogramVec keyed by ddoc id and index name, the way the rest of this
// pack instruments request latency.
type PrometheusQueryStats struct {
	durations *prometheus.HistogramVec
}

// NewPrometheusQueryStats constructs a QueryStats and registers it with reg.
// If reg is nil, the metric is left unregistered (useful in tests).
func NewPrometheusQueryStats(reg prometheus.Registerer) *PrometheusQueryStats {
	var durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "viewmerge",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Time to complete one merged index query, by design document and index name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"ddoc_id", "index_name"})

	if reg != nil {
		reg.MustRegister(durations)
	}
	return &PrometheusQueryStats{durations: durations}
}

// Record implements QueryStats.
func (s *PrometheusQueryStats) Record(ddocID, indexName string, elapsedSeconds float64) {
	s.durations.WithLabelValues(ddocID, indexName).Observe(elapsedSeconds)
}

// NoopQueryStats discards all observations; used where no stats sink is wired.
type NoopQueryStats struct{}

// Record implements QueryStats.
func (NoopQueryStats) Record(string, string, float64) {}
