package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics exports per-operation series when a registerer is supplied.
type promMetrics struct {
	duration *prometheus.HistogramVec
	calls    *prometheus.CounterVec
	errs     *prometheus.CounterVec
	hits     *prometheus.CounterVec
}

// WithRegisterer enables Prometheus export. Series are registered eagerly;
// registration conflicts panic, same as prometheus.MustRegister.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		if reg == nil {
			return
		}
		m.metrics = newPromMetrics(reg)
	}
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	p := &promMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repository",
			Subsystem: "resilience",
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock duration of tracked repository operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repository",
			Subsystem: "resilience",
			Name:      "operations_total",
			Help:      "Tracked repository operations.",
		}, []string{"operation"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repository",
			Subsystem: "resilience",
			Name:      "operation_errors_total",
			Help:      "Tracked repository operations that returned an error.",
		}, []string{"operation"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repository",
			Subsystem: "resilience",
			Name:      "probable_cache_hits_total",
			Help:      "Successful operations fast enough to be classified as cache hits.",
		}, []string{"operation"}),
	}
	reg.MustRegister(p.duration, p.calls, p.errs, p.hits)
	return p
}

func (p *promMetrics) observe(op string, d time.Duration, hit, failed bool) {
	p.duration.WithLabelValues(op).Observe(d.Seconds())
	p.calls.WithLabelValues(op).Inc()
	if hit {
		p.hits.WithLabelValues(op).Inc()
	}
	if failed {
		p.errs.WithLabelValues(op).Inc()
	}
}
