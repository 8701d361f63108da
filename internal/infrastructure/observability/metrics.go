package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is the process-wide registry. Every worker shares it, so the
// management /metrics endpoint serves the cluster aggregate.
type Metrics struct {
	registry *prometheus.Registry

	ResponseCodes     *prometheus.CounterVec
	TransactionsTotal prometheus.Counter
	ActiveRequests    prometheus.Gauge
	PhaseDuration     *prometheus.HistogramVec
	SinkDropped       prometheus.Counter
	WorkerRestarts    prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ResponseCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responses_codes",
			Help: "Responses by HTTP status code",
		}, []string{"code"}),
		TransactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maegashira",
			Name:      "transactions_total",
			Help:      "Transactions recorded",
		}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maegashira",
			Name:      "active_requests",
			Help:      "Requests currently in flight",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "maegashira",
			Name:      "phase_duration_seconds",
			Help:      "Per-request phase durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		SinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maegashira",
			Name:      "sink_dropped_total",
			Help:      "Transactions dropped because the sink buffer was full",
		}),
		WorkerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maegashira",
			Name:      "worker_restarts_total",
			Help:      "Worker restarts after abnormal exit",
		}),
	}
	r.MustRegister(
		m.ResponseCodes, m.TransactionsTotal, m.ActiveRequests,
		m.PhaseDuration, m.SinkDropped, m.WorkerRestarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
