package serve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	licenses *prometheus.CounterVec
	sessions prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wvserve",
			Name:      "rpc_requests_total",
			Help:      "RPC calls by method and status code.",
		}, []string{"method", "status_code"}),
		licenses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wvserve",
			Name:      "licenses_total",
			Help:      "Parsed licenses by device and result.",
		}, []string{"device", "result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wvserve",
			Name:      "open_sessions",
			Help:      "Sessions awaiting a license.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.licenses,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
