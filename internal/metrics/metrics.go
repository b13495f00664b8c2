// Package metrics exposes the proxy's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the live-session proxy.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsEvicted  prometheus.Counter
	InboundFragments *prometheus.CounterVec
	SendErrors       prometheus.Counter
}

// New registers the proxy collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "soothe_live_sessions_active",
			Help: "Number of live sessions currently held by the proxy.",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "soothe_live_sessions_evicted_total",
			Help: "Sessions evicted after exceeding the idle TTL.",
		}),
		InboundFragments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "soothe_live_inbound_fragments_total",
			Help: "Inbound response fragments by kind.",
		}, []string{"kind"}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "soothe_live_send_errors_total",
			Help: "Failed realtime input sends.",
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
