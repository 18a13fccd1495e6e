package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
	outcomeStopped  = "stopped"
)

// Metrics groups the orchestrator's instrumentation.
type Metrics struct {
	switches      *prometheus.CounterVec
	ticks         prometheus.Counter
	activeSymbols prometheus.Gauge
	feedErrors    *prometheus.CounterVec
	quoteFetch    prometheus.Histogram
	feedConnected prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg gives unregistered
// collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		switches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stocktracker_switch_total",
			Help: "Symbol switch requests by outcome.",
		}, []string{"outcome"}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "stocktracker_ticks_total",
			Help: "Trade ticks applied to the cache.",
		}),
		activeSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stocktracker_active_symbols",
			Help: "Symbols with at least one viewer.",
		}),
		feedErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stocktracker_feed_errors_total",
			Help: "Upstream feed failures by operation.",
		}, []string{"op"}),
		quoteFetch: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stocktracker_quote_fetch_seconds",
			Help:    "Latency of initial quote fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		feedConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stocktracker_feed_connected",
			Help: "1 while the upstream stream is connected.",
		}),
	}
}

// SetFeedConnected is meant to be passed to feed.Client.OnConnectionChange.
func (m *Metrics) SetFeedConnected(up bool) {
	if up {
		m.feedConnected.Set(1)
		return
	}
	m.feedConnected.Set(0)
	m.feedErrors.WithLabelValues("connection").Inc()
}
