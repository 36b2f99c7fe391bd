// Package monitoring exposes Prometheus metrics for the trading server.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process-wide collectors. One instance is shared by
// the session manager and every engine.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	TradesOpened   *prometheus.CounterVec
	TradesClosed   *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TickErrors     *prometheus.CounterVec
	WebhookEvents  *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry and returns both.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hedgegrid_active_sessions",
			Help: "Number of registered trading sessions.",
		}),
		TradesOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgegrid_trades_opened_total",
			Help: "Positions opened, by symbol and side.",
		}, []string{"symbol", "side"}),
		TradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgegrid_trades_closed_total",
			Help: "Positions closed, by symbol and reason.",
		}, []string{"symbol", "reason"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedgegrid_tick_duration_seconds",
			Help:    "Wall time of one engine tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		TickErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgegrid_tick_errors_total",
			Help: "Non-fatal tick errors, by stage.",
		}, []string{"stage"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgegrid_webhook_events_total",
			Help: "Webhook delivery outcomes.",
		}, []string{"result"}),
	}
	return m, registry
}

// Handler returns the scrape endpoint for a registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
