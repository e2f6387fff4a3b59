package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtrntr/venue/internal/models"
)

// Metrics holds the venue's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	trades         *prometheus.CounterVec
	tradedVolume   *prometheus.CounterVec
	ticks          prometheus.Counter
	activeSessions prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue",
			Name:      "requests_total",
			Help:      "Session requests handled, by request type and outcome.",
		}, []string{"type", "ok"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue",
			Name:      "trades_total",
			Help:      "Executed trades by market.",
		}, []string{"market"}),
		tradedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "venue",
			Name:      "traded_volume_total",
			Help:      "Executed volume by market, in the base currency.",
		}, []string{"market"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "venue",
			Name:      "match_ticks_total",
			Help:      "Matching engine ticks run.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "venue",
			Name:      "active_sessions",
			Help:      "Open protocol connections.",
		}),
	}
	m.registry.MustRegister(m.requests, m.trades, m.tradedVolume, m.ticks, m.activeSessions)
	return m
}

// RequestHandled counts one session request.
func (m *Metrics) RequestHandled(kind string, ok bool) {
	m.requests.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

// TickCompleted counts one matching tick and its trades.
func (m *Metrics) TickCompleted(trades []models.Trade) {
	m.ticks.Inc()
	for _, t := range trades {
		market := models.Market{Base: t.Volume.Currency, Quote: t.Price.Currency}.String()
		m.trades.WithLabelValues(market).Inc()
		m.tradedVolume.WithLabelValues(market).Add(t.Volume.Value)
	}
}

func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
