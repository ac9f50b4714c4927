package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors. A fresh registry per
// instance keeps tests independent of global state.
type Metrics struct {
	registry *prometheus.Registry

	BarsTotal           *prometheus.CounterVec
	SignalsTotal        *prometheus.CounterVec
	OrdersTotal         *prometheus.CounterVec
	RiskRejectionsTotal *prometheus.CounterVec
	FillsTotal          *prometheus.CounterVec
	CycleErrorsTotal    *prometheus.CounterVec
}

// New creates and registers the agent's collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BarsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_bars_total", Help: "Closed bars ingested"},
			[]string{"symbol"},
		),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_signals_total", Help: "Signals produced by the evaluator"},
			[]string{"symbol", "decision"},
		),
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_orders_total", Help: "Orders submitted, by final submission status"},
			[]string{"symbol", "status"},
		),
		RiskRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_risk_rejections_total", Help: "Orders denied by the risk tracker"},
			[]string{"symbol"},
		),
		FillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_fills_total", Help: "Fill events applied to positions"},
			[]string{"symbol"},
		),
		CycleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arbiter_cycle_errors_total", Help: "Evaluation cycles ended by an unrecoverable error"},
			[]string{"symbol"},
		),
	}

	m.registry.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.OrdersTotal,
		m.RiskRejectionsTotal,
		m.FillsTotal,
		m.CycleErrorsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
