// Package metrics exposes Prometheus counters for the risk-and-execution gate.
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegis_trader"

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	ordersTotal         *prometheus.CounterVec
	rejectionsTotal     *prometheus.CounterVec
	signalsTotal        *prometheus.CounterVec
	breakerTrips        *prometheus.CounterVec
	liquidationAttempts *prometheus.CounterVec
	loopDuration        *prometheus.HistogramVec
	loopSkips           *prometheus.CounterVec
	dailyPnLPct         *prometheus.GaugeVec
	reconcileMismatches *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order attempts by broker, side and status",
		}, []string{"broker", "side", "status"}),

		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Signals rejected by risk validation, by failed rule",
		}, []string{"market", "rule"}),

		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_consumed_total",
			Help:      "Signals consumed by market and outcome",
		}, []string{"market", "outcome"}),

		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker NORMAL→HALTED transitions",
		}, []string{"broker", "reason"}),

		liquidationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_attempts_total",
			Help:      "Liquidation order attempts by broker and result",
		}, []string{"broker", "result"}),

		loopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "market_loop_duration_seconds",
			Help:      "Duration of market loop ticks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"market"}),

		loopSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_loop_skips_total",
			Help:      "Market loop ticks skipped, by reason",
		}, []string{"market", "reason"}),

		dailyPnLPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl_pct",
			Help:      "Last computed daily P&L as a fraction of account size",
		}, []string{"broker"}),

		reconcileMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mismatches_total",
			Help:      "Positions overwritten from broker truth",
		}, []string{"broker"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersTotal,
		m.rejectionsTotal,
		m.signalsTotal,
		m.breakerTrips,
		m.liquidationAttempts,
		m.loopDuration,
		m.loopSkips,
		m.dailyPnLPct,
		m.reconcileMismatches,
	)
	return m
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordOrder(broker, side, status string) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(broker, side, status).Inc()
}

func (m *Metrics) RecordRejection(market string, rules []string) {
	if m == nil {
		return
	}
	for _, rule := range rules {
		m.rejectionsTotal.WithLabelValues(market, rule).Inc()
	}
}

func (m *Metrics) RecordSignal(market, outcome string) {
	if m == nil {
		return
	}
	m.signalsTotal.WithLabelValues(market, outcome).Inc()
}

func (m *Metrics) RecordBreakerTrip(broker, reason string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(broker, reason).Inc()
}

func (m *Metrics) RecordLiquidationAttempt(broker string, success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	m.liquidationAttempts.WithLabelValues(broker, result).Inc()
}

func (m *Metrics) ObserveLoop(market string, d time.Duration) {
	if m == nil {
		return
	}
	m.loopDuration.WithLabelValues(market).Observe(d.Seconds())
}

func (m *Metrics) RecordLoopSkip(market, reason string) {
	if m == nil {
		return
	}
	m.loopSkips.WithLabelValues(market, reason).Inc()
}

func (m *Metrics) SetDailyPnLPct(broker string, pct float64) {
	if m == nil {
		return
	}
	m.dailyPnLPct.WithLabelValues(broker).Set(pct)
}

func (m *Metrics) RecordReconcileMismatch(broker string) {
	if m == nil {
		return
	}
	m.reconcileMismatches.WithLabelValues(broker).Inc()
}
