// Package metrics exposes Prometheus collectors for booking pipelines and ledgers.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventbooking"

type Metrics struct {
	registry      *prometheus.Registry
	pipelines     *prometheus.CounterVec
	providerCalls *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	budget        *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	alerts        *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Booking pipelines by product line and outcome.",
		}, []string{"product", "outcome"}),
		providerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of calls to the reservation provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"product", "operation", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthetic_fallbacks_total",
			Help:      "Searches answered with synthetic inventory.",
		}, []string{"product"}),
		budget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_decisions_total",
			Help:      "Budget ledger decisions by status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_conflicts_total",
			Help:      "Rejected over-confirmations and budget races.",
		}, []string{"ledger"}),
		alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_alerts",
			Help:      "Non-ok inventory records per event at the last status check.",
		}, []string{"event_id", "severity"}),
	}
	m.registry.MustRegister(m.pipelines, m.providerCalls, m.fallbacks, m.budget, m.conflicts, m.alerts)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObservePipeline(product domain.ProductLine, outcome string) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(string(product), outcome).Inc()
}

func (m *Metrics) ObserveProviderCall(product domain.ProductLine, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(string(product), operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFallback(product domain.ProductLine) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(product)).Inc()
}

func (m *Metrics) ObserveBudgetDecision(status domain.SpendStatus) {
	if m == nil {
		return
	}
	m.budget.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveConflict(ledger string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(ledger).Inc()
}

func (m *Metrics) SetAlerts(eventID string, rows []domain.AlertRow) {
	if m == nil {
		return
	}
	counts := map[domain.Severity]int{domain.SeverityWarning: 0, domain.SeverityCritical: 0}
	for _, r := range rows {
		counts[r.Severity]++
	}
	for sev, n := range counts {
		m.alerts.WithLabelValues(eventID, string(sev)).Set(float64(n))
	}
}
