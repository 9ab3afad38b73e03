// Package metrics exposes cycle, evaluation, alert and notification counters
// for Prometheus scraping.
//
// Metrics:
//   - <ns>_cycles_total{result}: completed cycles, result "ok" or "error"
//   - <ns>_cycle_duration_seconds: cycle wall time
//   - <ns>_budget_evaluations_total{outcome}: "ok", "breached", "skipped" or "failed"
//   - <ns>_alerts_total{outcome}: "recorded" or "suppressed"
//   - <ns>_notifications_total{channel,result}: "sent" or "not_sent" per channel
//   - <ns>_budget_spend{budget}: current-window spend by budget name
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "cloudcost"

// Collector owns the cloudcost metrics and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	evaluations   *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	spend         *prometheus.GaugeVec
}

// NewCollector creates and registers the metrics. A nil registry gets a fresh
// one; an empty namespace uses DefaultNamespace.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Budget check cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Budget check cycle duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_evaluations_total",
			Help:      "Budget evaluations by outcome",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert candidates by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		spend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spend",
			Help:      "Spend in the current budget window",
		}, []string{"budget"}),
	}

	registry.MustRegister(c.cycles, c.cycleDuration, c.evaluations, c.alerts, c.notifications, c.spend)
	return c
}

// Registry returns the registry the metrics are registered in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordCycle records one finished cycle.
func (c *Collector) RecordCycle(err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.cycles.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(d.Seconds())
}

// RecordEvaluation counts a budget evaluation outcome.
func (c *Collector) RecordEvaluation(outcome string) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(outcome).Inc()
}

// RecordAlert counts a candidate as "recorded" or "suppressed".
func (c *Collector) RecordAlert(recorded bool) {
	if c == nil {
		return
	}
	outcome := "suppressed"
	if recorded {
		outcome = "recorded"
	}
	c.alerts.WithLabelValues(outcome).Inc()
}

// RecordNotification counts one channel attempt.
func (c *Collector) RecordNotification(channel string, sent bool) {
	if c == nil {
		return
	}
	result := "not_sent"
	if sent {
		result = "sent"
	}
	c.notifications.WithLabelValues(channel, result).Inc()
}

// SetSpend publishes a budget's current-window spend.
func (c *Collector) SetSpend(budget string, amount float64) {
	if c == nil {
		return
	}
	c.spend.WithLabelValues(budget).Set(amount)
}
