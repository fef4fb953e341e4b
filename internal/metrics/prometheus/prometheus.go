package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
)

// Collector implements metrics.Collector on top of Prometheus vectors.
type Collector struct {
	riskDecisions *prometheus.CounterVec
	riskScore     prometheus.Histogram
	ruleTriggers  *prometheus.CounterVec

	routingDecisions *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	outcomeLatency   *prometheus.HistogramVec

	failureRate  *prometheus.GaugeVec
	alerts       *prometheus.CounterVec
	activeAlerts prometheus.Gauge

	queries      *prometheus.CounterVec
	queryLatency prometheus.Histogram
}

// NewCollector creates the collector under the given namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		riskDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_decisions_total",
				Help:      "Risk decisions by outcome and level",
			},
			[]string{"decision", "level"},
		),
		riskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "risk_score",
				Help:      "Distribution of computed risk scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
		),
		ruleTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "risk_rule_triggers_total",
				Help:      "Number of times each risk rule fired",
			},
			[]string{"rule"},
		),
		routingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Provider selections by provider and priority",
			},
			[]string{"provider", "priority", "fallback"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_outcomes_total",
				Help:      "Provider call outcomes",
			},
			[]string{"provider", "country", "status"},
		),
		outcomeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Provider call latency",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"provider"},
		),
		failureRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_failure_rate_percent",
				Help:      "Last recorded failure rate per provider and country",
			},
			[]string{"provider", "country"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by category and severity",
			},
			[]string{"category", "severity"},
		),
		activeAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alerts_active",
				Help:      "Alerts currently active",
			},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Natural-language queries executed by action",
			},
			[]string{"action"},
		),
		queryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Query execution latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (c *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.riskDecisions,
		c.riskScore,
		c.ruleTriggers,
		c.routingDecisions,
		c.outcomes,
		c.outcomeLatency,
		c.failureRate,
		c.alerts,
		c.activeAlerts,
		c.queries,
		c.queryLatency,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordRiskDecision counts a risk decision and observes its score.
func (c *Collector) RecordRiskDecision(decision, level string, score int) {
	c.riskDecisions.WithLabelValues(decision, level).Inc()
	c.riskScore.Observe(float64(score))
}

// RecordRuleTriggered counts a fired rule.
func (c *Collector) RecordRuleTriggered(rule string) {
	c.ruleTriggers.WithLabelValues(rule).Inc()
}

// RecordRouting counts a provider selection.
func (c *Collector) RecordRouting(provider, priority string, fallback bool) {
	c.routingDecisions.WithLabelValues(provider, priority, strconv.FormatBool(fallback)).Inc()
}

// RecordOutcome counts a provider outcome and observes latency.
func (c *Collector) RecordOutcome(provider, country string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.outcomes.WithLabelValues(provider, country, status).Inc()
	c.outcomeLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordMetricPoint tracks the last failure rate fed to anomaly detection.
func (c *Collector) RecordMetricPoint(provider, country string, failureRatePct float64) {
	c.failureRate.WithLabelValues(provider, country).Set(failureRatePct)
}

// RecordAlert counts a raised alert.
func (c *Collector) RecordAlert(category, severity string) {
	c.alerts.WithLabelValues(category, severity).Inc()
}

// RecordActiveAlerts sets the active alert gauge.
func (c *Collector) RecordActiveAlerts(count int) {
	c.activeAlerts.Set(float64(count))
}

// RecordQuery counts a query and observes its latency.
func (c *Collector) RecordQuery(action string, rows int, duration time.Duration) {
	c.queries.WithLabelValues(action).Inc()
	c.queryLatency.Observe(duration.Seconds())
}

var _ metrics.Collector = (*Collector)(nil)
