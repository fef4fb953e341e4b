// Package metrics defines the instrumentation hooks exposed by the decision engines.
// Implementations can export to any backend; NoOpCollector is the default.
package metrics

import "time"

// Collector receives decision-level events from the engines and the dispatcher.
type Collector interface {
	// Risk
	RecordRiskDecision(decision, level string, score int)
	RecordRuleTriggered(rule string)

	// Routing
	RecordRouting(provider, priority string, fallback bool)
	RecordOutcome(provider, country string, success bool, latency time.Duration)

	// Anomaly
	RecordMetricPoint(provider, country string, failureRatePct float64)
	RecordAlert(category, severity string)
	RecordActiveAlerts(count int)

	// Query
	RecordQuery(action string, rows int, duration time.Duration)
}

// NoOpCollector discards every event.
type NoOpCollector struct{}

// RecordRiskDecision does nothing.
func (NoOpCollector) RecordRiskDecision(decision, level string, score int) {}

// RecordRuleTriggered does nothing.
func (NoOpCollector) RecordRuleTriggered(rule string) {}

// RecordRouting does nothing.
func (NoOpCollector) RecordRouting(provider, priority string, fallback bool) {}

// RecordOutcome does nothing.
func (NoOpCollector) RecordOutcome(provider, country string, success bool, latency time.Duration) {}

// RecordMetricPoint does nothing.
func (NoOpCollector) RecordMetricPoint(provider, country string, failureRatePct float64) {}

// RecordAlert does nothing.
func (NoOpCollector) RecordAlert(category, severity string) {}

// RecordActiveAlerts does nothing.
func (NoOpCollector) RecordActiveAlerts(count int) {}

// RecordQuery does nothing.
func (NoOpCollector) RecordQuery(action string, rows int, duration time.Duration) {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}

var _ Collector = NoOpCollector{}
