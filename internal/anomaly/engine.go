// Package anomaly watches per-provider, per-country metric streams for spikes, capacity
// pressure and recurring daily failure patterns, and forecasts hourly volume.
package anomaly

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/ring"
)

// Point is one aggregated metric sample. A zero Timestamp is stamped with the engine clock.
type Point struct {
	Timestamp          time.Time `json:"timestamp"`
	FailureRatePercent float64   `json:"failureRatePercent"`
	LatencyMs          float64   `json:"latencyMs"`
	Volume             int64     `json:"volume"`
}

// Options carries injected collaborators. OnAlert is called for every newly raised alert,
// outside any engine lock.
type Options struct {
	Logger  zerolog.Logger
	Metrics metrics.Collector
	Now     func() time.Time
	OnAlert func(Alert)
}

type seriesKey struct {
	provider string
	country  string
}

type series struct {
	mu     sync.Mutex
	points *ring.Buffer[Point]
}

// Engine owns the metric histories and the active alert set.
type Engine struct {
	cfg     Config
	loc     *time.Location
	logger  zerolog.Logger
	metrics metrics.Collector
	now     func() time.Time
	onAlert func(Alert)

	mu     sync.RWMutex
	series map[seriesKey]*series

	alerts *alertSet
}

// New builds an engine with empty histories.
func New(cfg Config, opts Options) *Engine {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 1
	}
	if cfg.ForecastPriorUpper <= 0 {
		cfg.ForecastPriorUpper = DefaultConfig().ForecastPriorUpper
	}
	return &Engine{
		cfg:     cfg,
		loc:     loc,
		logger:  opts.Logger.With().Str("component", "anomaly_engine").Logger(),
		metrics: metrics.OrNoOp(opts.Metrics),
		now:     now,
		onAlert: opts.OnAlert,
		series:  make(map[seriesKey]*series),
		alerts:  newAlertSet(cfg.MaxAlerts),
	}
}

// raised is a detector result waiting to be admitted to the alert set.
type raised struct {
	key   dedupeKey
	alert Alert
}

// RecordMetrics appends p to the (provider, country) history, runs the detectors and
// returns the alerts it newly raised.
func (e *Engine) RecordMetrics(provider, country string, p Point) []Alert {
	provider, country = normalizeKey(provider, country)
	if p.Timestamp.IsZero() {
		p.Timestamp = e.now()
	}
	p = sanitize(p)
	e.metrics.RecordMetricPoint(provider, country, p.FailureRatePercent)

	s := e.seriesFor(provider, country)
	s.mu.Lock()
	e.appendLocked(s, p)
	found := e.detectSpikes(provider, country, s.points)
	if crossedHour(s.points, e.loc) {
		if r, ok := e.detectPattern(provider, country, s.points); ok {
			found = append(found, r)
		}
	}
	s.mu.Unlock()

	return e.admit(found)
}

// Restore loads historical points without running detection. Points must be in time order.
func (e *Engine) Restore(provider, country string, points []Point) {
	provider, country = normalizeKey(provider, country)
	s := e.seriesFor(provider, country)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if p.Timestamp.IsZero() {
			continue
		}
		e.appendLocked(s, sanitize(p))
	}
}

// History returns a copy of the retained points, oldest first.
func (e *Engine) History(provider, country string) []Point {
	provider, country = normalizeKey(provider, country)
	e.mu.RLock()
	s := e.series[seriesKey{provider, country}]
	e.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points.Snapshot()
}

// GetActiveAlerts returns unexpired alerts matching f, newest first.
func (e *Engine) GetActiveAlerts(f AlertFilter) []Alert {
	f.Provider = strings.ToLower(strings.TrimSpace(f.Provider))
	now := e.now()
	out := e.alerts.active(f, now)
	e.metrics.RecordActiveAlerts(e.alerts.count(now))
	return out
}

// DismissAlert removes the alert and reports whether it was active.
func (e *Engine) DismissAlert(id string) bool {
	ok := e.alerts.remove(id, e.now())
	if ok {
		e.logger.Info().Str("alert_id", id).Msg("alert dismissed")
	}
	return ok
}

func (e *Engine) seriesFor(provider, country string) *series {
	key := seriesKey{provider, country}
	e.mu.RLock()
	s := e.series[key]
	e.mu.RUnlock()
	if s != nil {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s = e.series[key]; s == nil {
		s = &series{points: ring.New[Point](e.cfg.HistoryCapacity)}
		e.series[key] = s
	}
	return s
}

// appendLocked evicts points older than the retention window measured from p, then pushes p.
func (e *Engine) appendLocked(s *series, p Point) {
	cutoff := p.Timestamp.Add(-e.cfg.HistoryMaxAge)
	s.points.EvictWhile(func(old Point) bool { return old.Timestamp.Before(cutoff) })
	s.points.Push(p)
}

func (e *Engine) admit(found []raised) []Alert {
	if len(found) == 0 {
		return nil
	}
	now := e.now()
	var created []Alert
	for _, r := range found {
		if !e.alerts.add(r.key, r.alert, now) {
			continue
		}
		created = append(created, r.alert)
		e.metrics.RecordAlert(string(r.alert.Category), string(r.alert.Severity))
		e.logger.Info().
			Str("alert_id", r.alert.ID).
			Str("category", string(r.alert.Category)).
			Str("severity", string(r.alert.Severity)).
			Str("provider", r.key.provider).
			Str("country", r.key.country).
			Msg(r.alert.Message)
	}
	if len(created) > 0 {
		e.metrics.RecordActiveAlerts(e.alerts.count(now))
	}
	if e.onAlert != nil {
		for _, a := range created {
			e.onAlert(a)
		}
	}
	return created
}

func (e *Engine) newAlert(cat Category, sev Severity, sig Signal, provider, country, msg string, confidence float64, actions []string) raised {
	now := e.now()
	return raised{
		key: dedupeKey{signal: sig, severity: sev, provider: provider, country: country},
		alert: Alert{
			ID:                 uuid.NewString(),
			Category:           cat,
			Severity:           sev,
			Signal:             sig,
			Message:            msg,
			Confidence:         min(max(confidence, 0), 100),
			RecommendedActions: actions,
			AffectedProviders:  []string{provider},
			Country:            country,
			CreatedAt:          now,
			ExpiresAt:          now.Add(e.cfg.AlertTTL),
		},
	}
}

type windowMeans struct {
	failure float64
	latency float64
	volume  float64
}

func meanRange(buf *ring.Buffer[Point], from, to int) windowMeans {
	var m windowMeans
	n := float64(to - from)
	if n <= 0 {
		return m
	}
	for i := from; i < to; i++ {
		p := buf.At(i)
		m.failure += p.FailureRatePercent
		m.latency += p.LatencyMs
		m.volume += float64(p.Volume)
	}
	m.failure /= n
	m.latency /= n
	m.volume /= n
	return m
}

// detectSpikes compares the recent window with the points immediately preceding it.
func (e *Engine) detectSpikes(provider, country string, buf *ring.Buffer[Point]) []raised {
	n := buf.Len()
	if n < e.cfg.RecentWindow+e.cfg.MinBaseline {
		return nil
	}
	recentStart := n - e.cfg.RecentWindow
	baseStart := max(recentStart-e.cfg.BaselineWindow, 0)
	recent := meanRange(buf, recentStart, n)
	base := meanRange(buf, baseStart, recentStart)

	var out []raised

	if delta := recent.failure - base.failure; delta > e.cfg.FailureWarningDelta {
		sev := SeverityWarning
		actions := []string{
			fmt.Sprintf("Route new %s traffic to alternative providers", country),
			fmt.Sprintf("Check %s status page and API error logs", provider),
		}
		if delta > e.cfg.FailureCriticalDelta {
			sev = SeverityCritical
			actions = append(actions, fmt.Sprintf("Pause %s for %s until the failure rate recovers", provider, country))
		}
		msg := fmt.Sprintf("%s failure rate in %s rose to %.1f%% from a %.1f%% baseline (+%.1f points)",
			provider, country, recent.failure, base.failure, delta)
		out = append(out, e.newAlert(CategoryFailurePattern, sev, SignalFailureRate, provider, country, msg, 60+delta/2, actions))
	}

	if base.latency > 0 {
		if pct := (recent.latency - base.latency) / base.latency * 100; pct > e.cfg.LatencyWarningPct {
			sev := SeverityWarning
			if pct > e.cfg.LatencyCriticalPct {
				sev = SeverityCritical
			}
			msg := fmt.Sprintf("%s latency in %s rose to %.0fms from a %.0fms baseline (+%.0f%%)",
				provider, country, recent.latency, base.latency, pct)
			actions := []string{
				fmt.Sprintf("Increase client timeouts for %s", provider),
				"Prefer faster providers with speed priority routing",
			}
			out = append(out, e.newAlert(CategoryAnomaly, sev, SignalLatency, provider, country, msg, 55+pct/10, actions))
		}
	}

	if base.volume > 0 {
		if ratio := recent.volume / base.volume; ratio > e.cfg.CapacityWarningMultiple {
			sev := SeverityWarning
			if ratio > e.cfg.CapacityCriticalMultiple {
				sev = SeverityCritical
			}
			msg := fmt.Sprintf("high volume for %s in %s: %.1f per interval is %.1fx the %.1f baseline",
				provider, country, recent.volume, ratio, base.volume)
			actions := []string{
				"Scale up dispatcher and worker capacity",
				fmt.Sprintf("Raise rate limits and pre-warm connections to %s", provider),
				"Spread load across alternative providers",
			}
			out = append(out, e.newAlert(CategoryCapacity, sev, SignalVolume, provider, country, msg, 50+ratio*5, actions))
		}
	}
	return out
}

// crossedHour reports whether the newest point opened a new local hour.
func crossedHour(buf *ring.Buffer[Point], loc *time.Location) bool {
	n := buf.Len()
	if n < 2 {
		return false
	}
	last := buf.At(n - 1).Timestamp.In(loc).Truncate(time.Hour)
	prev := buf.At(n - 2).Timestamp.In(loc).Truncate(time.Hour)
	return !last.Equal(prev)
}

func normalizeKey(provider, country string) (string, string) {
	return strings.ToLower(strings.TrimSpace(provider)), payments.NormalizeCountry(country)
}

func sanitize(p Point) Point {
	p.FailureRatePercent = min(max(p.FailureRatePercent, 0), 100)
	p.LatencyMs = max(p.LatencyMs, 0)
	p.Volume = max(p.Volume, 0)
	return p
}
