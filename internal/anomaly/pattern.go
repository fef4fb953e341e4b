package anomaly

import (
	"fmt"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/ring"
)

type dayHour struct {
	day  int
	hour int
}

type acc struct {
	sum float64
	n   int
}

func (a acc) mean() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

// detectPattern looks for an hour of day whose failure rate sits well above the series
// mean on several distinct days. No pattern is the normal result.
func (e *Engine) detectPattern(provider, country string, buf *ring.Buffer[Point]) (raised, bool) {
	if buf.Len() < e.cfg.PatternMinSamples {
		return raised{}, false
	}

	cells := make(map[dayHour]acc)
	days := make(map[int]struct{})
	var overall acc
	buf.Each(func(_ int, p Point) bool {
		local := p.Timestamp.In(e.loc)
		day := local.Year()*1000 + local.YearDay()
		k := dayHour{day: day, hour: local.Hour()}
		c := cells[k]
		c.sum += p.FailureRatePercent
		c.n++
		cells[k] = c
		days[day] = struct{}{}
		overall.sum += p.FailureRatePercent
		overall.n++
		return true
	})
	if len(days) < e.cfg.PatternMinDays {
		return raised{}, false
	}

	threshold := overall.mean() + e.cfg.PatternSpikeDelta
	var occurrences [24]int
	var level [24]float64
	for k, c := range cells {
		if m := c.mean(); m > threshold {
			occurrences[k.hour]++
			level[k.hour] += m
		}
	}

	best := -1
	for h := range 24 {
		if occurrences[h] >= e.cfg.PatternMinDays && (best < 0 || occurrences[h] > occurrences[best]) {
			best = h
		}
	}
	if best < 0 {
		return raised{}, false
	}

	occ := occurrences[best]
	msg := fmt.Sprintf("%s in %s shows recurring failure spikes around %02d:00 %s on %d of %d days (%.1f%% vs %.1f%% overall)",
		provider, country, best, e.loc, occ, len(days), level[best]/float64(occ), overall.mean())
	actions := []string{
		fmt.Sprintf("Route %s traffic away from %s between %02d:00 and %02d:00", country, provider, best, (best+1)%24),
		fmt.Sprintf("Ask %s about scheduled maintenance or batch jobs at that hour", provider),
	}
	confidence := min(20+10*float64(occ), 60)
	return e.newAlert(CategoryFailurePattern, SeverityWarning, SignalDailyPattern, provider, country, msg, confidence, actions), true
}
