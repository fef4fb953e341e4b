package anomaly

import (
	"math"
	"sort"
	"time"
)

// Interval is a symmetric-ish band around a prediction. Lower never drops below zero.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastPoint is the predicted volume for one future hour.
type ForecastPoint struct {
	Timestamp          time.Time `json:"timestamp"`
	PredictedVolume    float64   `json:"predictedVolume"`
	ConfidenceInterval Interval  `json:"confidenceInterval"`
	Factors            []string  `json:"factors"`
}

const (
	FactorHistoricalAverage = "historical average"
	FactorRecentTrend       = "recent trend"
	FactorTimeOfDay         = "time of day"
	FactorSparseHistory     = "sparse history"
	FactorNoHistory         = "no history"
)

type hourBucket struct {
	start  time.Time
	volume float64
}

// GetCapacityForecast projects hourly volume for the next horizonHours hours. The horizon is
// not capped here; ForecastMaxHours bounds what the CLI and HTTP API accept. Sparse history
// widens the intervals and no history yields the band [0, ForecastPriorUpper].
func (e *Engine) GetCapacityForecast(provider, country string, horizonHours int) []ForecastPoint {
	hours := max(horizonHours, 0)
	out := make([]ForecastPoint, 0, hours)
	if hours == 0 {
		return out
	}

	buckets := hourly(e.History(provider, country), e.loc)
	start := e.now().In(e.loc).Truncate(time.Hour)

	if len(buckets) == 0 {
		for i := 1; i <= hours; i++ {
			out = append(out, ForecastPoint{
				Timestamp:          start.Add(time.Duration(i) * time.Hour),
				ConfidenceInterval: Interval{Lower: 0, Upper: e.cfg.ForecastPriorUpper},
				Factors:            []string{FactorNoHistory},
			})
		}
		return out
	}

	m := fitModel(buckets, e.loc, e.cfg.ForecastMinHours)
	for i := 1; i <= hours; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		predicted := m.predict(at)

		var half float64
		if m.sparse {
			half = max(predicted, m.mean, 1) + 2*m.residualSD
		} else {
			half = 1.96 * m.residualSD * math.Sqrt(1+1/float64(m.n)) * math.Sqrt(1+float64(i)/24)
		}
		out = append(out, ForecastPoint{
			Timestamp:          at,
			PredictedVolume:    predicted,
			ConfidenceInterval: Interval{Lower: max(predicted-half, 0), Upper: predicted + half},
			Factors:            m.factors(),
		})
	}
	return out
}

// hourly sums point volumes into local-hour buckets, oldest first.
func hourly(points []Point, loc *time.Location) []hourBucket {
	sums := make(map[int64]float64)
	for _, p := range points {
		h := p.Timestamp.In(loc).Truncate(time.Hour).Unix()
		sums[h] += float64(p.Volume)
	}
	out := make([]hourBucket, 0, len(sums))
	for h, v := range sums {
		out = append(out, hourBucket{start: time.Unix(h, 0).In(loc), volume: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

type model struct {
	n          int
	mean       float64
	origin     time.Time
	trend      bool
	slope      float64
	intercept  float64
	seasonal   bool
	hourFactor [24]float64
	residualSD float64
	sparse     bool
	loc        *time.Location
}

func fitModel(b []hourBucket, loc *time.Location, minHours int) model {
	m := model{n: len(b), origin: b[0].start, loc: loc, sparse: len(b) < minHours}
	for _, x := range b {
		m.mean += x.volume
	}
	m.mean /= float64(m.n)
	m.intercept = m.mean

	if m.n >= 3 {
		var sx, sy, sxx, sxy float64
		for _, x := range b {
			h := x.start.Sub(m.origin).Hours()
			sx += h
			sy += x.volume
			sxx += h * h
			sxy += h * x.volume
		}
		n := float64(m.n)
		if den := n*sxx - sx*sx; den != 0 {
			m.slope = (n*sxy - sx*sy) / den
			m.intercept = (sy - m.slope*sx) / n
			m.trend = true
		}
	}

	span := b[len(b)-1].start.Sub(b[0].start)
	if !m.sparse && span >= 24*time.Hour && m.mean > 0 {
		var per [24]acc
		for _, x := range b {
			h := x.start.In(loc).Hour()
			per[h].sum += x.volume
			per[h].n++
		}
		for h := range 24 {
			m.hourFactor[h] = 1
			if per[h].n > 0 {
				m.hourFactor[h] = per[h].mean() / m.mean
			}
		}
		m.seasonal = true
	}

	var ss float64
	for _, x := range b {
		r := x.volume - m.predict(x.start)
		ss += r * r
	}
	m.residualSD = math.Sqrt(ss / float64(m.n))
	return m
}

func (m model) predict(at time.Time) float64 {
	v := m.intercept + m.slope*at.Sub(m.origin).Hours()
	if m.seasonal {
		v *= m.hourFactor[at.In(m.loc).Hour()]
	}
	return max(v, 0)
}

func (m model) factors() []string {
	f := []string{FactorHistoricalAverage}
	if m.trend {
		f = append(f, FactorRecentTrend)
	}
	if m.seasonal {
		f = append(f, FactorTimeOfDay)
	}
	if m.sparse {
		f = append(f, FactorSparseHistory)
	}
	return f
}
