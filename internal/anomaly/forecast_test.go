package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyPoints(n int, volume func(i int) int64) []Point {
	points := make([]Point, 0, n)
	for i := range n {
		points = append(points, Point{
			Timestamp:          base.Add(time.Duration(i) * time.Hour),
			FailureRatePercent: 2,
			LatencyMs:          1_000,
			Volume:             volume(i),
		})
	}
	return points
}

func TestForecastHorizonCount(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	e.Restore("mpesa", "KE", hourlyPoints(30, func(int) int64 { return 100 }))
	clk.Set(base.Add(29*time.Hour + 20*time.Minute))

	got := e.GetCapacityForecast("mpesa", "KE", 24)
	require.Len(t, got, 24)
	for i, p := range got {
		assert.Equal(t, base.Add(time.Duration(30+i)*time.Hour), p.Timestamp)
	}

	assert.Empty(t, e.GetCapacityForecast("mpesa", "KE", 0))
	assert.Empty(t, e.GetCapacityForecast("mpesa", "KE", -3))
	assert.Len(t, e.GetCapacityForecast("mpesa", "KE", 500), 500)
}

func TestForecastWithoutHistory(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	got := e.GetCapacityForecast("unknown", "ZZ", 6)
	require.Len(t, got, 6)
	for _, p := range got {
		assert.Zero(t, p.PredictedVolume)
		assert.Equal(t, []string{FactorNoHistory}, p.Factors)
		assert.Zero(t, p.ConfidenceInterval.Lower)
		assert.Equal(t, DefaultConfig().ForecastPriorUpper, p.ConfidenceInterval.Upper)
		assert.Greater(t, p.ConfidenceInterval.Upper, p.PredictedVolume)
	}
}

func TestForecastSparseHistoryIsWide(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	e.Restore("mpesa", "KE", hourlyPoints(3, func(i int) int64 { return int64(80 + 10*i) }))
	clk.Set(base.Add(2 * time.Hour))

	got := e.GetCapacityForecast("mpesa", "KE", 4)
	require.Len(t, got, 4)
	for _, p := range got {
		assert.Contains(t, p.Factors, FactorSparseHistory)
		assert.GreaterOrEqual(t, p.ConfidenceInterval.Upper, 2*p.PredictedVolume)
		assert.GreaterOrEqual(t, p.ConfidenceInterval.Lower, 0.0)
		assert.LessOrEqual(t, p.ConfidenceInterval.Lower, p.PredictedVolume)
	}
}

func TestForecastSteadyVolume(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	e.Restore("mpesa", "KE", hourlyPoints(48, func(int) int64 { return 100 }))
	clk.Set(base.Add(47*time.Hour + 30*time.Minute))

	got := e.GetCapacityForecast("mpesa", "KE", 12)
	require.Len(t, got, 12)
	for _, p := range got {
		assert.InDelta(t, 100, p.PredictedVolume, 1e-6)
		assert.InDelta(t, 100, p.ConfidenceInterval.Lower, 1e-6)
		assert.InDelta(t, 100, p.ConfidenceInterval.Upper, 1e-6)
		assert.Contains(t, p.Factors, FactorHistoricalAverage)
		assert.Contains(t, p.Factors, FactorTimeOfDay)
		assert.NotContains(t, p.Factors, FactorSparseHistory)
	}
}

func TestForecastFollowsTrend(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	e.Restore("mpesa", "KE", hourlyPoints(20, func(i int) int64 { return int64(10 * i) }))
	clk.Set(base.Add(19*time.Hour + 30*time.Minute))

	got := e.GetCapacityForecast("mpesa", "KE", 2)
	require.Len(t, got, 2)
	assert.InDelta(t, 200, got[0].PredictedVolume, 1e-6)
	assert.InDelta(t, 210, got[1].PredictedVolume, 1e-6)
	assert.Contains(t, got[0].Factors, FactorRecentTrend)
	assert.NotContains(t, got[0].Factors, FactorTimeOfDay)
}

func TestForecastSumsPointsPerHour(t *testing.T) {
	e, clk := newTestEngine(t, func(c *Config) { c.ForecastMinHours = 1 })
	var points []Point
	for i := range 4 * 60 {
		points = append(points, Point{Timestamp: base.Add(time.Duration(i) * time.Minute), Volume: 5})
	}
	e.Restore("mpesa", "KE", points)
	clk.Set(base.Add(4 * time.Hour))

	got := e.GetCapacityForecast("mpesa", "KE", 1)
	require.Len(t, got, 1)
	assert.InDelta(t, 300, got[0].PredictedVolume, 1e-6)
}
