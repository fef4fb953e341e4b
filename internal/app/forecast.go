package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
)

// Forecast restores persisted metric points for one series and exports its capacity forecast.
func (a *App) Forecast(ctx context.Context, opts ForecastOptions) error {
	if opts.Provider == "" || opts.Country == "" {
		return errors.New("--provider and --country are required")
	}
	if opts.Hours <= 0 || opts.Hours > a.Config.Anomaly.ForecastMaxHours {
		return fmt.Errorf("--hours must be between 1 and %d", a.Config.Anomaly.ForecastMaxHours)
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "forecast")
	if err != nil {
		return err
	}
	defer closeStore()

	since := time.Now().UTC().Add(-a.Config.Anomaly.HistoryMaxAge)
	if opts.Since != nil {
		since = opts.Since.UTC()
	}

	records, err := store.ListMetricPoints(ctx, strings.ToLower(opts.Provider), strings.ToUpper(opts.Country), since, opts.MaxPoints)
	if err != nil {
		return err
	}
	history := make([]anomaly.Point, 0, len(records))
	for _, r := range records {
		history = append(history, anomaly.Point{
			Timestamp:          r.Bucket,
			FailureRatePercent: r.FailureRatePct,
			LatencyMs:          r.LatencyMs,
			Volume:             r.Volume,
		})
	}

	// The forecast starts from the newest restored point, or now without history.
	origin := time.Now().UTC()
	if len(history) > 0 {
		origin = history[len(history)-1].Timestamp
	}
	engine := anomaly.New(a.Config.Anomaly, anomaly.Options{Metrics: metrics.NoOpCollector{}, Now: func() time.Time { return origin }})
	engine.Restore(opts.Provider, opts.Country, history)
	forecast := engine.GetCapacityForecast(opts.Provider, opts.Country, opts.Hours)

	a.Logger.Info().
		Int("history", len(history)).
		Int("hours", len(forecast)).
		Str("provider", opts.Provider).
		Str("country", opts.Country).
		Msg("capacity forecast computed")

	if opts.CSVPath != "" {
		if err := writeForecastCSV(opts.CSVPath, forecast); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeForecastPNG(opts.PNGPath, downsamplePoints(history, opts.MaxPoints), forecast); err != nil {
			return err
		}
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		a.printForecast(forecast)
	}
	return nil
}

func (a *App) printForecast(points []anomaly.ForecastPoint) {
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Hour (UTC)\tPredicted\tLower\tUpper\tFactors")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%s\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			p.PredictedVolume,
			p.ConfidenceInterval.Lower,
			p.ConfidenceInterval.Upper,
			strings.Join(p.Factors, ","),
		)
	}
	w.Flush()
}

func downsamplePoints(points []anomaly.Point, limit int) []anomaly.Point {
	if limit <= 1 || len(points) <= limit {
		return points
	}

	result := make([]anomaly.Point, 0, limit)
	step := float64(len(points)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		idx := min(int(math.Round(step*float64(i))), len(points)-1)
		result = append(result, points[idx])
	}
	return result
}

func writeForecastCSV(path string, points []anomaly.ForecastPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"hour_ts", "predicted_volume", "lower", "upper", "factors"}); err != nil {
		return err
	}
	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.PredictedVolume, 'f', 2, 64),
			strconv.FormatFloat(p.ConfidenceInterval.Lower, 'f', 2, 64),
			strconv.FormatFloat(p.ConfidenceInterval.Upper, 'f', 2, 64),
			strings.Join(p.Factors, ";"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeForecastPNG(path string, history []anomaly.Point, forecast []anomaly.ForecastPoint) error {
	if len(history) < 2 && len(forecast) < 2 {
		return errors.New("not enough points to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	var series []chart.Series
	if len(history) >= 2 {
		x := make([]time.Time, len(history))
		y := make([]float64, len(history))
		for i, p := range history {
			x[i] = p.Timestamp
			y[i] = float64(p.Volume)
		}
		series = append(series, chart.TimeSeries{Name: "Observed volume", XValues: x, YValues: y})
	}

	if len(forecast) >= 2 {
		x := make([]time.Time, len(forecast))
		predicted := make([]float64, len(forecast))
		lower := make([]float64, len(forecast))
		upper := make([]float64, len(forecast))
		for i, p := range forecast {
			x[i] = p.Timestamp
			predicted[i] = p.PredictedVolume
			lower[i] = p.ConfidenceInterval.Lower
			upper[i] = p.ConfidenceInterval.Upper
		}
		band := chart.Style{StrokeColor: drawing.ColorFromHex("9e9e9e"), StrokeDashArray: []float64{4, 4}}
		series = append(series,
			chart.TimeSeries{Name: "Forecast", XValues: x, YValues: predicted},
			chart.TimeSeries{Name: "Upper bound", XValues: x, YValues: upper, Style: band},
			chart.TimeSeries{Name: "Lower bound", XValues: x, YValues: lower, Style: band},
		)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Payments per hour",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := graph.Render(chart.PNG, file); err != nil {
		return fmt.Errorf("render forecast chart: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
