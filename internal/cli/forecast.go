package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/app"
)

var (
	forecastProvider  string
	forecastCountry   string
	forecastHours     int
	forecastSince     string
	forecastPNGPath   string
	forecastCSVPath   string
	forecastMaxPoints int
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast hourly volume for one provider and country",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ForecastOptions{
			Provider:  forecastProvider,
			Country:   forecastCountry,
			Hours:     forecastHours,
			PNGPath:   forecastPNGPath,
			CSVPath:   forecastCSVPath,
			MaxPoints: forecastMaxPoints,
		}

		if forecastSince != "" {
			since, err := parseSince(forecastSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = &since
		}

		return getApp().Forecast(cmd.Context(), opts)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastProvider, "provider", "", "Provider name, e.g. mpesa")
	forecastCmd.Flags().StringVar(&forecastCountry, "country", "", "ISO country code, e.g. KE")
	forecastCmd.Flags().IntVar(&forecastHours, "hours", 24, "Forecast horizon in hours (at most anomaly.forecast_max_hours)")
	forecastCmd.Flags().StringVar(&forecastSince, "since", "", "History start: RFC3339 timestamp or duration ago")
	forecastCmd.Flags().StringVar(&forecastPNGPath, "png", "", "Path to write PNG chart")
	forecastCmd.Flags().StringVar(&forecastCSVPath, "csv", "", "Path to write CSV data")
	forecastCmd.Flags().IntVar(&forecastMaxPoints, "max-points", 0, "Maximum history points to load (defaults to config)")
}
