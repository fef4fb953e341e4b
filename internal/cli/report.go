package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/app"
)

var (
	reportSince string
	reportLimit int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print provider performance learned from persisted outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{Limit: reportLimit}
		if reportSince != "" {
			since, err := parseSince(reportSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = since
		}
		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSince, "since", "", "RFC3339 timestamp or duration ago, e.g. 6h (default 24h)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "Maximum outcomes to replay (defaults to database.query_limit)")
}

// parseSince accepts either an RFC3339 timestamp or a duration before now.
func parseSince(v string) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}
