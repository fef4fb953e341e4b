package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// Alerts prints recently persisted alerts.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSeverity\tCategory\tSignal\tProviders\tCountry\tExpires\tMessage")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Severity,
			r.Category,
			r.Signal,
			strings.Join(r.Providers, ","),
			r.Country,
			r.ExpiresAt.UTC().Format(time.RFC3339),
			sanitizeInline(r.Message),
		)
	}

	writer.Flush()
	return nil
}
