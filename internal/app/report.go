package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// Report replays persisted outcomes into a fresh routing engine and prints its performance table.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	store, closeStore, err := a.requireStore(ctx, "build report")
	if err != nil {
		return err
	}
	defer closeStore()

	since := opts.Since
	if since.IsZero() {
		since = time.Now().UTC().Add(-24 * time.Hour)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Database.QueryLimit
	}

	outcomes, err := store.ListOutcomesSince(ctx, since, limit)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Fprintln(a.Out, "no outcomes found")
		return nil
	}

	engine := replayOutcomes(a.Config.Routing, outcomes)
	a.Logger.Info().Int("outcomes", len(outcomes)).Time("since", since).Msg("replayed provider outcomes")
	a.printPerformance(engine.PerformanceReport())
	return nil
}

func replayOutcomes(cfg routing.Config, outcomes []storage.OutcomeRecord) *routing.Engine {
	engine := routing.New(cfg, routing.Options{Metrics: metrics.NoOpCollector{}})
	for _, o := range outcomes {
		engine.RecordOutcome(routing.Outcome{
			Provider:  o.Provider,
			Country:   o.Country,
			Success:   o.Success,
			LatencyMs: o.LatencyMs,
			Cost:      o.Cost,
			At:        o.RecordedAt,
		})
	}
	engine.Learn()
	return engine
}

func (a *App) printPerformance(entries []routing.PerformanceEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no provider performance recorded")
		return
	}
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Provider\tCountry\tSuccess%\tAvg latency (ms)\tAvg cost\tTransactions\tUpdated (UTC)")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.0f\t%.2f\t%d\t%s\n",
			e.Provider,
			e.Country,
			e.SuccessRate,
			e.AvgLatencyMs,
			e.AvgCost,
			e.TotalTransactions,
			e.LastUpdated.UTC().Format(time.RFC3339),
		)
	}
	w.Flush()
}
