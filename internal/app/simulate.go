package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/simulate"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// Simulate runs Count synthetic payments on a virtual clock and prints what the engines made of them.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Count <= 0 {
		return errors.New("count must be greater than zero")
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC().Add(-time.Duration(opts.Count/max(opts.PerBucket, 1)) * a.Config.Scheduler.Interval)
	}
	clock := simulate.NewClock(start)

	memory := storage.NewMemoryStore(max(opts.Count, a.Config.Database.QueryLimit))
	st := fromMemory(memory)
	if opts.Persist {
		store, closeStore, err := a.requireStore(ctx, "persist simulation")
		if err != nil {
			return err
		}
		defer closeStore()
		st = fromStore(store)
		// Simulated buckets always flush.
		st.locker = nil
	}

	queue := service.NewAlertQueue(a.Config.Alerting.QueueSize, a.Logger)
	eng := a.newEngines(clock.Now, metrics.NoOpCollector{}, queue.Enqueue)
	seed := opts.Seed
	if seed == 0 {
		seed = a.Config.Simulation.Seed
	}
	exec := simulate.NewExecutor(seed, a.Config.Routing.Providers, a.degradation(start, opts.Degrade)...)

	svc, err := a.newService(eng, exec, queue, st, clock.Now)
	if err != nil {
		return err
	}

	summary, err := simulate.Drive(ctx, svc, a.newGenerator(seed), simulate.DriveOptions{
		Start:     start,
		Count:     opts.Count,
		PerBucket: opts.PerBucket,
		Bucket:    a.Config.Scheduler.Interval,
		Clock:     clock,
	})
	if err != nil {
		return err
	}

	if opts.CSVPath != "" {
		if opts.Persist {
			a.Logger.Warn().Msg("--csv ignored with --persist; query the database instead")
		} else if err := writeTransactionsCSV(opts.CSVPath, memory.Transactions()); err != nil {
			return err
		}
	}

	a.printSimulation(summary, exec.Calls(), eng)
	return nil
}

func (a *App) printSimulation(summary simulate.DriveSummary, calls []simulate.CallCount, eng engines) {
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Simulated %d payments over %d buckets (until %s)\n\n", summary.Processed, summary.Buckets, summary.End.Format(time.RFC3339))

	fmt.Fprintln(w, "Decision\tCount")
	for _, d := range []risk.Decision{risk.DecisionAllow, risk.DecisionReview, risk.DecisionBlock} {
		fmt.Fprintf(w, "%s\t%d\n", d, summary.Decisions[d])
	}
	fmt.Fprintln(w)

	statuses := make([]string, 0, len(summary.Statuses))
	for s := range summary.Statuses {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	fmt.Fprintln(w, "Status\tCount")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", s, summary.Statuses[payments.Status(s)])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Provider\tCalls")
	for _, c := range calls {
		fmt.Fprintf(w, "%s\t%d\n", c.Provider, c.Calls)
	}
	fmt.Fprintln(w)
	w.Flush()

	a.printPerformance(eng.routing.PerformanceReport())
	fmt.Fprintln(a.Out)
	a.printActiveAlerts(eng.anomaly.GetActiveAlerts(anomaly.AlertFilter{}))
}

func (a *App) printActiveAlerts(alerts []anomaly.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no active alerts")
		return
	}
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Created (UTC)\tSeverity\tCategory\tSignal\tProviders\tCountry\tConfidence\tMessage")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.Severity,
			al.Category,
			al.Signal,
			strings.Join(al.AffectedProviders, ","),
			al.Country,
			al.Confidence,
			sanitizeInline(al.Message),
		)
	}
	w.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
