package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/httpapi"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/payments"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/query"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// Query answers a natural-language question over stored transactions or a CSV snapshot.
func (a *App) Query(ctx context.Context, opts QueryOptions) error {
	if strings.TrimSpace(opts.Text) == "" {
		return errors.New("query text is required")
	}
	now := time.Now().UTC()
	qopts := a.queryOptions(now, metrics.NoOpCollector{})

	var txs []payments.Transaction
	if opts.CSVPath != "" {
		loaded, err := readTransactionsCSV(opts.CSVPath)
		if err != nil {
			return fmt.Errorf("load %s: %w", opts.CSVPath, err)
		}
		txs = loaded
	} else {
		loaded, err := a.loadSnapshot(ctx, query.New(a.Config.Query, nil, qopts).Parse(opts.Text), now)
		if err != nil {
			return err
		}
		txs = loaded
	}

	result := query.New(a.Config.Query, query.Snapshot(txs), qopts).ExecuteQuery(query.Request{Query: opts.Text})
	if opts.JSON {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(a.Out, string(encoded))
		return nil
	}
	fmt.Fprintln(a.Out, result.FormattedResult)
	return nil
}

func (a *App) queryOptions(now time.Time, collector metrics.Collector) query.Options {
	return query.Options{Logger: a.Logger, Metrics: collector, Now: func() time.Time { return now }}
}

// liveQuery answers API queries while the service runs. With a database it fetches the window
// the query names; otherwise it reads the in-memory store directly.
func (a *App) liveQuery(store *storage.Store, memory query.Source, collector metrics.Collector) httpapi.QueryFunc {
	return func(ctx context.Context, text string) (query.Result, error) {
		now := time.Now().UTC()
		qopts := a.queryOptions(now, collector)
		src := memory
		if store != nil {
			txs, err := a.fetchWindow(ctx, store, query.New(a.Config.Query, nil, qopts).Parse(text), now)
			if err != nil {
				return query.Result{}, err
			}
			src = query.Snapshot(txs)
		}
		return query.New(a.Config.Query, src, qopts).ExecuteQuery(query.Request{Query: text}), nil
	}
}

// loadSnapshot fetches only the rows the parsed time range can match.
func (a *App) loadSnapshot(ctx context.Context, parsed query.Parsed, now time.Time) ([]payments.Transaction, error) {
	store, closeStore, err := a.requireStore(ctx, "query without --csv")
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return a.fetchWindow(ctx, store, parsed, now)
}

func (a *App) fetchWindow(ctx context.Context, store storage.TransactionStore, parsed query.Parsed, now time.Time) ([]payments.Transaction, error) {
	from, to := time.Unix(0, 0).UTC(), now
	if parsed.TimeRange != nil {
		from, to = parsed.TimeRange.Start, parsed.TimeRange.End
	}
	txs, err := store.ListTransactionsBetween(ctx, from, to, a.Config.Database.QueryLimit)
	if err != nil {
		return nil, err
	}
	if len(txs) == a.Config.Database.QueryLimit {
		a.Logger.Warn().Int("limit", len(txs)).Msg("query snapshot truncated at database.query_limit")
	}
	return txs, nil
}
