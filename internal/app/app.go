package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/alerting"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/config"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/httpapi"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics"
	promcollector "github.com/kenyaclaw/africa-payments-mcp-sub000/internal/metrics/prometheus"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/query"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/scheduler"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/service"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/simulate"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

type engines struct {
	risk    *risk.Engine
	routing *routing.Engine
	anomaly *anomaly.Engine
}

func (a *App) newEngines(now func() time.Time, collector metrics.Collector, onAlert func(anomaly.Alert)) engines {
	return engines{
		risk:    risk.New(a.Config.Risk, risk.Options{Logger: a.Logger, Metrics: collector, Now: now}),
		routing: routing.New(a.Config.Routing, routing.Options{Logger: a.Logger, Metrics: collector, Now: now}),
		anomaly: anomaly.New(a.Config.Anomaly, anomaly.Options{Logger: a.Logger, Metrics: collector, Now: now, OnAlert: onAlert}),
	}
}

// newNotifier returns nil when alerting is off or no channel is enabled.
func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil
	}

	multi := &alerting.MultiNotifier{}
	if cfg.Telegram.Enabled {
		multi.Add("telegram", alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
	}
	if cfg.Webhook.Enabled {
		multi.Add("webhook", alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout, a.Logger))
	}
	if multi.Len() == 0 {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil
	}
	return multi
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore opens the database for read-only commands that cannot run without it.
func (a *App) requireStore(ctx context.Context, what string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured; cannot %s", what)
	}
	return store, closeStore, nil
}

// stores is the persistence set a Service writes through.
type stores struct {
	transactions storage.TransactionStore
	outcomes     storage.OutcomeStore
	metrics      storage.MetricStore
	alerts       storage.AlertStore
	locker       storage.AdvisoryLocker
}

func fromStore(s *storage.Store) stores {
	return stores{transactions: s, outcomes: s, metrics: s, alerts: s, locker: s}
}

func fromMemory(m *storage.MemoryStore) stores {
	return stores{transactions: m, outcomes: m, metrics: m, alerts: m}
}

func (a *App) newService(eng engines, exec service.Executor, queue *service.AlertQueue, st stores, now func() time.Time) (*service.Service, error) {
	return service.New(service.Deps{
		Risk:         eng.risk,
		Routing:      eng.routing,
		Anomaly:      eng.anomaly,
		Executor:     exec,
		Alerts:       queue,
		Transactions: st.transactions,
		Outcomes:     st.outcomes,
		Metrics:      st.metrics,
		AlertStore:   st.alerts,
		Locker:       st.locker,
		Notifier:     a.newNotifier(),
		Logger:       a.Logger,
		Now:          now,
	}, service.Options{
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		MinSeverity:    anomaly.Severity(strings.ToLower(a.Config.Alerting.MinSeverity)),
		Channels:       a.Config.Alerting.Channels,
		Environment:    a.Config.App.Environment,
		AlertRetention: a.Config.Alerting.Retention,
	})
}

// degradation turns the configured outage into an executor override starting at start+After.
func (a *App) degradation(start time.Time, override string) []simulate.Degradation {
	cfg := a.Config.Simulation.Degrade
	if override != "" {
		provider, country, _ := strings.Cut(override, ":")
		cfg.Provider, cfg.Country = provider, country
	}
	if cfg.Provider == "" {
		return nil
	}
	d := simulate.Degradation{
		Provider:    cfg.Provider,
		Country:     cfg.Country,
		Start:       start.Add(cfg.After),
		SuccessRate: cfg.SuccessRate,
		LatencyMs:   cfg.LatencyMs,
	}
	if cfg.Duration > 0 {
		d.End = d.Start.Add(cfg.Duration)
	}
	return []simulate.Degradation{d}
}

func (a *App) newGenerator(seed int64) *simulate.Generator {
	cfg := a.Config.Simulation
	if seed == 0 {
		seed = cfg.Seed
	}
	return simulate.NewGenerator(simulate.GeneratorConfig{
		Seed:       seed,
		Customers:  cfg.Customers,
		Countries:  cfg.Countries,
		FraudRatio: cfg.FraudRatio,
	})
}

// Run executes the long-running service against synthetic traffic until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var (
		st     stores
		memory *storage.MemoryStore
	)
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; keeping state in memory")
		memory = storage.NewMemoryStore(a.Config.Database.QueryLimit)
		st = fromMemory(memory)
	} else {
		st = fromStore(store)
	}
	if closeStore != nil {
		defer closeStore()
	}

	collector, registry, err := a.newCollector()
	if err != nil {
		return err
	}

	queue := service.NewAlertQueue(a.Config.Alerting.QueueSize, a.Logger)
	eng := a.newEngines(time.Now, collector, queue.Enqueue)
	exec := simulate.NewExecutor(a.Config.Simulation.Seed, a.Config.Routing.Providers, a.degradation(time.Now().UTC(), "")...)

	svc, err := a.newService(eng, exec, queue, st, time.Now)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Name:         "buckets",
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	gen := a.newGenerator(0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx, svc.ProcessBucket) })
	g.Go(func() error { return svc.DispatchAlerts(gctx) })
	g.Go(func() error { return a.generateTraffic(gctx, svc, gen) })

	var metricsHandler http.Handler
	if registry != nil {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	switch {
	case a.Config.Server.Enabled:
		var src query.Source
		if memory != nil {
			src = memory
		}
		handler := httpapi.NewHandler(eng.anomaly, eng.routing, eng.risk, a.liveQuery(store, src, collector), a.Config.Anomaly.ForecastMaxHours, a.Logger)
		router := httpapi.NewRouter(handler, a.Config.Metrics.Path, metricsHandler)
		g.Go(func() error { return a.serve(gctx, "admin api", a.Config.Server.ListenAddr, router) })
	case metricsHandler != nil:
		mux := http.NewServeMux()
		mux.Handle(a.Config.Metrics.Path, metricsHandler)
		g.Go(func() error { return a.serve(gctx, "metrics", a.Config.Metrics.ListenAddr, mux) })
	}

	a.Logger.Info().Msg("starting payment decision service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("payment decision service stopped")
	return nil
}

func (a *App) generateTraffic(ctx context.Context, svc *service.Service, gen *simulate.Generator) error {
	ticker := time.NewTicker(a.Config.Simulation.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, req := range gen.Batch(a.Config.Simulation.PerTick, now.UTC()) {
				if _, err := svc.Process(ctx, req); err != nil {
					return err
				}
			}
		}
	}
}

func (a *App) newCollector() (metrics.Collector, *prometheus.Registry, error) {
	if !a.Config.Metrics.Enabled {
		return metrics.NoOpCollector{}, nil, nil
	}
	registry := prometheus.NewRegistry()
	collector := promcollector.NewCollector(a.Config.Metrics.Namespace)
	if err := collector.Register(registry); err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}
	return collector, registry, nil
}

// serve runs an HTTP listener until ctx is cancelled, then shuts it down gracefully.
func (a *App) serve(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.Logger.Info().Str("addr", addr).Str("server", name).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
		timeout := a.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Str("server", name).Msg("shutdown incomplete")
		}
		return ctx.Err()
	}
}

// SimulateOptions configure an accelerated synthetic run.
type SimulateOptions struct {
	Count     int
	Seed      int64
	PerBucket int
	Degrade   string
	Start     time.Time
	Persist   bool
	CSVPath   string
}

// QueryOptions configure the query command.
type QueryOptions struct {
	Text    string
	CSVPath string
	JSON    bool
}

// ReportOptions configure the report command.
type ReportOptions struct {
	Since time.Time
	Limit int
}

// ForecastOptions hold parameters for exporting a capacity forecast.
type ForecastOptions struct {
	Provider  string
	Country   string
	Hours     int
	Since     *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}
