package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/logging"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/query"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/risk"
	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/routing"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Server     ServerConfig     `mapstructure:"server"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Export     ExportConfig     `mapstructure:"export"`

	Risk    risk.Config    `mapstructure:"risk"`
	Routing routing.Config `mapstructure:"routing"`
	Anomaly anomaly.Config `mapstructure:"anomaly"`
	Query   query.Config   `mapstructure:"query"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs everything in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	QueryLimit      int           `mapstructure:"query_limit"`
}

// SchedulerConfig governs the metric flush and learning cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
	Namespace  string `mapstructure:"namespace"`
}

// ServerConfig exposes the admin HTTP API while the service runs.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	QueueSize   int            `mapstructure:"queue_size"`
	Retention   time.Duration  `mapstructure:"retention"`
	Channels    []string       `mapstructure:"channels"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig describes the generic JSON webhook channel.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SimulationConfig drives the synthetic traffic generator.
type SimulationConfig struct {
	Seed         int64         `mapstructure:"seed"`
	Customers    int           `mapstructure:"customers"`
	Countries    []string      `mapstructure:"countries"`
	PerTick      int           `mapstructure:"per_tick"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	FraudRatio   float64       `mapstructure:"fraud_ratio"`
	Degrade      DegradeConfig `mapstructure:"degrade"`
}

// DegradeConfig injects a provider outage into the simulated executor.
type DegradeConfig struct {
	Provider    string        `mapstructure:"provider"`
	Country     string        `mapstructure:"country"`
	After       time.Duration `mapstructure:"after"`
	Duration    time.Duration `mapstructure:"duration"`
	SuccessRate float64       `mapstructure:"success_rate"`
	LatencyMs   float64       `mapstructure:"latency_ms"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Default returns the configuration used before any file or environment overrides.
func Default() Config {
	return Config{
		Risk:    risk.DefaultConfig(),
		Routing: routing.DefaultConfig(),
		Anomaly: anomaly.DefaultConfig(),
		Query:   query.DefaultConfig(),
	}
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	// Engine sections decode over their defaults so partial overrides keep the rest.
	// viper lower-cases map keys, so the defaults are keyed the same way first and a file
	// entry for an existing country or currency replaces the default instead of sitting beside it.
	cfg := Default()
	lowerMapKeys(&cfg)
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Routing.Preferences = rekey(cfg.Routing.Preferences, strings.ToUpper)
	cfg.Risk.FXRates = rekey(cfg.Risk.FXRates, strings.ToUpper)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func lowerMapKeys(cfg *Config) {
	cfg.Routing.Preferences = rekey(cfg.Routing.Preferences, strings.ToLower)
	cfg.Routing.Providers = rekey(cfg.Routing.Providers, strings.ToLower)
	cfg.Routing.Priorities = rekey(cfg.Routing.Priorities, strings.ToLower)
	cfg.Risk.FXRates = rekey(cfg.Risk.FXRates, strings.ToLower)
	cfg.Risk.Weights = rekey(cfg.Risk.Weights, strings.ToLower)
}

func rekey[V any](in map[string]V, fn func(string) string) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[fn(k)] = v
	}
	return out
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "paycore")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70617963))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paycore")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "warning")
	v.SetDefault("alerting.queue_size", 256)
	v.SetDefault("alerting.retention", "168h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.webhook.secret", "")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("simulation.seed", int64(42))
	v.SetDefault("simulation.customers", 200)
	v.SetDefault("simulation.countries", []string{"KE", "NG", "GH", "UG", "TZ"})
	v.SetDefault("simulation.per_tick", 20)
	v.SetDefault("simulation.tick_interval", "1s")
	v.SetDefault("simulation.fraud_ratio", 0.02)
	v.SetDefault("simulation.degrade.success_rate", 0.4)
	v.SetDefault("simulation.degrade.latency_ms", 12000.0)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.query_limit", 50000)

	// Scalar engine keys are registered so PAYCORE_* environment overrides reach them.
	v.SetDefault("risk.high_amount", risk.DefaultConfig().HighAmount)
	v.SetDefault("risk.critical_amount", risk.DefaultConfig().CriticalAmount)
	v.SetDefault("risk.timezone", risk.DefaultConfig().Timezone)
	v.SetDefault("routing.alpha", routing.DefaultConfig().Alpha)
	v.SetDefault("routing.buffer_outcomes", routing.DefaultConfig().BufferOutcomes)
	v.SetDefault("anomaly.alert_ttl", anomaly.DefaultConfig().AlertTTL)
	v.SetDefault("anomaly.timezone", anomaly.DefaultConfig().Timezone)
	v.SetDefault("query.display_limit", query.DefaultConfig().DisplayLimit)
	v.SetDefault("query.timezone", query.DefaultConfig().Timezone)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Database.QueryLimit <= 0 {
		return fmt.Errorf("database.query_limit must be greater than zero")
	}
	switch strings.ToLower(c.Alerting.MinSeverity) {
	case "", "warning", "critical":
	default:
		return fmt.Errorf("alerting.min_severity must be warning or critical")
	}
	if c.Alerting.QueueSize <= 0 {
		return fmt.Errorf("alerting.queue_size must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}
	if c.Simulation.Customers <= 0 || c.Simulation.PerTick <= 0 {
		return fmt.Errorf("simulation.customers and simulation.per_tick must be greater than zero")
	}
	if c.Simulation.FraudRatio < 0 || c.Simulation.FraudRatio > 1 {
		return fmt.Errorf("simulation.fraud_ratio must be within [0, 1]")
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := c.Anomaly.Validate(); err != nil {
		return err
	}
	return c.Query.Validate()
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
