package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	AMQP       AMQPConfig       `yaml:"amqp" mapstructure:"amqp"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig holds the audience-data provider settings. APIKey is the
// only secret; when empty every run soft-skips.
type ProviderConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageSize         int     `yaml:"page_size" mapstructure:"page_size"`
	MaxPagesPerCombo int     `yaml:"max_pages_per_combo" mapstructure:"max_pages_per_combo"`
	PageConcurrency  int     `yaml:"page_concurrency" mapstructure:"page_concurrency"`
	DaysBack         int     `yaml:"days_back" mapstructure:"days_back"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// EngineConfig configures the run orchestrator.
type EngineConfig struct {
	Schedule          string `yaml:"schedule" mapstructure:"schedule"`
	MaxRecordsPerRun  int    `yaml:"max_records_per_run" mapstructure:"max_records_per_run"`
	StepRetries       int    `yaml:"step_retries" mapstructure:"step_retries"`
	RetryBackoffMs    int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int    `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RunTimeoutMins    int    `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
	LockKey           string `yaml:"lock_key" mapstructure:"lock_key"`
}

// RoutingConfig configures the assignment router.
type RoutingConfig struct {
	WindowMins int `yaml:"window_mins" mapstructure:"window_mins"`
	MaxLeads   int `yaml:"max_leads" mapstructure:"max_leads"`
}

// RedisConfig configures the optional distributed run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AMQPConfig configures the RabbitMQ trigger subscription and run events.
type AMQPConfig struct {
	URL          string `yaml:"url" mapstructure:"url"`
	Exchange     string `yaml:"exchange" mapstructure:"exchange"`
	TriggerQueue string `yaml:"trigger_queue" mapstructure:"trigger_queue"`
}

// TemporalConfig configures the durable workflow worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// NotifyConfig configures run summary delivery.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitoringConfig configures the background run-health checker. It only
// runs under serve and only when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedRuns      int     `yaml:"min_finished_runs" mapstructure:"min_finished_runs"`
}

// ServerConfig configures the trigger HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "https://api.audiencelab.io")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.page_size", 100)
	v.SetDefault("provider.max_pages_per_combo", 10)
	v.SetDefault("provider.page_concurrency", 1)
	v.SetDefault("provider.days_back", 30)
	v.SetDefault("provider.rate_limit", 5)
	v.SetDefault("provider.circuit_threshold", 5)
	v.SetDefault("provider.circuit_reset_secs", 60)
	v.SetDefault("engine.schedule", "0 */6 * * *")
	v.SetDefault("engine.max_records_per_run", 5000)
	v.SetDefault("engine.step_retries", 2)
	v.SetDefault("engine.retry_backoff_ms", 1000)
	v.SetDefault("engine.retry_max_backoff_ms", 30000)
	v.SetDefault("engine.run_timeout_mins", 30)
	v.SetDefault("engine.lock_key", "leadsource:segment-pull")
	v.SetDefault("routing.window_mins", 120)
	v.SetDefault("routing.max_leads", 10000)
	v.SetDefault("redis.addr", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "leads.events")
	v.SetDefault("amqp.trigger_queue", "q.leads.segment_pull")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "lead-sourcing")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_finished_runs", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. The provider API
// key is not required: a missing credential soft-skips runs.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}
	needEngine := func() {
		if c.Engine.MaxRecordsPerRun <= 0 {
			errs = append(errs, "engine.max_records_per_run must be > 0")
		}
		if c.Engine.StepRetries < 0 || c.Engine.StepRetries > 10 {
			errs = append(errs, "engine.step_retries must be between 0 and 10")
		}
		if c.Provider.PageSize <= 0 || c.Provider.MaxPagesPerCombo <= 0 {
			errs = append(errs, "provider.page_size and provider.max_pages_per_combo must be > 0")
		}
	}

	switch mode {
	case "run":
		needStore()
		needEngine()
	case "serve":
		needStore()
		needEngine()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "worker":
		needStore()
		needEngine()
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "trigger":
		if c.AMQP.URL == "" && c.Temporal.HostPort == "" {
			errs = append(errs, "amqp.url or temporal.host_port is required")
		}
	case "store":
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
