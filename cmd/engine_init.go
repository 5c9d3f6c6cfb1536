package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/db"
	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/events"
	"github.com/sells-group/lead-sourcing/internal/ingest"
	"github.com/sells-group/lead-sourcing/internal/lock"
	"github.com/sells-group/lead-sourcing/internal/notify"
	"github.com/sells-group/lead-sourcing/internal/puller"
	"github.com/sells-group/lead-sourcing/internal/resilience"
	"github.com/sells-group/lead-sourcing/internal/router"
	"github.com/sells-group/lead-sourcing/internal/store"
	"github.com/sells-group/lead-sourcing/internal/workflow"
	"github.com/sells-group/lead-sourcing/pkg/audience"
)

// engineEnv holds everything a run needs. Close releases it in reverse
// order of acquisition.
type engineEnv struct {
	Store   store.Store
	Steps   *engine.Steps
	History *engine.History
	Engine  *engine.Engine
	Events  *events.Conn // may be nil

	closers []func()
}

// Close releases resources held by the environment.
func (ee *engineEnv) Close() {
	for i := len(ee.closers) - 1; i >= 0; i-- {
		ee.closers[i]()
	}
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initStore opens the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadsource.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool, pool.Close), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLocker picks the distributed run lock: Redis when configured, else a
// Postgres advisory lock on the store's pool, else process-local only.
func initLocker(st store.Store) (lock.Locker, func()) {
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		zap.L().Info("run lock: redis", zap.String("addr", cfg.Redis.Addr))
		return lock.NewRedis(rdb), func() { _ = rdb.Close() }
	}
	if ps, ok := st.(*store.PostgresStore); ok {
		zap.L().Info("run lock: postgres advisory lock")
		return lock.NewPostgres(ps.Pool()), func() {}
	}
	zap.L().Info("run lock: in-process only")
	return lock.Nop{}, func() {}
}

func initAudience() audience.Client {
	return audience.NewClient(cfg.Provider.APIKey,
		audience.WithBaseURL(cfg.Provider.BaseURL),
		audience.WithTimeout(time.Duration(cfg.Provider.TimeoutSecs)*time.Second),
		audience.WithRateLimit(cfg.Provider.RateLimit),
		audience.WithCircuitBreaker(resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(cfg.Provider.CircuitThreshold, cfg.Provider.CircuitResetSecs),
		)),
	)
}

func stepRetry() resilience.RetryConfig {
	return resilience.StepPolicy(cfg.Engine.StepRetries, cfg.Engine.RetryBackoffMs, cfg.Engine.RetryMaxBackoffMs)
}

// initNotifier always logs the summary and adds the webhook and the AMQP
// completion event when they are configured.
func initNotifier(conn *events.Conn) notify.Notifier {
	n := notify.Multi{notify.Log{}}
	if cfg.Notify.WebhookURL != "" {
		n = append(n, notify.NewWebhook(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSecs)*time.Second))
	}
	if conn != nil {
		n = append(n, notify.NewEvent(events.NewPublisher(conn.Channel(), cfg.AMQP.Exchange)))
	}
	return n
}

// initEvents connects to RabbitMQ and declares the topology. Returns nil
// without error when amqp.url is unset.
func initEvents() (*events.Conn, error) {
	if cfg.AMQP.URL == "" {
		return nil, nil
	}
	conn, err := events.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, err
	}
	if err := events.DeclareTopology(conn.Channel(), cfg.AMQP.Exchange, cfg.AMQP.TriggerQueue); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// buildSteps wires the run components over st.
func buildSteps(st store.Store, client audience.Client, n notify.Notifier) *engine.Steps {
	p := puller.New(client, puller.Config{
		PageSize:    cfg.Provider.PageSize,
		MaxPages:    cfg.Provider.MaxPagesPerCombo,
		Concurrency: cfg.Provider.PageConcurrency,
		DaysBack:    cfg.Provider.DaysBack,
		Retry:       stepRetry(),
	})
	return &engine.Steps{
		Store:    st,
		Puller:   p,
		Ingestor: ingest.New(st),
		Router: router.New(st, router.Config{
			Window:   time.Duration(cfg.Routing.WindowMins) * time.Minute,
			MaxLeads: cfg.Routing.MaxLeads,
		}),
		Notifier:      n,
		HasCredential: cfg.Provider.APIKey != "",
	}
}

// initEngine sets up the store, provider client, notifier, run lock and
// engine for mode. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &engineEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Provider.APIKey == "" {
		zap.L().Warn("LEADSOURCE_PROVIDER_API_KEY not set, runs will be skipped")
	}

	conn, err := initEvents()
	if err != nil {
		zap.L().Warn("amqp unavailable, event trigger and completion events disabled", zap.Error(err))
	} else if conn != nil {
		env.Events = conn
		env.closers = append(env.closers, func() { _ = conn.Close() })
	}

	locker, closeLocker := initLocker(st)
	env.closers = append(env.closers, closeLocker)

	env.Steps = buildSteps(st, initAudience(), initNotifier(env.Events))
	env.History = engine.NewHistory(st)
	env.Engine = engine.New(env.Steps, env.History, locker, engine.Config{
		MaxRecords: cfg.Engine.MaxRecordsPerRun,
		Retry:      stepRetry(),
		RunTimeout: time.Duration(cfg.Engine.RunTimeoutMins) * time.Minute,
		LockKey:    cfg.Engine.LockKey,
	})
	return env, nil
}

// workflowInput carries the engine limits into workflow executions.
func workflowInput() workflow.Input {
	return workflow.Input{
		MaxRecords:   cfg.Engine.MaxRecordsPerRun,
		StepRetries:  cfg.Engine.StepRetries,
		RetryBackoff: time.Duration(cfg.Engine.RetryBackoffMs) * time.Millisecond,
		RunTimeout:   time.Duration(cfg.Engine.RunTimeoutMins) * time.Minute,
	}
}
