package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sourcing/internal/config"
	"github.com/sells-group/lead-sourcing/internal/lock"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/notify"
	"github.com/sells-group/lead-sourcing/internal/store"
	"github.com/sells-group/lead-sourcing/internal/targeting"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "leads.db")
	c.Provider.PageSize = 100
	c.Provider.MaxPagesPerCombo = 10
	c.Provider.PageConcurrency = 1
	c.Engine.MaxRecordsPerRun = 50
	c.Engine.StepRetries = 0
	c.Engine.RunTimeoutMins = 1
	c.Routing.WindowMins = 120
	c.Log.Level = "info"
	return c
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "leadsource.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitLocker(t *testing.T) {
	cfg = sqliteConfig(t)

	sqlite, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer sqlite.Close() //nolint:errcheck

	l, closeFn := initLocker(sqlite)
	defer closeFn()
	assert.IsType(t, lock.Nop{}, l)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	l, closeFn = initLocker(store.NewPostgres(mock, nil))
	defer closeFn()
	assert.IsType(t, &lock.Postgres{}, l)

	cfg.Redis.Addr = "localhost:6379"
	l, closeFn = initLocker(sqlite)
	defer closeFn()
	assert.IsType(t, &lock.Redis{}, l)
}

func TestInitNotifier(t *testing.T) {
	cfg = sqliteConfig(t)
	n, ok := initNotifier(nil).(notify.Multi)
	require.True(t, ok)
	assert.Len(t, n, 1)

	cfg.Notify.WebhookURL = "http://localhost:9/hook"
	n = initNotifier(nil).(notify.Multi)
	assert.Len(t, n, 2)
}

func TestInitEngine_SkipsWithoutCredential(t *testing.T) {
	cfg = sqliteConfig(t)

	env, err := initEngine(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Events)
	assert.False(t, env.Steps.HasCredential)

	summary, err := env.Engine.Run(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSkipped, summary.Status)
	assert.Equal(t, model.SkipReasonMissingCredential, summary.Reason)

	runs, err := env.Store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusSkipped, runs[0].Status)
}

func TestInitEngine_InvalidConfig(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Engine.MaxRecordsPerRun = 0

	_, err := initEngine(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_records_per_run")
}

func TestWorkflowInput(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Engine.StepRetries = 3
	in := workflowInput()
	assert.Equal(t, 50, in.MaxRecords)
	assert.Equal(t, 3, in.StepRetries)
	assert.Equal(t, "1m0s", in.RunTimeout.String())
}

func TestPreferenceFlagsAndCombos(t *testing.T) {
	cmd := prefsAddCmd

	_, err := preferenceFromFlags(cmd)
	require.Error(t, err)

	require.NoError(t, cmd.Flags().Set("user", "u-1"))
	require.NoError(t, cmd.Flags().Set("workspace", "ws-1"))
	require.NoError(t, cmd.Flags().Set("industries", "SaaS,Fintech"))
	require.NoError(t, cmd.Flags().Set("states", "CA"))
	require.NoError(t, cmd.Flags().Set("daily-cap", "5"))

	p, err := preferenceFromFlags(cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.IsActive)
	assert.Equal(t, []string{"SaaS", "Fintech"}, p.Industries)
	assert.Equal(t, 5, p.DailyCap)
	assert.Equal(t, model.NoCap, p.WeeklyCap)
	assert.Equal(t, model.NoCap, p.MonthlyCap)

	var buf bytes.Buffer
	formatCombos(&buf, targeting.Aggregate([]model.TargetingPreference{*p}))
	assert.Contains(t, buf.String(), "fintech,saas|ca")
	assert.Contains(t, buf.String(), "ws-1")
}

func TestInitChecker(t *testing.T) {
	cfg = sqliteConfig(t)
	assert.Nil(t, initChecker(nil))

	cfg.Monitoring.WebhookURL = "http://localhost:9/alerts"
	cfg.Monitoring.LookbackWindowHours = 24
	assert.NotNil(t, initChecker(nil))
}
