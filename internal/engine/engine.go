// Package engine runs the lead-sourcing state machine: check config,
// aggregate targeting, pull and ingest each combo, route, notify.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/lock"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/puller"
	"github.com/sells-group/lead-sourcing/internal/resilience"
)

// ErrRunInProgress is returned when a trigger arrives while a run is active
// in this process or anywhere holding the distributed lock.
var ErrRunInProgress = eris.New("engine: run already in progress")

// Config controls run-level limits.
type Config struct {
	MaxRecords int
	Retry      resilience.RetryConfig
	RunTimeout time.Duration
	LockKey    string
}

// Engine executes sourcing runs one at a time.
type Engine struct {
	steps   *Steps
	history *History
	locker  lock.Locker
	cfg     Config

	mu  sync.Mutex
	now func() time.Time
}

// New creates an Engine. A nil locker limits single-flight to this process.
func New(steps *Steps, history *History, locker lock.Locker, cfg Config) *Engine {
	if locker == nil {
		locker = lock.Nop{}
	}
	if history == nil {
		history = NewHistory(nil)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "leadsource:segment-pull"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.StepPolicy(2, 0, 0)
	}
	return &Engine{
		steps:   steps,
		history: history,
		locker:  locker,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one sourcing run. It returns ErrRunInProgress without side
// effects when another run holds the guard. Soft skips return a summary
// with status skipped and a nil error; a failed step returns the summary
// with status error together with the error.
func (e *Engine) Run(ctx context.Context, trigger model.Trigger) (*model.RunSummary, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.execute(ctx, trigger)
}

// Start acquires the run guard and executes the run in the background. It
// returns ErrRunInProgress synchronously; the outcome of a started run is
// only logged and persisted.
func (e *Engine) Start(ctx context.Context, trigger model.Trigger) error {
	ctx = context.WithoutCancel(ctx)
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer release()
		_, _ = e.execute(ctx, trigger)
	}()
	return nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if !e.mu.TryLock() {
		return nil, ErrRunInProgress
	}

	lease, err := e.locker.Acquire(ctx, e.cfg.LockKey, e.cfg.RunTimeout+time.Minute)
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrRunInProgress
		}
		return nil, eris.Wrap(err, "engine: acquire run lock")
	}

	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("engine: failed to release run lock", zap.Error(err))
		}
		e.mu.Unlock()
	}, nil
}

func (e *Engine) execute(ctx context.Context, trigger model.Trigger) (*model.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	r := &run{e: e}
	return r.execute(ctx, trigger)
}

type run struct {
	e       *Engine
	summary *model.RunSummary
	log     *zap.Logger
}

func (r *run) execute(ctx context.Context, trigger model.Trigger) (*model.RunSummary, error) {
	e := r.e
	r.summary = &model.RunSummary{
		Trigger:   trigger,
		Status:    model.RunStatusIdle,
		BudgetCap: e.cfg.MaxRecords,
		StartedAt: e.now(),
	}
	r.summary.RunID = e.history.Start(ctx, trigger)
	r.log = zap.L().With(zap.String("run_id", r.summary.RunID), zap.String("trigger", string(trigger)))
	r.log.Info("engine: run started")

	// checking_config
	r.transition(ctx, model.RunStatusCheckingConfig)
	check := e.history.StartStep(ctx, r.summary.RunID, "check_config")
	if reason := e.steps.CheckConfig(); reason != "" {
		e.history.SkipStep(ctx, check, reason)
		return r.finish(ctx, model.RunStatusSkipped, reason, nil)
	}
	e.history.FinishStep(ctx, check, 1, nil, nil)

	// aggregating
	r.transition(ctx, model.RunStatusAggregating)
	var combos []model.TargetingCombo
	err := r.step(ctx, "aggregate", e.cfg.Retry, func(ctx context.Context) (map[string]any, error) {
		var err error
		combos, err = e.steps.Aggregate(ctx)
		return map[string]any{"combos": len(combos)}, err
	})
	if err != nil {
		return r.finish(ctx, model.RunStatusError, "", err)
	}
	r.summary.CombosTotal = len(combos)
	if len(combos) == 0 {
		return r.finish(ctx, model.RunStatusSkipped, model.SkipReasonNoTargeting, nil)
	}

	// pulling
	r.transition(ctx, model.RunStatusPulling)
	budget := puller.Budget{Cap: e.cfg.MaxRecords}
	for _, combo := range combos {
		if budget.Exhausted() {
			r.log.Info("engine: record budget exhausted, skipping remaining combos",
				zap.Int("remaining_combos", len(combos)-r.summary.CombosProcessed))
			break
		}
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, model.RunStatusError, "", eris.Wrap(err, "engine: pulling"))
		}
		budget = r.pullCombo(ctx, combo, budget)
	}

	// routing
	r.transition(ctx, model.RunStatusRouting)
	err = r.step(ctx, "route", e.cfg.Retry, func(ctx context.Context) (map[string]any, error) {
		res, err := e.steps.Route(ctx, r.summary.StartedAt)
		if err != nil {
			return nil, err
		}
		r.summary.Assignments = res.Assignments
		r.summary.PrimaryAssigned = res.PrimaryAssigned
		return RouteMetadata(res), nil
	})
	if err != nil {
		return r.finish(ctx, model.RunStatusError, "", err)
	}

	return r.finish(ctx, model.RunStatusDone, "", nil)
}

// pullCombo sources one combo. Failures are recorded on the summary and
// never stop the run.
func (r *run) pullCombo(ctx context.Context, combo model.TargetingCombo, budget puller.Budget) puller.Budget {
	noRetry := r.e.cfg.Retry
	noRetry.MaxAttempts = 1

	var out *ComboOutcome
	err := r.step(ctx, "pull:"+combo.Key, noRetry, func(ctx context.Context) (map[string]any, error) {
		var err error
		out, err = r.e.steps.SourceCombo(ctx, combo, budget)
		return out.Metadata(), err
	})
	if out != nil {
		out.Apply(r.summary)
		budget = out.Budget
	}
	if err != nil {
		r.log.Warn("engine: combo failed", zap.String("combo", combo.Key), zap.Error(err))
		r.summary.AddError(fmt.Sprintf("combo %s: %v", combo.Key, err))
	}
	return budget
}

// step runs fn under the retry policy and records it in history.
func (r *run) step(ctx context.Context, name string, policy resilience.RetryConfig, fn func(ctx context.Context) (map[string]any, error)) error {
	st := r.e.history.StartStep(ctx, r.summary.RunID, name)
	policy.OnRetry = resilience.RetryLogger("engine", name)

	var meta map[string]any
	_, attempts, err := resilience.DoCounted(ctx, policy, func(ctx context.Context) (struct{}, error) {
		m, err := fn(ctx)
		meta = m
		return struct{}{}, err
	})
	r.e.history.FinishStep(ctx, st, attempts, meta, err)
	return err
}

func (r *run) transition(ctx context.Context, status model.RunStatus) {
	r.summary.Status = status
	r.e.history.Status(ctx, r.summary.RunID, status)
	r.log.Debug("engine: state", zap.String("status", string(status)))
}

// finish stamps the terminal state, notifies and persists the summary. The
// notification and history writes use a context detached from the run
// timeout so a timed-out run is still reported.
func (r *run) finish(ctx context.Context, status model.RunStatus, reason string, runErr error) (*model.RunSummary, error) {
	ctx = context.WithoutCancel(ctx)
	if runErr != nil {
		r.summary.AddError(runErr.Error())
	}
	r.transition(ctx, model.RunStatusNotifying)
	r.summary.Finalize(status, reason, r.e.now())

	nst := r.e.history.StartStep(ctx, r.summary.RunID, "notify")
	err := r.e.steps.Notify(ctx, r.summary)
	if err != nil {
		r.log.Warn("engine: notification failed", zap.Error(err))
	}
	r.e.history.FinishStep(ctx, nst, 1, nil, err)
	r.e.history.Complete(ctx, r.summary)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("combos_processed", r.summary.CombosProcessed),
		zap.Int("inserted", r.summary.Inserted),
		zap.Int("assignments", r.summary.Assignments),
		zap.Int("budget_used", r.summary.BudgetUsed),
		zap.Int("errors", len(r.summary.Errors)),
	}
	switch {
	case runErr != nil:
		r.log.Error("engine: run failed", append(fields, zap.Error(runErr))...)
	case status == model.RunStatusSkipped:
		r.log.Info("engine: run skipped", zap.String("reason", reason))
	default:
		r.log.Info("engine: run complete", fields...)
	}
	return r.summary, runErr
}
