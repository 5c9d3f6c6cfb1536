package engine

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// DefaultSchedule fires every six hours.
const DefaultSchedule = "0 */6 * * *"

// Runner starts a sourcing run. *Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, trigger model.Trigger) (*model.RunSummary, error)
}

// Scheduler fires runs on a cron schedule.
type Scheduler struct {
	runner   Runner
	spec     string
	schedule cron.Schedule
	now      func() time.Time
}

// NewScheduler parses a standard five-field cron expression. An empty
// expression uses DefaultSchedule.
func NewScheduler(runner Runner, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: parse schedule %q", spec)
	}
	return &Scheduler{runner: runner, spec: spec, schedule: sched, now: time.Now}, nil
}

// Next returns the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, starting a run at each fire time. A
// fire that finds a run in progress is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "engine.scheduler"), zap.String("schedule", s.spec))

	for {
		next := s.schedule.Next(s.now())
		log.Info("next scheduled run", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		s.fire(ctx, log)
	}
}

func (s *Scheduler) fire(ctx context.Context, log *zap.Logger) {
	summary, err := s.runner.Run(ctx, model.TriggerSchedule)
	switch {
	case errors.Is(err, ErrRunInProgress):
		log.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		log.Error("scheduled run failed", zap.Error(err))
	case summary != nil:
		log.Info("scheduled run finished",
			zap.String("run_id", summary.RunID),
			zap.String("status", string(summary.Status)),
		)
	}
}
