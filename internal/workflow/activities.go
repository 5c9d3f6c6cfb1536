package workflow

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/resilience"
	"github.com/sells-group/lead-sourcing/internal/router"
)

// ComboReport carries a combo outcome back to the workflow. A failed combo
// is reported in Error rather than as an activity failure so its partial
// counts and consumed budget survive.
type ComboReport struct {
	Outcome *engine.ComboOutcome `json:"outcome,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Activities wraps engine steps for the Temporal worker. Every activity
// records its own step in run history.
type Activities struct {
	steps   *engine.Steps
	history *engine.History
}

// NewActivities creates the activity set.
func NewActivities(steps *engine.Steps, history *engine.History) *Activities {
	if history == nil {
		history = engine.NewHistory(nil)
	}
	return &Activities{steps: steps, history: history}
}

// StartRun creates the run record.
func (a *Activities) StartRun(ctx context.Context, trigger model.Trigger) (string, error) {
	return a.history.Start(ctx, trigger), nil
}

// CheckConfig returns a skip reason, or "" to proceed.
func (a *Activities) CheckConfig(ctx context.Context, runID string) (string, error) {
	a.history.Status(ctx, runID, model.RunStatusCheckingConfig)
	st := a.history.StartStep(ctx, runID, "check_config")
	if reason := a.steps.CheckConfig(); reason != "" {
		a.history.SkipStep(ctx, st, reason)
		return reason, nil
	}
	a.history.FinishStep(ctx, st, attempt(ctx), nil, nil)
	return "", nil
}

// Aggregate loads preferences and builds combos.
func (a *Activities) Aggregate(ctx context.Context, runID string) ([]model.TargetingCombo, error) {
	a.history.Status(ctx, runID, model.RunStatusAggregating)
	st := a.history.StartStep(ctx, runID, "aggregate")
	combos, err := a.steps.Aggregate(ctx)
	a.history.FinishStep(ctx, st, attempt(ctx), map[string]any{"combos": len(combos)}, err)
	return combos, classify(err)
}

// SourceCombo pulls and ingests one combo.
func (a *Activities) SourceCombo(ctx context.Context, in ComboInput) (*ComboReport, error) {
	if in.First {
		a.history.Status(ctx, in.RunID, model.RunStatusPulling)
	}
	st := a.history.StartStep(ctx, in.RunID, "pull:"+in.Combo.Key)
	out, err := a.steps.SourceCombo(ctx, in.Combo, in.Budget)
	a.history.FinishStep(ctx, st, attempt(ctx), out.Metadata(), err)

	rep := &ComboReport{Outcome: out}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep, nil
}

// Route runs one routing pass.
func (a *Activities) Route(ctx context.Context, in RouteInput) (*router.Result, error) {
	a.history.Status(ctx, in.RunID, model.RunStatusRouting)
	st := a.history.StartStep(ctx, in.RunID, "route")
	res, err := a.steps.Route(ctx, in.RunStart)
	a.history.FinishStep(ctx, st, attempt(ctx), engine.RouteMetadata(res), err)
	return res, classify(err)
}

// Finish notifies and stores the final summary. A notification failure is
// recorded on the step and never fails the activity, so the summary is not
// delivered twice by a retry.
func (a *Activities) Finish(ctx context.Context, summary *model.RunSummary) error {
	a.history.Status(ctx, summary.RunID, model.RunStatusNotifying)
	st := a.history.StartStep(ctx, summary.RunID, "notify")
	err := a.steps.Notify(ctx, summary)
	if err != nil {
		activity.GetLogger(ctx).Warn("notification failed", "run_id", summary.RunID, "error", err)
	}
	a.history.FinishStep(ctx, st, attempt(ctx), nil, err)
	a.history.Complete(ctx, summary)
	return nil
}

func attempt(ctx context.Context) int {
	return int(activity.GetInfo(ctx).Attempt)
}

// classify marks non-transient errors as non-retryable so Temporal follows
// the same retry rules as the in-process engine.
func classify(err error) error {
	if err == nil || resilience.IsTransient(err) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), "permanent", err)
}
