// Package workflow runs the sourcing state machine as a durable Temporal
// workflow. Each engine step is an activity; budget and combo iteration
// stay in workflow code so a worker restart resumes mid-run.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/puller"
	"github.com/sells-group/lead-sourcing/internal/router"
)

// Fixed ids keep at most one execution and one schedule per namespace.
const (
	WorkflowID = "lead-sourcing-run"
	ScheduleID = "lead-sourcing-schedule"
)

// ErrRunTimeout fails a run that outlived Input.RunTimeout.
var ErrRunTimeout = eris.New("workflow: run timeout exceeded")

// Input parameterizes one workflow execution.
type Input struct {
	Trigger      model.Trigger `json:"trigger"`
	MaxRecords   int           `json:"max_records"`
	StepRetries  int           `json:"step_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	StepTimeout  time.Duration `json:"step_timeout"`
	RunTimeout   time.Duration `json:"run_timeout"`
}

func (in Input) withDefaults() Input {
	if in.Trigger == "" {
		in.Trigger = model.TriggerManual
	}
	if in.MaxRecords <= 0 {
		in.MaxRecords = 5000
	}
	if in.StepRetries < 0 {
		in.StepRetries = 0
	}
	if in.RetryBackoff <= 0 {
		in.RetryBackoff = time.Second
	}
	if in.StepTimeout <= 0 {
		in.StepTimeout = 10 * time.Minute
	}
	if in.RunTimeout <= 0 {
		in.RunTimeout = 30 * time.Minute
	}
	return in
}

func (in Input) executionTimeout() time.Duration {
	return in.RunTimeout + in.StepTimeout
}

func (in Input) retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    in.RetryBackoff,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * in.RetryBackoff,
		MaximumAttempts:    int32(in.StepRetries + 1),
	}
}

// ComboInput is the SourceCombo activity argument.
type ComboInput struct {
	RunID  string               `json:"run_id"`
	Combo  model.TargetingCombo `json:"combo"`
	Budget puller.Budget        `json:"budget"`
	First  bool                 `json:"first"`
}

// RouteInput is the Route activity argument.
type RouteInput struct {
	RunID    string    `json:"run_id"`
	RunStart time.Time `json:"run_start"`
}

// LeadSourcingWorkflow executes one sourcing run. A run that ends in the
// error state fails the execution after its summary has been delivered.
func LeadSourcingWorkflow(ctx workflow.Context, in Input) (*model.RunSummary, error) {
	in = in.withDefaults()
	log := workflow.GetLogger(ctx)
	var a *Activities

	stepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.StepTimeout,
		RetryPolicy:         in.retryPolicy(),
	})
	// Combo pulls retry provider calls internally so budget is never
	// counted twice.
	comboCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.StepTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	started := workflow.Now(ctx).UTC()
	summary := &model.RunSummary{
		Trigger:   in.Trigger,
		Status:    model.RunStatusIdle,
		BudgetCap: in.MaxRecords,
		StartedAt: started,
	}
	if err := workflow.ExecuteActivity(stepCtx, a.StartRun, in.Trigger).Get(ctx, &summary.RunID); err != nil {
		return nil, eris.Wrap(err, "workflow: start run")
	}

	finish := func(status model.RunStatus, reason string, runErr error) (*model.RunSummary, error) {
		if runErr != nil {
			summary.AddError(runErr.Error())
		}
		summary.Finalize(status, reason, workflow.Now(ctx).UTC())
		if err := workflow.ExecuteActivity(stepCtx, a.Finish, summary).Get(ctx, nil); err != nil {
			log.Warn("finish activity failed", "run_id", summary.RunID, "error", err)
		}
		log.Info("run finished",
			"run_id", summary.RunID,
			"status", string(status),
			"inserted", summary.Inserted,
			"assignments", summary.Assignments,
		)
		if runErr != nil {
			return summary, runErr
		}
		return summary, nil
	}

	var reason string
	if err := workflow.ExecuteActivity(stepCtx, a.CheckConfig, summary.RunID).Get(ctx, &reason); err != nil {
		return finish(model.RunStatusError, "", err)
	}
	if reason != "" {
		return finish(model.RunStatusSkipped, reason, nil)
	}

	var combos []model.TargetingCombo
	if err := workflow.ExecuteActivity(stepCtx, a.Aggregate, summary.RunID).Get(ctx, &combos); err != nil {
		return finish(model.RunStatusError, "", err)
	}
	summary.CombosTotal = len(combos)
	if len(combos) == 0 {
		return finish(model.RunStatusSkipped, model.SkipReasonNoTargeting, nil)
	}

	budget := puller.Budget{Cap: in.MaxRecords}
	for i, combo := range combos {
		if budget.Exhausted() {
			log.Info("record budget exhausted, skipping remaining combos", "remaining_combos", len(combos)-i)
			break
		}
		if workflow.Now(ctx).Sub(started) >= in.RunTimeout {
			return finish(model.RunStatusError, "", ErrRunTimeout)
		}

		var rep ComboReport
		err := workflow.ExecuteActivity(comboCtx, a.SourceCombo, ComboInput{
			RunID:  summary.RunID,
			Combo:  combo,
			Budget: budget,
			First:  i == 0,
		}).Get(ctx, &rep)
		if err != nil {
			summary.AddError(fmt.Sprintf("combo %s: %v", combo.Key, err))
			continue
		}
		if rep.Outcome != nil {
			rep.Outcome.Apply(summary)
			budget = rep.Outcome.Budget
		}
		if rep.Error != "" {
			log.Warn("combo failed", "combo", combo.Key, "error", rep.Error)
			summary.AddError(fmt.Sprintf("combo %s: %s", combo.Key, rep.Error))
		}
	}

	var res router.Result
	if err := workflow.ExecuteActivity(stepCtx, a.Route, RouteInput{RunID: summary.RunID, RunStart: started}).Get(ctx, &res); err != nil {
		return finish(model.RunStatusError, "", err)
	}
	summary.Assignments = res.Assignments
	summary.PrimaryAssigned = res.PrimaryAssigned

	return finish(model.RunStatusDone, "", nil)
}

// ScheduledWorkflow is the schedule action. It starts the run as a child
// with WorkflowID so a fire that finds a manual run open is skipped.
func ScheduledWorkflow(ctx workflow.Context, in Input) (*model.RunSummary, error) {
	in = in.withDefaults()
	cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:               WorkflowID,
		WorkflowExecutionTimeout: in.executionTimeout(),
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	})

	future := workflow.ExecuteChildWorkflow(cctx, LeadSourcingWorkflow, in)
	err := future.GetChildWorkflowExecution().Get(ctx, nil)
	var already *temporal.ChildWorkflowExecutionAlreadyStartedError
	if errors.As(err, &already) {
		workflow.GetLogger(ctx).Info("scheduled run skipped, another run is in progress")
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "workflow: start scheduled run")
	}

	var summary *model.RunSummary
	if err := future.Get(ctx, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}
