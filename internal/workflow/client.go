package workflow

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/config"
	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/model"
)

// Dial connects to the Temporal frontend with SDK logs routed to zap.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L().With(zap.String("component", "temporal"))),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial temporal at %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(LeadSourcingWorkflow)
	w.RegisterWorkflow(ScheduledWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Starter launches workflow executions. It rejects a trigger while an
// execution with WorkflowID is open.
type Starter struct {
	client    client.Client
	taskQueue string
	input     Input
}

// NewStarter creates a Starter. in supplies the run limits for every
// execution it starts.
func NewStarter(c client.Client, taskQueue string, in Input) *Starter {
	return &Starter{client: c, taskQueue: taskQueue, input: in.withDefaults()}
}

// Start begins one execution. It returns engine.ErrRunInProgress when an
// execution is already open.
func (s *Starter) Start(ctx context.Context, trigger model.Trigger) error {
	in := s.input
	in.Trigger = trigger

	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       WorkflowID,
		TaskQueue:                                s.taskQueue,
		WorkflowExecutionTimeout:                 s.input.executionTimeout(),
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, LeadSourcingWorkflow, in)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return engine.ErrRunInProgress
	}
	if err != nil {
		return eris.Wrap(err, "workflow: start execution")
	}

	zap.L().Info("workflow: execution started",
		zap.String("workflow_id", run.GetID()),
		zap.String("execution_id", run.GetRunID()),
		zap.String("trigger", string(trigger)),
	)
	return nil
}

// EnsureSchedule creates the cron schedule. Overlapping fires are skipped
// by the server. An existing schedule is left untouched.
func (s *Starter) EnsureSchedule(ctx context.Context, cronExpr string) error {
	if cronExpr == "" {
		cronExpr = engine.DefaultSchedule
	}
	in := s.input
	in.Trigger = model.TriggerSchedule

	_, err := s.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cronExpr},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:                       ScheduleID + "-fire",
			Workflow:                 ScheduledWorkflow,
			Args:                     []interface{}{in},
			TaskQueue:                s.taskQueue,
			WorkflowExecutionTimeout: s.input.executionTimeout(),
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		zap.L().Info("workflow: schedule already exists", zap.String("schedule_id", ScheduleID))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "workflow: create schedule %q", cronExpr)
	}
	zap.L().Info("workflow: schedule created", zap.String("schedule_id", ScheduleID), zap.String("cron", cronExpr))
	return nil
}
