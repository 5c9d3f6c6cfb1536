package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/model"
)

func TestStarter_Start(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(WorkflowID)
	run.On("GetRunID").Return("exec-1")

	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == WorkflowID &&
			o.TaskQueue == "lead-sourcing" &&
			o.WorkflowExecutionErrorWhenAlreadyStarted &&
			o.WorkflowExecutionTimeout == 40*time.Minute
	}), mock.Anything, mock.MatchedBy(func(in Input) bool {
		return in.Trigger == model.TriggerHTTP && in.MaxRecords == 250
	})).Return(run, nil).Once()

	s := NewStarter(c, "lead-sourcing", Input{MaxRecords: 250})
	require.NoError(t, s.Start(context.Background(), model.TriggerHTTP))
	c.AssertExpectations(t)
}

func TestStarter_StartAlreadyRunning(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", "exec-0")).Once()

	s := NewStarter(c, "lead-sourcing", Input{})
	err := s.Start(context.Background(), model.TriggerEvent)
	assert.ErrorIs(t, err, engine.ErrRunInProgress)
}

func TestStarter_StartError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable")).Once()

	s := NewStarter(c, "lead-sourcing", Input{})
	err := s.Start(context.Background(), model.TriggerEvent)
	require.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrRunInProgress)
	assert.Contains(t, err.Error(), "start execution")
}

func TestStarter_EnsureSchedule(t *testing.T) {
	sc := &mocks.ScheduleClient{}
	sc.On("Create", mock.Anything, mock.MatchedBy(func(o client.ScheduleOptions) bool {
		action, ok := o.Action.(*client.ScheduleWorkflowAction)
		return ok &&
			o.ID == ScheduleID &&
			o.Overlap == enumspb.SCHEDULE_OVERLAP_POLICY_SKIP &&
			len(o.Spec.CronExpressions) == 1 && o.Spec.CronExpressions[0] == "0 */6 * * *" &&
			action.TaskQueue == "lead-sourcing"
	})).Return(&mocks.ScheduleHandle{}, nil).Once()

	c := &mocks.Client{}
	c.On("ScheduleClient").Return(sc)

	s := NewStarter(c, "lead-sourcing", Input{})
	require.NoError(t, s.EnsureSchedule(context.Background(), ""))
	sc.AssertExpectations(t)
}

func TestStarter_EnsureScheduleExisting(t *testing.T) {
	sc := &mocks.ScheduleClient{}
	sc.On("Create", mock.Anything, mock.Anything).Return(nil, temporal.ErrScheduleAlreadyRunning).Once()
	c := &mocks.Client{}
	c.On("ScheduleClient").Return(sc)

	s := NewStarter(c, "lead-sourcing", Input{})
	assert.NoError(t, s.EnsureSchedule(context.Background(), "15 2 * * *"))
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Debug("debug", "k", 1)
	l.Info("info")
	l.With("run_id", "r-1").Warn("warn", "combo", "saas|ca")
	l.Error("error")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	fields := entries[2].ContextMap()
	assert.Equal(t, "r-1", fields["run_id"])
	assert.Equal(t, "saas|ca", fields["combo"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["k"])
}
