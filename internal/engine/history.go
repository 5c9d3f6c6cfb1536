package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/store"
)

// History records runs and steps. Every failure is logged and swallowed:
// losing history never fails a run.
type History struct {
	runs store.RunStore
	log  *zap.Logger
}

// NewHistory creates a History. A nil store disables persistence.
func NewHistory(runs store.RunStore) *History {
	return &History{runs: runs, log: zap.L().With(zap.String("component", "history"))}
}

// Start creates the run record and returns its id. When the store is
// unavailable a local id is generated so logs still correlate.
func (h *History) Start(ctx context.Context, trigger model.Trigger) string {
	if h.runs != nil {
		run, err := h.runs.CreateRun(ctx, trigger)
		if err == nil {
			return run.ID
		}
		h.log.Warn("failed to create run record", zap.Error(err))
	}
	return uuid.New().String()
}

// Status records a state transition.
func (h *History) Status(ctx context.Context, runID string, status model.RunStatus) {
	if h.runs == nil {
		return
	}
	if err := h.runs.UpdateRunStatus(ctx, runID, status); err != nil {
		h.log.Warn("failed to update run status",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// StartStep opens a step record. The returned step is never nil.
func (h *History) StartStep(ctx context.Context, runID, name string) *model.RunStep {
	if h.runs != nil {
		step, err := h.runs.CreateStep(ctx, runID, name)
		if err == nil {
			return step
		}
		h.log.Warn("failed to create step", zap.String("run_id", runID), zap.String("step", name), zap.Error(err))
	}
	return &model.RunStep{RunID: runID, Name: name, Status: model.StepStatusRunning, StartedAt: time.Now().UTC()}
}

// FinishStep closes a step with its outcome.
func (h *History) FinishStep(ctx context.Context, step *model.RunStep, attempts int, meta map[string]any, err error) {
	step.Attempts = attempts
	step.DurationMs = time.Since(step.StartedAt).Milliseconds()
	step.Metadata = meta
	step.Status = model.StepStatusComplete
	if err != nil {
		step.Status = model.StepStatusFailed
		step.Error = err.Error()
	}
	h.save(ctx, step)
}

// SkipStep closes a step that decided not to run.
func (h *History) SkipStep(ctx context.Context, step *model.RunStep, reason string) {
	step.Attempts = 1
	step.Status = model.StepStatusSkipped
	step.Metadata = map[string]any{"reason": reason}
	h.save(ctx, step)
}

func (h *History) save(ctx context.Context, step *model.RunStep) {
	if h.runs == nil || step.ID == "" {
		return
	}
	if err := h.runs.CompleteStep(ctx, step); err != nil {
		h.log.Warn("failed to complete step", zap.String("step", step.Name), zap.Error(err))
	}
}

// Complete stores the final summary.
func (h *History) Complete(ctx context.Context, summary *model.RunSummary) {
	if h.runs == nil {
		return
	}
	if err := h.runs.CompleteRun(ctx, summary.RunID, summary); err != nil {
		h.log.Warn("failed to complete run", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}
