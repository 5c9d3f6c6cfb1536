package model

import (
	"time"
)

// RunStatus represents the current state of a sourcing run. The values
// double as the orchestrator's state machine states.
type RunStatus string

const (
	RunStatusIdle           RunStatus = "idle"
	RunStatusCheckingConfig RunStatus = "checking_config"
	RunStatusAggregating    RunStatus = "aggregating"
	RunStatusPulling        RunStatus = "pulling"
	RunStatusRouting        RunStatus = "routing"
	RunStatusNotifying      RunStatus = "notifying"
	RunStatusDone           RunStatus = "done"
	RunStatusSkipped        RunStatus = "skipped"
	RunStatusError          RunStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusSkipped || s == RunStatusError
}

// Skip reasons reported on soft-skipped runs.
const (
	SkipReasonMissingCredential = "missing_provider_credential"
	SkipReasonNoTargeting       = "no_targeting"
)

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerEvent    Trigger = "event"
	TriggerHTTP     Trigger = "http"
	TriggerManual   Trigger = "manual"
)

// Run is a persisted sourcing run.
type Run struct {
	ID        string      `json:"id"`
	Trigger   Trigger     `json:"trigger"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Steps     []RunStep   `json:"steps,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StepStatus represents the outcome of an orchestrator step.
type StepStatus string

const (
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// RunStep is one executed step within a run.
type RunStep struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

// RunSummary is the outcome of one engine execution. It is emitted once
// through the notifier and stored with the run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Trigger         Trigger   `json:"trigger"`
	Status          RunStatus `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CombosTotal     int       `json:"combos_total"`
	CombosProcessed int       `json:"combos_processed"`
	Inserted        int       `json:"inserted"`
	Skipped         int       `json:"skipped"`
	Assignments     int       `json:"assignments"`
	PrimaryAssigned int       `json:"primary_assigned"`
	BudgetCap       int       `json:"budget_cap"`
	BudgetUsed      int       `json:"budget_used"`
	Errors          []string  `json:"errors"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// AddError appends a non-fatal error message.
func (s *RunSummary) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// Finalize stamps the terminal status and finish time. Errors is always
// non-nil afterwards so consumers receive [] rather than null.
func (s *RunSummary) Finalize(status RunStatus, reason string, at time.Time) {
	s.Status = status
	s.Reason = reason
	s.FinishedAt = at
	if s.Errors == nil {
		s.Errors = []string{}
	}
}
