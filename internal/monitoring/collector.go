// Package monitoring watches recent sourcing runs and raises webhook alerts
// when the engine looks unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsDone     int     `json:"runs_done"`
	RunsSkipped  int     `json:"runs_skipped"`
	RunsFailed   int     `json:"runs_failed"`
	RunsInFlight int     `json:"runs_in_flight"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Skip reasons.
	MissingCredential int `json:"missing_credential"`
	NoTargeting       int `json:"no_targeting"`

	LeadsInserted   int `json:"leads_inserted"`
	Assignments     int `json:"assignments"`
	ComboErrors     int `json:"combo_errors"`
	BudgetSaturated int `json:"budget_saturated"`

	LastRunAt     time.Time `json:"last_run_at,omitzero"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of runs that either completed or failed. Skipped
// runs are excluded.
func (s *MetricsSnapshot) Finished() int {
	return s.RunsDone + s.RunsFailed
}

// RunLister is the slice of the run store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from run history.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		if r.CreatedAt.After(snap.LastRunAt) {
			snap.LastRunAt = r.CreatedAt
		}
		switch r.Status {
		case model.RunStatusDone:
			snap.RunsDone++
		case model.RunStatusError:
			snap.RunsFailed++
		case model.RunStatusSkipped:
			snap.RunsSkipped++
		default:
			snap.RunsInFlight++
		}

		s := r.Summary
		if s == nil {
			continue
		}
		switch s.Reason {
		case model.SkipReasonMissingCredential:
			snap.MissingCredential++
		case model.SkipReasonNoTargeting:
			snap.NoTargeting++
		}
		snap.LeadsInserted += s.Inserted
		snap.Assignments += s.Assignments
		snap.ComboErrors += len(s.Errors)
		if s.BudgetCap > 0 && s.BudgetUsed >= s.BudgetCap {
			snap.BudgetSaturated++
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
