// Package store persists targeting preferences, leads, assignments and run
// history for the sourcing engine.
package store

import (
	"context"
	"time"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Trigger      model.Trigger   `json:"trigger,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// LeadStore is the datastore surface used by the ingestor and the router.
type LeadStore interface {
	// ListActivePreferences returns active preferences ordered by
	// created_at, id.
	ListActivePreferences(ctx context.Context) ([]model.TargetingPreference, error)

	// FindLeadByEmail returns nil, nil when no lead matches the
	// case-insensitive (workspace, email) key.
	FindLeadByEmail(ctx context.Context, workspaceID, email string) (*model.Lead, error)

	// InsertLead reports false when the (workspace, email) key already exists.
	InsertLead(ctx context.Context, lead *model.Lead) (bool, error)

	// ListLeadsSince returns leads from source created at or after since,
	// oldest first.
	ListLeadsSince(ctx context.Context, source string, since time.Time, limit int) ([]model.Lead, error)

	// InsertAssignment reports false when (lead, user) is already assigned.
	InsertAssignment(ctx context.Context, a *model.LeadAssignment) (bool, error)

	// SetAssignedUserIfUnset sets the primary owner only when none is set and
	// reports whether this call set it.
	SetAssignedUserIfUnset(ctx context.Context, leadID, userID string) (bool, error)

	// IncrementQuota atomically bumps the daily, weekly and monthly counters.
	IncrementQuota(ctx context.Context, preferenceID string) error
}

// RunStore persists run history.
type RunStore interface {
	CreateRun(ctx context.Context, trigger model.Trigger) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error)
	CompleteStep(ctx context.Context, step *model.RunStep) error
}

// Store combines the lead and run stores with lifecycle management.
type Store interface {
	LeadStore
	RunStore

	// SavePreference inserts or replaces a targeting preference.
	SavePreference(ctx context.Context, p *model.TargetingPreference) error

	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
