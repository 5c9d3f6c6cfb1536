package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sourcing/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func countAssignments(t *testing.T, st *SQLiteStore, leadID string) int {
	t.Helper()
	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM lead_assignments WHERE lead_id = ?`, leadID).Scan(&n))
	return n
}

func testLead(workspace, email string) *model.Lead {
	return &model.Lead{
		WorkspaceID: workspace,
		Email:       email,
		FirstName:   "Jane",
		LastName:    "Doe",
		Industry:    "saas",
		State:       "ca",
		Source:      model.SourceSegmentPull,
		SourceCombo: "saas|ca",
		Status:      model.LeadStatusNew,
	}
}

// --- Preferences ---

func TestSQLite_Preferences_ActiveOrdered(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.SavePreference(ctx, &model.TargetingPreference{
		ID: "p2", UserID: "u2", WorkspaceID: "w1", Industries: []string{"saas"},
		DailyCap: 5, IsActive: true, CreatedAt: base.Add(time.Hour),
	}))
	require.NoError(t, st.SavePreference(ctx, &model.TargetingPreference{
		ID: "p1", UserID: "u1", WorkspaceID: "w1",
		Geography: model.Geography{States: []string{"CA"}}, IsActive: true, CreatedAt: base,
	}))
	require.NoError(t, st.SavePreference(ctx, &model.TargetingPreference{
		ID: "p3", UserID: "u3", WorkspaceID: "w2", IsActive: false, CreatedAt: base,
	}))

	prefs, err := st.ListActivePreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, "p1", prefs[0].ID)
	assert.Equal(t, []string{"CA"}, prefs[0].Geography.States)
	assert.Equal(t, "p2", prefs[1].ID)
	assert.Equal(t, []string{"saas"}, prefs[1].Industries)
	assert.Equal(t, 5, prefs[1].DailyCap)
	assert.True(t, prefs[1].CreatedAt.Equal(base.Add(time.Hour)))
}

func TestSQLite_IncrementQuota(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SavePreference(ctx, &model.TargetingPreference{ID: "p1", UserID: "u1", WorkspaceID: "w1", IsActive: true}))
	require.NoError(t, st.IncrementQuota(ctx, "p1"))
	require.NoError(t, st.IncrementQuota(ctx, "p1"))

	prefs, err := st.ListActivePreferences(ctx)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, 2, prefs[0].DailyCount)
	assert.Equal(t, 2, prefs[0].WeeklyCount)
	assert.Equal(t, 2, prefs[0].MonthlyCount)

	err = st.IncrementQuota(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preference not found")
}

// --- Leads ---

func TestSQLite_InsertLead_DedupCaseInsensitive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := st.InsertLead(ctx, testLead("w1", "jane@acme.com"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.InsertLead(ctx, testLead("w1", "JANE@acme.com"))
	require.NoError(t, err)
	assert.False(t, inserted, "same workspace and email must not insert twice")

	inserted, err = st.InsertLead(ctx, testLead("w2", "jane@acme.com"))
	require.NoError(t, err)
	assert.True(t, inserted, "other workspace gets its own copy")

	found, err := st.FindLeadByEmail(ctx, "w1", "Jane@Acme.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Jane", found.FirstName)
	assert.Nil(t, found.AssignedUserID)

	missing, err := st.FindLeadByEmail(ctx, "w3", "jane@acme.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_InsertLead_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.InsertLead(ctx, testLead("w1", "race@acme.com"))
			if err == nil && ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestSQLite_ListLeadsSince(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testLead("w1", "old@acme.com")
	old.CreatedAt = now.Add(-5 * time.Hour)
	recent := testLead("w1", "recent@acme.com")
	recent.CreatedAt = now.Add(-time.Minute)
	manual := testLead("w1", "manual@acme.com")
	manual.Source = "csv_import"

	for _, l := range []*model.Lead{old, recent, manual} {
		_, err := st.InsertLead(ctx, l)
		require.NoError(t, err)
	}

	leads, err := st.ListLeadsSince(ctx, model.SourceSegmentPull, now.Add(-2*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "recent@acme.com", leads[0].Email)
}

func TestSQLite_SetAssignedUserIfUnset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := testLead("w1", "jane@acme.com")
	_, err := st.InsertLead(ctx, l)
	require.NoError(t, err)

	set, err := st.SetAssignedUserIfUnset(ctx, l.ID, "u1")
	require.NoError(t, err)
	assert.True(t, set)

	set, err = st.SetAssignedUserIfUnset(ctx, l.ID, "u2")
	require.NoError(t, err)
	assert.False(t, set)

	found, err := st.FindLeadByEmail(ctx, "w1", "jane@acme.com")
	require.NoError(t, err)
	require.NotNil(t, found.AssignedUserID)
	assert.Equal(t, "u1", *found.AssignedUserID)
}

func TestSQLite_InsertAssignment_Unique(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := testLead("w1", "jane@acme.com")
	_, err := st.InsertLead(ctx, l)
	require.NoError(t, err)

	industry := "saas"
	a := &model.LeadAssignment{WorkspaceID: "w1", LeadID: l.ID, UserID: "u1", PreferenceID: "p1", MatchedIndustry: &industry}
	ok, err := st.InsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.InsertAssignment(ctx, &model.LeadAssignment{WorkspaceID: "w1", LeadID: l.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, countAssignments(t, st, l.ID))
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusIdle, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusPulling))

	step, err := st.CreateStep(ctx, run.ID, "pulling")
	require.NoError(t, err)
	step.Status = model.StepStatusComplete
	step.Attempts = 2
	step.DurationMs = 150
	step.Metadata = map[string]any{"inserted": 3}
	require.NoError(t, st.CompleteStep(ctx, step))

	summary := &model.RunSummary{RunID: run.ID, Inserted: 3}
	summary.Finalize(model.RunStatusDone, "", time.Now())
	require.NoError(t, st.CompleteRun(ctx, run.ID, summary))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, got.Status)
	assert.Equal(t, model.TriggerManual, got.Trigger)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 3, got.Summary.Inserted)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "pulling", got.Steps[0].Name)
	assert.Equal(t, 2, got.Steps[0].Attempts)
	assert.Equal(t, float64(3), got.Steps[0].Metadata["inserted"])
}

func TestSQLite_ListRuns_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, model.TriggerSchedule)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.TriggerHTTP)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, r1.ID, model.RunStatusError))

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusError})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r1.ID, runs[0].ID)

	runs, err = st.ListRuns(ctx, RunFilter{Trigger: model.TriggerHTTP})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = st.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_ListRuns_CreatedAfter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old, err := st.CreateRun(ctx, model.TriggerSchedule)
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `UPDATE runs SET created_at = ? WHERE id = ?`,
		formatSQLiteTime(time.Now().Add(-48*time.Hour)), old.ID)
	require.NoError(t, err)

	recent, err := st.CreateRun(ctx, model.TriggerHTTP)
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID, runs[0].ID)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_UpdateRunStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateRunStatus(context.Background(), "nope", model.RunStatusDone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}
