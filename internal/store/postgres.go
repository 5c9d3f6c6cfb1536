package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/db"
	"github.com/sells-group/lead-sourcing/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres wraps an open pool. closeFn may be nil when the caller owns
// the pool lifecycle.
func NewPostgres(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

// Pool returns the underlying pool so the advisory lock can share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS targeting_preferences (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id       TEXT NOT NULL,
	workspace_id  TEXT NOT NULL,
	industries    JSONB NOT NULL DEFAULT '[]',
	geography     JSONB NOT NULL DEFAULT '{}',
	daily_cap     INTEGER NOT NULL DEFAULT 0,
	daily_count   INTEGER NOT NULL DEFAULT 0,
	weekly_cap    INTEGER NOT NULL DEFAULT 0,
	weekly_count  INTEGER NOT NULL DEFAULT 0,
	monthly_cap   INTEGER NOT NULL DEFAULT 0,
	monthly_count INTEGER NOT NULL DEFAULT 0,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_targeting_preferences_active ON targeting_preferences(is_active, created_at, id);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id     TEXT NOT NULL,
	email            TEXT NOT NULL,
	first_name       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	company          TEXT NOT NULL DEFAULT '',
	company_domain   TEXT NOT NULL DEFAULT '',
	job_title        TEXT NOT NULL DEFAULT '',
	industry         TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	postal_code      TEXT NOT NULL DEFAULT '',
	country          TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	source_combo     TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'new',
	assigned_user_id TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_workspace_email ON leads(workspace_id, lower(email));
CREATE INDEX IF NOT EXISTS idx_leads_source_created ON leads(source, created_at);

CREATE TABLE IF NOT EXISTS lead_assignments (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	workspace_id     TEXT NOT NULL,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	user_id          TEXT NOT NULL,
	preference_id    TEXT NOT NULL DEFAULT '',
	matched_industry TEXT,
	matched_geo      TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (lead_id, user_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	trigger    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	attempts    INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Preferences ---

const preferenceColumns = `id, user_id, workspace_id, industries, geography,
	daily_cap, daily_count, weekly_cap, weekly_count, monthly_cap, monthly_count,
	is_active, created_at`

func (s *PostgresStore) ListActivePreferences(ctx context.Context) ([]model.TargetingPreference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+preferenceColumns+` FROM targeting_preferences WHERE is_active ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list preferences")
	}
	defer rows.Close()

	var prefs []model.TargetingPreference
	for rows.Next() {
		var p model.TargetingPreference
		var industriesJSON, geoJSON []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.WorkspaceID, &industriesJSON, &geoJSON,
			&p.DailyCap, &p.DailyCount, &p.WeeklyCap, &p.WeeklyCount, &p.MonthlyCap, &p.MonthlyCount,
			&p.IsActive, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan preference")
		}
		if err := decodePreferenceJSON(&p, industriesJSON, geoJSON); err != nil {
			return nil, eris.Wrapf(err, "postgres: preference %s", p.ID)
		}
		prefs = append(prefs, p)
	}
	return prefs, eris.Wrap(rows.Err(), "postgres: list preferences iterate")
}

func (s *PostgresStore) SavePreference(ctx context.Context, p *model.TargetingPreference) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	industriesJSON, geoJSON, err := encodePreferenceJSON(p)
	if err != nil {
		return eris.Wrap(err, "postgres: save preference")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO targeting_preferences (`+preferenceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET industries = $4, geography = $5,
		   daily_cap = $6, weekly_cap = $8, monthly_cap = $10, is_active = $12`,
		p.ID, p.UserID, p.WorkspaceID, industriesJSON, geoJSON,
		p.DailyCap, p.DailyCount, p.WeeklyCap, p.WeeklyCount, p.MonthlyCap, p.MonthlyCount,
		p.IsActive, p.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save preference %s", p.ID)
}

func (s *PostgresStore) IncrementQuota(ctx context.Context, preferenceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE targeting_preferences
		 SET daily_count = daily_count + 1, weekly_count = weekly_count + 1, monthly_count = monthly_count + 1
		 WHERE id = $1`,
		preferenceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment quota %s", preferenceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("preference not found: %s", preferenceID)
	}
	return nil
}

// --- Leads ---

const leadColumns = `id, workspace_id, email, first_name, last_name, phone, company, company_domain,
	job_title, industry, city, state, postal_code, country, linkedin_url,
	source, source_combo, score, status, assigned_user_id, created_at`

func (s *PostgresStore) FindLeadByEmail(ctx context.Context, workspaceID, email string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE workspace_id = $1 AND lower(email) = lower($2) LIMIT 1`,
		workspaceID, email,
	)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find lead in workspace %s", workspaceID)
	}
	return l, nil
}

func (s *PostgresStore) InsertLead(ctx context.Context, l *model.Lead) (bool, error) {
	prepareLead(l)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (workspace_id, lower(email)) DO NOTHING`,
		l.ID, l.WorkspaceID, l.Email, l.FirstName, l.LastName, l.Phone, l.Company, l.CompanyDomain,
		l.JobTitle, l.Industry, l.City, l.State, l.PostalCode, l.Country, l.LinkedInURL,
		l.Source, l.SourceCombo, l.Score, l.Status, l.AssignedUserID, l.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert lead in workspace %s", l.WorkspaceID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListLeadsSince(ctx context.Context, source string, since time.Time, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE source = $1 AND created_at >= $2 ORDER BY created_at, id LIMIT $3`,
		source, since.UTC(), defaultLimit(limit, 1000),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) SetAssignedUserIfUnset(ctx context.Context, leadID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET assigned_user_id = $1 WHERE id = $2 AND assigned_user_id IS NULL`,
		userID, leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set assigned user on lead %s", leadID)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Assignments ---

func (s *PostgresStore) InsertAssignment(ctx context.Context, a *model.LeadAssignment) (bool, error) {
	prepareAssignment(a)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO lead_assignments (id, workspace_id, lead_id, user_id, preference_id, matched_industry, matched_geo, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (lead_id, user_id) DO NOTHING`,
		a.ID, a.WorkspaceID, a.LeadID, a.UserID, a.PreferenceID, a.MatchedIndustry, a.MatchedGeo, a.Status, a.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert assignment for lead %s", a.LeadID)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, trigger, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(trigger), string(model.RunStatusIdle), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Trigger:   trigger,
		Status:    model.RunStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(summary.Status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, trigger, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, name, status, attempts, duration_ms, error, metadata, started_at
		 FROM run_steps WHERE run_id = $1 ORDER BY started_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.RunStep
		var metaJSON []byte
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.Status, &st.Attempts, &st.DurationMs,
			&st.Error, &metaJSON, &st.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &st.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal step metadata")
			}
		}
		r.Steps = append(r.Steps, st)
	}
	return r, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, trigger, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Trigger != "" {
		query += fmt.Sprintf(` AND trigger = $%d`, argIdx)
		args = append(args, string(filter.Trigger))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit, 100))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.StepStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert step for run %s", runID)
	}

	return &model.RunStep{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.StepStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, step *model.RunStep) error {
	var metaJSON []byte
	if step.Metadata != nil {
		var err error
		if metaJSON, err = json.Marshal(step.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal step metadata")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_steps SET status = $1, attempts = $2, duration_ms = $3, error = $4, metadata = $5 WHERE id = $6`,
		string(step.Status), step.Attempts, step.DurationMs, step.Error, metaJSON, step.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete step %s", step.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("step not found: %s", step.ID)
	}
	return nil
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var summaryJSON []byte
	if err := row.Scan(&r.ID, &r.Trigger, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(summaryJSON) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal summary")
		}
	}
	return &r, nil
}

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.WorkspaceID, &l.Email, &l.FirstName, &l.LastName, &l.Phone, &l.Company, &l.CompanyDomain,
		&l.JobTitle, &l.Industry, &l.City, &l.State, &l.PostalCode, &l.Country, &l.LinkedInURL,
		&l.Source, &l.SourceCombo, &l.Score, &l.Status, &l.AssignedUserID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
