package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// sqliteTime is fixed width so TEXT comparison orders chronologically.
const sqliteTime = "2006-01-02 15:04:05.000000"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS targeting_preferences (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	workspace_id  TEXT NOT NULL,
	industries    TEXT NOT NULL DEFAULT '[]',
	geography     TEXT NOT NULL DEFAULT '{}',
	daily_cap     INTEGER NOT NULL DEFAULT 0,
	daily_count   INTEGER NOT NULL DEFAULT 0,
	weekly_cap    INTEGER NOT NULL DEFAULT 0,
	weekly_count  INTEGER NOT NULL DEFAULT 0,
	monthly_cap   INTEGER NOT NULL DEFAULT 0,
	monthly_count INTEGER NOT NULL DEFAULT 0,
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
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
	created_at       TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_workspace_email ON leads(workspace_id, lower(email));
CREATE INDEX IF NOT EXISTS idx_leads_source_created ON leads(source, created_at);

CREATE TABLE IF NOT EXISTS lead_assignments (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL,
	lead_id          TEXT NOT NULL REFERENCES leads(id),
	user_id          TEXT NOT NULL,
	preference_id    TEXT NOT NULL DEFAULT '',
	matched_industry TEXT,
	matched_geo      TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	created_at       TEXT NOT NULL,
	UNIQUE (lead_id, user_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	trigger    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	summary    TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	attempts    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	started_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Preferences ---

func (s *SQLiteStore) ListActivePreferences(ctx context.Context) ([]model.TargetingPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM targeting_preferences WHERE is_active = 1 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list preferences")
	}
	defer rows.Close()

	var prefs []model.TargetingPreference
	for rows.Next() {
		var p model.TargetingPreference
		var industriesJSON, geoJSON, createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.WorkspaceID, &industriesJSON, &geoJSON,
			&p.DailyCap, &p.DailyCount, &p.WeeklyCap, &p.WeeklyCount, &p.MonthlyCap, &p.MonthlyCount,
			&p.IsActive, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan preference")
		}
		if err := decodePreferenceJSON(&p, []byte(industriesJSON), []byte(geoJSON)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: preference %s", p.ID)
		}
		if p.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, eris.Wrap(rows.Err(), "sqlite: list preferences iterate")
}

func (s *SQLiteStore) SavePreference(ctx context.Context, p *model.TargetingPreference) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	industriesJSON, geoJSON, err := encodePreferenceJSON(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: save preference")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO targeting_preferences (`+preferenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET industries = excluded.industries, geography = excluded.geography,
		   daily_cap = excluded.daily_cap, weekly_cap = excluded.weekly_cap,
		   monthly_cap = excluded.monthly_cap, is_active = excluded.is_active`,
		p.ID, p.UserID, p.WorkspaceID, string(industriesJSON), string(geoJSON),
		p.DailyCap, p.DailyCount, p.WeeklyCap, p.WeeklyCount, p.MonthlyCap, p.MonthlyCount,
		p.IsActive, formatSQLiteTime(p.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: save preference %s", p.ID)
}

func (s *SQLiteStore) IncrementQuota(ctx context.Context, preferenceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targeting_preferences
		 SET daily_count = daily_count + 1, weekly_count = weekly_count + 1, monthly_count = monthly_count + 1
		 WHERE id = ?`,
		preferenceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment quota %s", preferenceID)
	}
	return checkRowsAffected(res, "preference", preferenceID)
}

// --- Leads ---

func (s *SQLiteStore) FindLeadByEmail(ctx context.Context, workspaceID, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE workspace_id = ? AND lower(email) = lower(?) LIMIT 1`,
		workspaceID, email,
	)
	l, err := scanSQLiteLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find lead in workspace %s", workspaceID)
	}
	return l, nil
}

func (s *SQLiteStore) InsertLead(ctx context.Context, l *model.Lead) (bool, error) {
	prepareLead(l)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		l.ID, l.WorkspaceID, l.Email, l.FirstName, l.LastName, l.Phone, l.Company, l.CompanyDomain,
		l.JobTitle, l.Industry, l.City, l.State, l.PostalCode, l.Country, l.LinkedInURL,
		l.Source, l.SourceCombo, l.Score, l.Status, l.AssignedUserID, formatSQLiteTime(l.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert lead in workspace %s", l.WorkspaceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListLeadsSince(ctx context.Context, source string, since time.Time, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE source = ? AND created_at >= ? ORDER BY created_at, id LIMIT ?`,
		source, formatSQLiteTime(since), defaultLimit(limit, 1000),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) SetAssignedUserIfUnset(ctx context.Context, leadID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET assigned_user_id = ? WHERE id = ? AND assigned_user_id IS NULL`,
		userID, leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set assigned user on lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Assignments ---

func (s *SQLiteStore) InsertAssignment(ctx context.Context, a *model.LeadAssignment) (bool, error) {
	prepareAssignment(a)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_assignments (id, workspace_id, lead_id, user_id, preference_id, matched_industry, matched_geo, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (lead_id, user_id) DO NOTHING`,
		a.ID, a.WorkspaceID, a.LeadID, a.UserID, a.PreferenceID, a.MatchedIndustry, a.MatchedGeo, a.Status,
		formatSQLiteTime(a.CreatedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert assignment for lead %s", a.LeadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, trigger, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(trigger), string(model.RunStatusIdle), formatSQLiteTime(now), formatSQLiteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Trigger:   trigger,
		Status:    model.RunStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatSQLiteTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(summary.Status), formatSQLiteTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanSQLiteRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, attempts, duration_ms, error, metadata, started_at
		 FROM run_steps WHERE run_id = ? ORDER BY started_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.RunStep
		var metaJSON sql.NullString
		var startedAt string
		if err := rows.Scan(&st.ID, &st.RunID, &st.Name, &st.Status, &st.Attempts, &st.DurationMs,
			&st.Error, &metaJSON, &startedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &st.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal step metadata")
			}
		}
		if st.StartedAt, err = parseSQLiteTime(startedAt); err != nil {
			return nil, err
		}
		r.Steps = append(r.Steps, st)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, trigger, status, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Trigger != "" {
		query += ` AND trigger = ?`
		args = append(args, string(filter.Trigger))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatSQLiteTime(filter.CreatedAfter))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, defaultLimit(filter.Limit, 100), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateStep(ctx context.Context, runID, name string) (*model.RunStep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.StepStatusRunning), formatSQLiteTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert step for run %s", runID)
	}

	return &model.RunStep{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.StepStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteStep(ctx context.Context, step *model.RunStep) error {
	var metaJSON sql.NullString
	if step.Metadata != nil {
		b, err := json.Marshal(step.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal step metadata")
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, attempts = ?, duration_ms = ?, error = ?, metadata = ? WHERE id = ?`,
		string(step.Status), step.Attempts, step.DurationMs, step.Error, metaJSON, step.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete step %s", step.ID)
	}
	return checkRowsAffected(res, "step", step.ID)
}

// helpers

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTime, s, time.UTC)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var assigned sql.NullString
	var createdAt string
	err := row.Scan(&l.ID, &l.WorkspaceID, &l.Email, &l.FirstName, &l.LastName, &l.Phone, &l.Company, &l.CompanyDomain,
		&l.JobTitle, &l.Industry, &l.City, &l.State, &l.PostalCode, &l.Country, &l.LinkedInURL,
		&l.Source, &l.SourceCombo, &l.Score, &l.Status, &assigned, &createdAt)
	if err != nil {
		return nil, err
	}
	if assigned.Valid {
		l.AssignedUserID = &assigned.String
	}
	if l.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &summaryJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if r.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
