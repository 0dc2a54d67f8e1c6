package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector/internal/model"
)

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
CREATE TABLE IF NOT EXISTS states (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	abbreviation TEXT NOT NULL UNIQUE,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS counties (
	id         TEXT PRIMARY KEY,
	state_id   TEXT NOT NULL REFERENCES states(id),
	name       TEXT NOT NULL,
	fips_code  TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(state_id, name)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	description        TEXT NOT NULL,
	state_id           TEXT NOT NULL REFERENCES states(id),
	status             TEXT NOT NULL DEFAULT 'pending',
	counties_total     INTEGER NOT NULL DEFAULT 0,
	counties_processed INTEGER NOT NULL DEFAULT 0,
	current_county     TEXT,
	error_message      TEXT,
	settings           TEXT NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at         DATETIME,
	completed_at       DATETIME,
	CHECK (counties_processed <= counties_total)
);

CREATE TABLE IF NOT EXISTS results (
	id                  TEXT PRIMARY KEY,
	job_id              TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	county_id           TEXT NOT NULL REFERENCES counties(id),
	organization_name   TEXT NOT NULL,
	description         TEXT,
	key_personnel_name  TEXT,
	key_personnel_title TEXT,
	key_personnel_phone TEXT,
	key_personnel_email TEXT,
	contact_info        TEXT,
	address             TEXT,
	notes               TEXT,
	source_urls         TEXT,
	confidence_score    REAL NOT NULL DEFAULT 0,
	raw_response        TEXT,
	verified            INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_state_id ON jobs(state_id);
CREATE INDEX IF NOT EXISTS idx_counties_state_id ON counties(state_id, name);
CREATE INDEX IF NOT EXISTS idx_results_job_id ON results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_county_id ON results(county_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, description, stateID string, countiesTotal int, settings model.JobSettings) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal settings")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, description, state_id, status, counties_total, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, description, stateID, string(model.JobStatusPending), countiesTotal, string(settingsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:            id,
		Description:   description,
		StateID:       stateID,
		Status:        model.JobStatusPending,
		CountiesTotal: countiesTotal,
		Settings:      settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, state_id, status, counties_total, counties_processed,
		        current_county, error_message, settings, created_at, updated_at, started_at, completed_at
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, description, state_id, status, counties_total, counties_processed,
	                 current_county, error_message, settings, created_at, updated_at, started_at, completed_at
	          FROM jobs`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.StateID != "" {
		conds = append(conds, "state_id = ?")
		args = append(args, filter.StateID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs rows")
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) error {
	set := "status = ?, updated_at = ?"
	args := []any{string(to), time.Now().UTC()}
	switch {
	case to == model.JobStatusRunning:
		set += ", started_at = COALESCE(started_at, ?)"
		args = append(args, time.Now().UTC())
	case to.Terminal():
		set += ", completed_at = ?, current_county = NULL"
		args = append(args, time.Now().UTC())
	}

	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE status IN (%s) AND id = ?`, set, strings.Join(placeholders, ", "))
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.classifyTransitionMiss(ctx, jobID)
	}
	return nil
}

func (s *SQLiteStore) classifyTransitionMiss(ctx context.Context, jobID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&exists)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check job %s", jobID)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s", jobID)
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, jobID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, completed_at = ?, current_county = NULL
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(model.JobStatusFailed), message, time.Now().UTC(), time.Now().UTC(),
		jobID, string(model.JobStatusCompleted), string(model.JobStatusFailed),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.classifyTransitionMiss(ctx, jobID)
	}
	return nil
}

func (s *SQLiteStore) SetCurrentCounty(ctx context.Context, jobID, countyName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_county = ?, updated_at = ? WHERE id = ?`,
		countyName, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set current county for job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) RecordCountyStep(ctx context.Context, step CountyStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin county step")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range step.Results {
		urlsJSON, err := json.Marshal(r.SourceURLs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source urls")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (id, job_id, county_id, organization_name, description,
			        key_personnel_name, key_personnel_title, key_personnel_phone, key_personnel_email,
			        contact_info, address, notes, source_urls, confidence_score, raw_response, verified, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), step.JobID, step.CountyID, r.OrganizationName, r.Description,
			r.KeyPersonnelName, r.KeyPersonnelTitle, r.KeyPersonnelPhone, r.KeyPersonnelEmail,
			r.ContactInfo, r.Address, r.Notes, string(urlsJSON),
			model.ClampConfidence(r.ConfidenceScore), r.RawResponse, r.Verified, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert result for county %s", step.CountyName)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET counties_processed = counties_processed + 1, current_county = ?, updated_at = ?
		 WHERE id = ? AND counties_processed < counties_total`,
		step.CountyName, now, step.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance job %s", step.JobID)
	}
	if err := checkRowsAffected(res, "job", step.JobID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit county step")
}

// --- Results ---

func (s *SQLiteStore) ListResults(ctx context.Context, jobID string) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.job_id, r.county_id, c.name, st.name,
		        r.organization_name, r.description,
		        r.key_personnel_name, r.key_personnel_title, r.key_personnel_phone, r.key_personnel_email,
		        r.contact_info, r.address, r.notes, r.source_urls,
		        r.confidence_score, r.raw_response, r.verified, r.created_at
		 FROM results r
		 JOIN counties c ON c.id = r.county_id
		 JOIN states st ON st.id = c.state_id
		 WHERE r.job_id = ?
		 ORDER BY c.name, r.created_at`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for job %s", jobID)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results rows")
}

func (s *SQLiteStore) CountResults(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE job_id = ?`, jobID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count results for job %s", jobID)
}

// --- Reference data ---

func (s *SQLiteStore) SeedStates(ctx context.Context, states []model.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed states")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, st := range states {
		id := st.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO states (id, name, abbreviation) VALUES (?, ?, ?)
			 ON CONFLICT(abbreviation) DO NOTHING`,
			id, st.Name, st.Abbreviation,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed state %s", st.Abbreviation)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed states")
}

func (s *SQLiteStore) SeedCounties(ctx context.Context, counties []model.County) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed counties")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range counties {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO counties (id, state_id, name, fips_code) VALUES (?, ?, ?, ?)
			 ON CONFLICT(state_id, name) DO NOTHING`,
			id, c.StateID, c.Name, nullString(c.FIPSCode),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed county %s", c.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed counties")
}

func (s *SQLiteStore) GetStateByCode(ctx context.Context, abbreviation string) (*model.State, error) {
	var st model.State
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, abbreviation, created_at FROM states WHERE abbreviation = ?`,
		strings.ToUpper(abbreviation),
	).Scan(&st.ID, &st.Name, &st.Abbreviation, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "state %s", abbreviation)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get state %s", abbreviation)
	}
	return &st, nil
}

func (s *SQLiteStore) ListStates(ctx context.Context) ([]model.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, abbreviation, created_at FROM states ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list states")
	}
	defer rows.Close()

	var states []model.State
	for rows.Next() {
		var st model.State
		if err := rows.Scan(&st.ID, &st.Name, &st.Abbreviation, &st.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: list states rows")
}

func (s *SQLiteStore) ListCounties(ctx context.Context, stateID string) ([]model.County, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state_id, name, COALESCE(fips_code, ''), created_at
		 FROM counties WHERE state_id = ? ORDER BY name`, stateID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list counties for state %s", stateID)
	}
	defer rows.Close()

	var counties []model.County
	for rows.Next() {
		var c model.County
		if err := rows.Scan(&c.ID, &c.StateID, &c.Name, &c.FIPSCode, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan county")
		}
		counties = append(counties, c)
	}
	return counties, eris.Wrap(rows.Err(), "sqlite: list counties rows")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var currentCounty, errorMessage sql.NullString
	var settingsJSON string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.Description, &j.StateID, &j.Status, &j.CountiesTotal, &j.CountiesProcessed,
		&currentCounty, &errorMessage, &settingsJSON, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.CurrentCounty = currentCounty.String
	j.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(settingsJSON), &j.Settings); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job settings")
	}
	return &j, nil
}

func scanResult(row scannable) (*model.Result, error) {
	var r model.Result
	var desc, kpName, kpTitle, kpPhone, kpEmail, contact, address, notes, urls, raw sql.NullString

	err := row.Scan(&r.ID, &r.JobID, &r.CountyID, &r.CountyName, &r.StateName,
		&r.OrganizationName, &desc, &kpName, &kpTitle, &kpPhone, &kpEmail,
		&contact, &address, &notes, &urls, &r.ConfidenceScore, &raw, &r.Verified, &r.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan result")
	}

	r.Description = desc.String
	r.KeyPersonnelName = kpName.String
	r.KeyPersonnelTitle = kpTitle.String
	r.KeyPersonnelPhone = kpPhone.String
	r.KeyPersonnelEmail = kpEmail.String
	r.ContactInfo = contact.String
	r.Address = address.String
	r.Notes = notes.String
	r.RawResponse = raw.String
	if urls.Valid && urls.String != "" && urls.String != "null" {
		if err := json.Unmarshal([]byte(urls.String), &r.SourceURLs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source urls")
		}
	}
	return &r, nil
}
