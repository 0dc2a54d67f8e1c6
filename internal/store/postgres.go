package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// Pool abstracts the subset of pgxpool.Pool the store uses, so tests can
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

const (
	sqlInsertResult = `INSERT INTO results (id, job_id, county_id, organization_name, description,
		key_personnel_name, key_personnel_title, key_personnel_phone, key_personnel_email,
		contact_info, address, notes, source_urls, confidence_score, raw_response, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	sqlAdvanceJob = `UPDATE jobs SET counties_processed = counties_processed + 1, current_county = $1, updated_at = $2
		WHERE id = $3 AND counties_processed < counties_total`
	sqlGetJob = `SELECT id, description, state_id, status, counties_total, counties_processed,
		current_county, error_message, settings, created_at, updated_at, started_at, completed_at
		FROM jobs WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot county-step path.
var preparedStatements = []string{
	sqlInsertResult,
	sqlAdvanceJob,
	sqlGetJob,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrap(err, "postgres: prepare statement")
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS states (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	abbreviation TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS counties (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	state_id   TEXT NOT NULL REFERENCES states(id),
	name       TEXT NOT NULL,
	fips_code  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(state_id, name)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	description        TEXT NOT NULL,
	state_id           TEXT NOT NULL REFERENCES states(id),
	status             TEXT NOT NULL DEFAULT 'pending',
	counties_total     INTEGER NOT NULL DEFAULT 0,
	counties_processed INTEGER NOT NULL DEFAULT 0,
	current_county     TEXT,
	error_message      TEXT,
	settings           JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	CHECK (counties_processed <= counties_total)
);

CREATE TABLE IF NOT EXISTS results (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	source_urls         JSONB,
	confidence_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	raw_response        TEXT,
	verified            BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_state_id ON jobs(state_id);
CREATE INDEX IF NOT EXISTS idx_counties_state_id ON counties(state_id, name);
CREATE INDEX IF NOT EXISTS idx_results_job_id ON results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_county_id ON results(county_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, description, stateID string, countiesTotal int, settings model.JobSettings) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal settings")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, description, state_id, status, counties_total, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, description, stateID, string(model.JobStatusPending), countiesTotal, settingsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, sqlGetJob, jobID)
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, description, state_id, status, counties_total, counties_processed,
	                 current_county, error_message, settings, created_at, updated_at, started_at, completed_at
	          FROM jobs`
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StateID != "" {
		args = append(args, filter.StateID)
		conds = append(conds, fmt.Sprintf("state_id = $%d", len(args)))
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs rows")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) error {
	set := "status = $1, updated_at = $2"
	args := []any{string(to), time.Now().UTC()}
	switch {
	case to == model.JobStatusRunning:
		args = append(args, time.Now().UTC())
		set += fmt.Sprintf(", started_at = COALESCE(started_at, $%d)", len(args))
	case to.Terminal():
		args = append(args, time.Now().UTC())
		set += fmt.Sprintf(", completed_at = $%d, current_county = NULL", len(args))
	}

	placeholders := make([]string, len(from))
	for i, st := range from {
		args = append(args, string(st))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, jobID)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE status IN (%s) AND id = $%d`,
		set, strings.Join(placeholders, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyTransitionMiss(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) classifyTransitionMiss(ctx context.Context, jobID string) error {
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, jobID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check job %s", jobID)
	}
	return eris.Wrapf(ErrInvalidTransition, "job %s", jobID)
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3, completed_at = $3, current_county = NULL
		 WHERE id = $4 AND status NOT IN ($5, $6)`,
		string(model.JobStatusFailed), message, time.Now().UTC(),
		jobID, string(model.JobStatusCompleted), string(model.JobStatusFailed),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyTransitionMiss(ctx, jobID)
	}
	return nil
}

func (s *PostgresStore) SetCurrentCounty(ctx context.Context, jobID, countyName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_county = $1, updated_at = $2 WHERE id = $3`,
		countyName, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set current county for job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RecordCountyStep(ctx context.Context, step CountyStep) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin county step")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range step.Results {
		urlsJSON, err := json.Marshal(r.SourceURLs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal source urls")
		}
		_, err = tx.Exec(ctx, sqlInsertResult,
			uuid.New().String(), step.JobID, step.CountyID, r.OrganizationName, r.Description,
			r.KeyPersonnelName, r.KeyPersonnelTitle, r.KeyPersonnelPhone, r.KeyPersonnelEmail,
			r.ContactInfo, r.Address, r.Notes, urlsJSON,
			model.ClampConfidence(r.ConfidenceScore), r.RawResponse, r.Verified, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert result for county %s", step.CountyName)
		}
	}

	tag, err := tx.Exec(ctx, sqlAdvanceJob, step.CountyName, now, step.JobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance job %s", step.JobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", step.JobID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit county step")
}

// --- Results ---

func (s *PostgresStore) ListResults(ctx context.Context, jobID string) ([]model.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.job_id, r.county_id, c.name, st.name,
		        r.organization_name, r.description,
		        r.key_personnel_name, r.key_personnel_title, r.key_personnel_phone, r.key_personnel_email,
		        r.contact_info, r.address, r.notes, r.source_urls,
		        r.confidence_score, r.raw_response, r.verified, r.created_at
		 FROM results r
		 JOIN counties c ON c.id = r.county_id
		 JOIN states st ON st.id = c.state_id
		 WHERE r.job_id = $1
		 ORDER BY c.name, r.created_at`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for job %s", jobID)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		r, err := scanPgResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results rows")
}

func (s *PostgresStore) CountResults(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM results WHERE job_id = $1`, jobID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count results for job %s", jobID)
}

// --- Reference data ---

func (s *PostgresStore) SeedStates(ctx context.Context, states []model.State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin seed states")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, st := range states {
		id := st.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO states (id, name, abbreviation) VALUES ($1, $2, $3)
			 ON CONFLICT (abbreviation) DO NOTHING`,
			id, st.Name, st.Abbreviation,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed state %s", st.Abbreviation)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit seed states")
}

func (s *PostgresStore) SeedCounties(ctx context.Context, counties []model.County) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin seed counties")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range counties {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO counties (id, state_id, name, fips_code) VALUES ($1, $2, $3, NULLIF($4, ''))
			 ON CONFLICT (state_id, name) DO NOTHING`,
			id, c.StateID, c.Name, c.FIPSCode,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed county %s", c.Name)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit seed counties")
}

func (s *PostgresStore) GetStateByCode(ctx context.Context, abbreviation string) (*model.State, error) {
	var st model.State
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, abbreviation, created_at FROM states WHERE abbreviation = $1`,
		strings.ToUpper(abbreviation),
	).Scan(&st.ID, &st.Name, &st.Abbreviation, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "state %s", abbreviation)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get state %s", abbreviation)
	}
	return &st, nil
}

func (s *PostgresStore) ListStates(ctx context.Context) ([]model.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, abbreviation, created_at FROM states ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list states")
	}
	defer rows.Close()

	var states []model.State
	for rows.Next() {
		var st model.State
		if err := rows.Scan(&st.ID, &st.Name, &st.Abbreviation, &st.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "postgres: list states rows")
}

func (s *PostgresStore) ListCounties(ctx context.Context, stateID string) ([]model.County, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, state_id, name, COALESCE(fips_code, ''), created_at
		 FROM counties WHERE state_id = $1 ORDER BY name`, stateID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list counties for state %s", stateID)
	}
	defer rows.Close()

	var counties []model.County
	for rows.Next() {
		var c model.County
		if err := rows.Scan(&c.ID, &c.StateID, &c.Name, &c.FIPSCode, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan county")
		}
		counties = append(counties, c)
	}
	return counties, eris.Wrap(rows.Err(), "postgres: list counties rows")
}

// helpers

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var currentCounty, errorMessage *string
	var settingsJSON []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(&j.ID, &j.Description, &j.StateID, &j.Status, &j.CountiesTotal, &j.CountiesProcessed,
		&currentCounty, &errorMessage, &settingsJSON, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if currentCounty != nil {
		j.CurrentCounty = *currentCounty
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	if err := json.Unmarshal(settingsJSON, &j.Settings); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job settings")
	}
	return &j, nil
}

func scanPgResult(row pgx.Row) (*model.Result, error) {
	var r model.Result
	var desc, kpName, kpTitle, kpPhone, kpEmail, contact, address, notes, raw *string
	var urlsJSON []byte

	err := row.Scan(&r.ID, &r.JobID, &r.CountyID, &r.CountyName, &r.StateName,
		&r.OrganizationName, &desc, &kpName, &kpTitle, &kpPhone, &kpEmail,
		&contact, &address, &notes, &urlsJSON, &r.ConfidenceScore, &raw, &r.Verified, &r.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan result")
	}

	if desc != nil {
		r.Description = *desc
	}
	if kpName != nil {
		r.KeyPersonnelName = *kpName
	}
	if kpTitle != nil {
		r.KeyPersonnelTitle = *kpTitle
	}
	if kpPhone != nil {
		r.KeyPersonnelPhone = *kpPhone
	}
	if kpEmail != nil {
		r.KeyPersonnelEmail = *kpEmail
	}
	if contact != nil {
		r.ContactInfo = *contact
	}
	if address != nil {
		r.Address = *address
	}
	if notes != nil {
		r.Notes = *notes
	}
	if raw != nil {
		r.RawResponse = *raw
	}
	if len(urlsJSON) > 0 && string(urlsJSON) != "null" {
		if err := json.Unmarshal(urlsJSON, &r.SourceURLs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source urls")
		}
	}
	return &r, nil
}
