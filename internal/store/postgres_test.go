package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

const settingsJSON = `{"model":"claude-sonnet-4-5-20250929","delay_secs":5,"query_timeout_secs":120,"max_results_per_county":10}`

func jobColumns() []string {
	return []string{
		"id", "description", "state_id", "status", "counties_total", "counties_processed",
		"current_county", "error_message", "settings", "created_at", "updated_at", "started_at", "completed_at",
	}
}

func TestPostgres_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, description, state_id, status, counties_total, counties_processed`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
			"job-1", "food banks", "state-1", "running", 3, 1,
			nil, nil, []byte(settingsJSON), now, now, &now, nil,
		))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, 3, job.CountiesTotal)
	assert.Equal(t, 1, job.CountiesProcessed)
	assert.Equal(t, 5, job.Settings.DelaySecs)
	assert.NotNil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, description, state_id, status`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "food banks", "state-1", "pending", 3,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), "food banks", "state-1", 3, testSettings)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, testSettings, job.Settings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransitionJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.TransitionJob(context.Background(), "job-1",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransitionJob_GuardMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM jobs`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.TransitionJob(context.Background(), "job-1",
		[]model.JobStatus{model.JobStatusPaused}, model.JobStatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TransitionJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM jobs`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := s.TransitionJob(context.Background(), "missing",
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusRunning)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkJobFailed_TerminalGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM jobs`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.MarkJobFailed(context.Background(), "job-1", "boom")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetCurrentCounty_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET current_county`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetCurrentCounty(context.Background(), "missing", "Kent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordCountyStep(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO results`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE jobs SET counties_processed`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	step := CountyStep{
		JobID:      "job-1",
		CountyID:   "county-1",
		CountyName: "Kent",
		Results:    []model.Result{testResult("job-1", "county-1", "Org A")},
	}
	require.NoError(t, s.RecordCountyStep(context.Background(), step))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordCountyStep_AdvanceRefused(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET counties_processed`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	step := CountyStep{JobID: "job-1", CountyID: "county-1", CountyName: "Kent"}
	err := s.RecordCountyStep(context.Background(), step)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetStateByCode_UppercasesInput(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, abbreviation, created_at FROM states`).
		WithArgs("DE").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "abbreviation", "created_at"}).
			AddRow("state-1", "Delaware", "DE", now))

	state, err := s.GetStateByCode(context.Background(), "de")
	require.NoError(t, err)
	assert.Equal(t, "Delaware", state.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM results`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountResults(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
