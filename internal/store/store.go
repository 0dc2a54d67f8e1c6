package store

import (
	"context"
	"errors"

	"github.com/sells-group/prospector/internal/model"
)

// ErrNotFound is returned when a job, state, or county does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a guarded status update finds the
// job in a status it cannot legally leave for the requested one. Concurrent
// pause/resume requests race on this guard; exactly one wins.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status  model.JobStatus `json:"status,omitempty"`
	StateID string          `json:"state_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// CountyStep is the unit of progress persisted after each county attempt:
// zero or more result rows plus a counter increment, applied atomically so a
// crash never leaves counties_processed ahead of the persisted attempts by
// more than the one in-flight county.
type CountyStep struct {
	JobID      string
	CountyID   string
	CountyName string
	Results    []model.Result
}

// Store defines the persistence interface for the prospecting service.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, description, stateID string, countiesTotal int, settings model.JobSettings) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// TransitionJob performs a guarded status change: the update applies only
	// if the job's current status is in from. Returns ErrInvalidTransition
	// when the guard misses and ErrNotFound when the job does not exist.
	TransitionJob(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus) error
	MarkJobFailed(ctx context.Context, jobID, message string) error
	SetCurrentCounty(ctx context.Context, jobID, countyName string) error
	RecordCountyStep(ctx context.Context, step CountyStep) error

	// Results (append-only)
	ListResults(ctx context.Context, jobID string) ([]model.Result, error)
	CountResults(ctx context.Context, jobID string) (int, error)

	// Reference data (read-only during job execution)
	SeedStates(ctx context.Context, states []model.State) error
	SeedCounties(ctx context.Context, counties []model.County) error
	GetStateByCode(ctx context.Context, abbreviation string) (*model.State, error)
	ListStates(ctx context.Context) ([]model.State, error)
	ListCounties(ctx context.Context, stateID string) ([]model.County, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
