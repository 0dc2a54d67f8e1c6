package model

import (
	"time"
)

// JobStatus represents the current state of a prospecting job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether a job in this status can never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a status change is legal. Transitions are
// forward-only except paused <-> running (pause/resume).
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusPaused || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusPaused:
		return to == JobStatusRunning || to == JobStatusFailed
	default:
		return false
	}
}

// JobSettings is the configuration snapshot frozen onto a job at creation.
// A mid-run config change never alters an in-progress job.
type JobSettings struct {
	Model               string `json:"model"`
	DelaySecs           int    `json:"delay_secs"`
	QueryTimeoutSecs    int    `json:"query_timeout_secs"`
	MaxResultsPerCounty int    `json:"max_results_per_county"`
}

// Job represents one end-to-end research run for a description+state pair.
type Job struct {
	ID                string      `json:"id"`
	Description       string      `json:"description"`
	StateID           string      `json:"state_id"`
	Status            JobStatus   `json:"status"`
	CountiesTotal     int         `json:"counties_total"`
	CountiesProcessed int         `json:"counties_processed"`
	CurrentCounty     string      `json:"current_county,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	Settings          JobSettings `json:"settings"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// ProgressPercent returns processed/total as a percentage rounded to one
// decimal place. Returns 0 for jobs with no counties.
func (j *Job) ProgressPercent() float64 {
	if j.CountiesTotal == 0 {
		return 0
	}
	pct := float64(j.CountiesProcessed) / float64(j.CountiesTotal) * 100
	return float64(int(pct*10+0.5)) / 10
}
