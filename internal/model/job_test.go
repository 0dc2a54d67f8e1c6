package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusPaused.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusPaused, false},
		{JobStatusPending, JobStatusCompleted, false},

		{JobStatusRunning, JobStatusPaused, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusPending, false},

		{JobStatusPaused, JobStatusRunning, true},
		{JobStatusPaused, JobStatusFailed, true},
		{JobStatusPaused, JobStatusCompleted, false},

		// Terminal statuses never change.
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusFailed, JobStatusCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJob_ProgressPercent(t *testing.T) {
	j := &Job{CountiesTotal: 3, CountiesProcessed: 1}
	assert.InDelta(t, 33.3, j.ProgressPercent(), 0.01)

	j.CountiesProcessed = 3
	assert.Equal(t, 100.0, j.ProgressPercent())

	j.CountiesProcessed = 0
	assert.Equal(t, 0.0, j.ProgressPercent())
}

func TestJob_ProgressPercent_ZeroTotal(t *testing.T) {
	j := &Job{}
	assert.Equal(t, 0.0, j.ProgressPercent())
}
