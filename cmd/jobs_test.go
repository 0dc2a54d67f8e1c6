package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospector/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abcdef"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatJobsList(t *testing.T) {
	jobs := []model.Job{
		{
			ID:                "aaaabbbb-cccc-dddd-eeee-ffff00001111",
			Description:       "naloxone distribution programs across the state",
			Status:            model.JobStatusRunning,
			CountiesTotal:     3,
			CountiesProcessed: 1,
			CurrentCounty:     "New Castle",
			CreatedAt:         time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)
	out := buf.String()

	assert.Contains(t, out, "aaaabbbb")
	assert.NotContains(t, out, "ffff00001111")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "1/3 (33%)")
	assert.Contains(t, out, "New Castle")
	// Long descriptions are truncated for the table.
	assert.Contains(t, out, "...")
}
