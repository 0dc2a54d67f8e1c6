package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "oracle"},
	}

	st, err := initStore(context.Background())
	assert.Nil(t, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestJobSettings_SnapshotsConfig(t *testing.T) {
	cfg = &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929"},
		Prospect: config.ProspectConfig{
			DelaySecs:           7,
			QueryTimeoutSecs:    60,
			MaxResultsPerCounty: 3,
		},
	}

	s := jobSettings()
	assert.Equal(t, "claude-sonnet-4-5-20250929", s.Model)
	assert.Equal(t, 7, s.DelaySecs)
	assert.Equal(t, 60, s.QueryTimeoutSecs)
	assert.Equal(t, 3, s.MaxResultsPerCounty)
}

func TestInitRunner_RequiresKey(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
	}
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = initRunner(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}
