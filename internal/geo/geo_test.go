package geo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

func TestLoadDataset(t *testing.T) {
	states, err := LoadDataset()
	require.NoError(t, err)
	assert.Len(t, states, 50)

	byAbbrev := make(map[string]StateEntry, len(states))
	for _, s := range states {
		byAbbrev[s.Abbreviation] = s
	}

	de, ok := byAbbrev["DE"]
	require.True(t, ok)
	assert.Equal(t, "Delaware", de.Name)
	assert.Equal(t, []string{"Kent", "New Castle", "Sussex"}, de.Counties)

	assert.Equal(t, "Texas", byAbbrev["TX"].Name)
	assert.NotEmpty(t, byAbbrev["TX"].Counties)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSeed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, st))

	states, err := st.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 50)

	de, err := st.GetStateByCode(ctx, "DE")
	require.NoError(t, err)
	counties, err := st.ListCounties(ctx, de.ID)
	require.NoError(t, err)
	assert.Len(t, counties, 3)
}

func TestSeed_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, st))
	require.NoError(t, Seed(ctx, st))

	states, err := st.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 50)

	de, err := st.GetStateByCode(ctx, "DE")
	require.NoError(t, err)
	counties, err := st.ListCounties(ctx, de.ID)
	require.NoError(t, err)
	assert.Len(t, counties, 3)
}

func TestSortCounties(t *testing.T) {
	counties := []model.County{
		{Name: "Sussex"},
		{Name: "new castle"},
		{Name: "Kent"},
	}
	SortCounties(counties)

	names := make([]string, len(counties))
	for i, c := range counties {
		names[i] = c.Name
	}
	// Case-insensitive alphabetical order.
	assert.Equal(t, []string{"Kent", "new castle", "Sussex"}, names)
}

func TestSortCounties_Stable(t *testing.T) {
	counties := []model.County{
		{ID: "1", Name: "Kent"},
		{ID: "2", Name: "Kent"},
	}
	SortCounties(counties)
	assert.Equal(t, "1", counties[0].ID)
	assert.Equal(t, "2", counties[1].ID)
}
