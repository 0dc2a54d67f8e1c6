// Package geo owns the static US state/county reference data and its
// deterministic ordering. Counties are processed in a stable alphabetical
// order so job progress is reproducible and resumable.
package geo

import (
	"context"
	_ "embed"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

//go:embed counties.yaml
var rawDataset []byte

type StateEntry struct {
	Name         string   `yaml:"name"`
	Abbreviation string   `yaml:"abbreviation"`
	Counties     []string `yaml:"counties"`
}

type dataset struct {
	States []StateEntry `yaml:"states"`
}

// LoadDataset parses the embedded reference dataset.
func LoadDataset() ([]StateEntry, error) {
	var ds dataset
	if err := yaml.Unmarshal(rawDataset, &ds); err != nil {
		return nil, eris.Wrap(err, "geo: parse dataset")
	}
	if len(ds.States) == 0 {
		return nil, eris.New("geo: empty dataset")
	}
	return ds.States, nil
}

// Seed idempotently loads the embedded states and counties into the store.
func Seed(ctx context.Context, st store.Store) error {
	states, err := LoadDataset()
	if err != nil {
		return err
	}

	modelStates := make([]model.State, len(states))
	for i, s := range states {
		modelStates[i] = model.State{Name: s.Name, Abbreviation: s.Abbreviation}
	}
	if err := st.SeedStates(ctx, modelStates); err != nil {
		return err
	}

	byAbbrev := make(map[string]string, len(states))
	persisted, err := st.ListStates(ctx)
	if err != nil {
		return err
	}
	for _, s := range persisted {
		byAbbrev[s.Abbreviation] = s.ID
	}

	var counties []model.County
	for _, s := range states {
		stateID, ok := byAbbrev[s.Abbreviation]
		if !ok {
			return eris.Errorf("geo: seeded state %s missing from store", s.Abbreviation)
		}
		for _, name := range s.Counties {
			counties = append(counties, model.County{StateID: stateID, Name: name})
		}
	}
	if err := st.SeedCounties(ctx, counties); err != nil {
		return err
	}

	zap.L().Info("reference data seeded",
		zap.Int("states", len(modelStates)),
		zap.Int("counties", len(counties)),
	)
	return nil
}

// SortCounties orders counties alphabetically by name using an English
// collation, independent of the database's collation settings. This is the
// stable processing order the job runner resumes against.
func SortCounties(counties []model.County) {
	c := collate.New(language.AmericanEnglish, collate.IgnoreCase)
	slices.SortStableFunc(counties, func(a, b model.County) int {
		return c.CompareString(a.Name, b.Name)
	})
}
