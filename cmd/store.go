package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/prospect"
	"github.com/sells-group/prospector/internal/research"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// jobSettings snapshots the current config for new jobs.
func jobSettings() model.JobSettings {
	return model.JobSettings{
		Model:               cfg.Anthropic.Model,
		DelaySecs:           cfg.Prospect.DelaySecs,
		QueryTimeoutSecs:    cfg.Prospect.QueryTimeoutSecs,
		MaxResultsPerCounty: cfg.Prospect.MaxResultsPerCounty,
	}
}

// initRunner builds the job runner with the Anthropic-backed researcher.
func initRunner(st store.Store) (*prospect.Runner, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic.key is required (set PROSPECTOR_ANTHROPIC_KEY)")
	}
	client := anthropic.NewClient(cfg.Anthropic.Key)
	researcher := research.NewResearcher(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Prospect.MaxResultsPerCounty)
	return prospect.NewRunner(st, researcher, jobSettings()), nil
}
