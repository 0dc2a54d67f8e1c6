// Package research is the boundary to the external AI service. It issues one
// isolated query per county and parses the loosely-typed response into the
// strict candidate schema.
package research

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
)

// Querier is the AI query contract the job runner depends on. Errors are
// classified: resilience.FatalError means broken credentials/config,
// anything else is a per-county transient failure.
type Querier interface {
	Query(ctx context.Context, description, countyName, stateName string) ([]model.Candidate, string, error)
}

// Researcher implements Querier on top of the Anthropic client.
type Researcher struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	maxResults int
}

// NewResearcher creates a Researcher. maxResults caps candidates per county;
// zero means uncapped.
func NewResearcher(client anthropic.Client, model string, maxTokens int64, maxResults int) *Researcher {
	return &Researcher{
		client:     client,
		model:      model,
		maxTokens:  maxTokens,
		maxResults: maxResults,
	}
}

// Query researches one county. It returns the parsed candidates and the raw
// response text (kept for audit). A response that parses to nothing is a
// successful query with zero candidates, not an error.
func (r *Researcher) Query(ctx context.Context, description, countyName, stateName string) ([]model.Candidate, string, error) {
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt(description)}},
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt(description, countyName, stateName)},
		},
	})
	if err != nil {
		return nil, "", classify(err)
	}

	resp.Usage.LogCost(r.model, countyName)

	raw := resp.Text()
	candidates := parseCandidates(raw, countyName, r.maxResults)
	zap.L().Debug("county researched",
		zap.String("county", countyName),
		zap.String("state", stateName),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, raw, nil
}

// classify maps an API error onto the transient/fatal taxonomy. Auth and
// permission failures are fatal; everything else (rate limits, 5xx, network
// trouble, unknown errors) is treated as transient so a single county's
// failure never stops the run.
func classify(err error) error {
	status := anthropic.StatusCode(err)
	if resilience.IsFatalHTTPStatus(status) {
		return resilience.NewFatalError(eris.Wrap(err, "research: query"), status)
	}
	return resilience.NewTransientError(eris.Wrap(err, "research: query"), status)
}
