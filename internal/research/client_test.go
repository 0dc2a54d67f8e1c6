package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
)

// mockClient implements anthropic.Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

func TestResearcher_Query(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == 4096 &&
			len(req.System) == 1 &&
			len(req.Messages) == 1
	})).Return(textResponse(sampleResponse), nil)

	r := NewResearcher(client, "claude-sonnet-4-5-20250929", 4096, 10)
	candidates, raw, err := r.Query(context.Background(), "food banks", "Kent", "Delaware")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, sampleResponse, raw)
	client.AssertExpectations(t)
}

func TestResearcher_Query_PromptMentionsCounty(t *testing.T) {
	client := new(mockClient)
	var captured anthropic.MessageRequest
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(textResponse(`{"organizations": []}`), nil)

	r := NewResearcher(client, "m", 1024, 5)
	_, _, err := r.Query(context.Background(), "food banks", "Sussex", "Delaware")
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "Sussex County, Delaware")
	assert.Contains(t, captured.System[0].Text, "food banks")
}

func TestResearcher_Query_UnparseableResponseIsNotAnError(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not find anything useful."), nil)

	r := NewResearcher(client, "m", 1024, 5)
	candidates, raw, err := r.Query(context.Background(), "d", "Kent", "Delaware")
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, "I could not find anything useful.", raw)
}

func TestResearcher_Query_APIErrorIsTransient(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset by peer"))

	r := NewResearcher(client, "m", 1024, 5)
	_, _, err := r.Query(context.Background(), "d", "Kent", "Delaware")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsFatal(err))
}

func TestResearcher_Query_CapsCandidates(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"organizations": [{"name":"A"},{"name":"B"},{"name":"C"}]}`), nil)

	r := NewResearcher(client, "m", 1024, 2)
	candidates, _, err := r.Query(context.Background(), "d", "Kent", "Delaware")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestClassify_PlainErrorIsTransient(t *testing.T) {
	err := classify(errors.New("boom"))
	assert.True(t, resilience.IsTransient(err))

	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
}
