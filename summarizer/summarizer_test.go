package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// fakeModel liefert vorgegebene Antworten und merkt sich die Anfragen.
type fakeModel struct {
	responses []string
	err       error
	calls     int
	messages  [][]llms.MessageContent
	options   []llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = append(m.messages, msgs)
	var co llms.CallOptions
	for _, o := range opts {
		o(&co)
	}
	m.options = append(m.options, co)

	if m.err != nil {
		return nil, m.err
	}
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.responses[i]}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

const validJSON = `{
  "summary": "Growth slows in the region.",
  "key_points": ["GDP growth 2%", "Inflation easing"],
  "key_numbers": [{"metric": "GDP growth", "value": 2, "unit": "%", "context": "Q1"}],
  "topics": ["growth"],
  "countries": ["Egypt"],
  "dates": {"published": "2025-10-14", "horizon": null, "other": {}},
  "impact_level": "medium",
  "confidence": 0.7,
  "extra_field": true
}`

func TestSummarizeParsesJSON(t *testing.T) {
	model := &fakeModel{responses: []string{validJSON}}
	s := NewWithModel(model, 0, zap.NewNop())

	sum, err := s.Summarize(context.Background(), "Q1 GDP grew 2%.", "REO", "imf_reo_meca")
	require.NoError(t, err)

	assert.Equal(t, "Growth slows in the region.", sum.Summary)
	assert.Equal(t, []string{"GDP growth 2%", "Inflation easing"}, sum.KeyPoints)
	require.Len(t, sum.KeyNumbers, 1)
	assert.Equal(t, "GDP growth", sum.KeyNumbers[0].Metric)
	assert.Equal(t, "%", sum.KeyNumbers[0].Unit)
	assert.Equal(t, float64(2), sum.KeyNumbers[0].Value)
	require.NotNil(t, sum.Dates.Published)
	assert.Nil(t, sum.Dates.Horizon)
	assert.Equal(t, "medium", sum.ImpactLevel)
	require.NotNil(t, sum.Confidence)
	assert.InDelta(t, 0.7, *sum.Confidence, 1e-9)
	assert.Contains(t, string(sum.Raw), "extra_field")

	require.Len(t, model.options, 1)
	assert.True(t, model.options[0].JSONMode)
	assert.InDelta(t, 0.2, model.options[0].Temperature, 1e-9)
}

func TestSummarizePromptCarriesSourceAndText(t *testing.T) {
	model := &fakeModel{responses: []string{validJSON}}
	s := NewWithModel(model, 5, zap.NewNop())

	_, err := s.Summarize(context.Background(), "abcdefghij", "Gas Report", "iea_gas_reports")
	require.NoError(t, err)

	msgs := model.messages[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, msgs[1].Role)

	part, ok := msgs[1].Parts[0].(llms.TextContent)
	require.True(t, ok)
	var user map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(part.Text), &user))
	assert.Equal(t, "iea_gas_reports", user["source"])
	assert.Equal(t, "Gas Report", user["title"])
	assert.Equal(t, "abcde", user["text"])
	assert.Contains(t, user, "required_json_schema")
}

func TestSummarizeRetriesInvalidJSON(t *testing.T) {
	model := &fakeModel{responses: []string{"not json", "```json\n" + validJSON + "\n```"}}
	s := NewWithModel(model, 0, zap.NewNop())

	sum, err := s.Summarize(context.Background(), "text", "t", "s")
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
	assert.Equal(t, "medium", sum.ImpactLevel)
}

func TestSummarizeGivesUpAfterRetries(t *testing.T) {
	model := &fakeModel{responses: []string{"{broken"}}
	s := NewWithModel(model, 0, zap.NewNop())

	_, err := s.Summarize(context.Background(), "text", "t", "s")
	require.Error(t, err)
	assert.Equal(t, 3, model.calls)
}

func TestSummarizeAcceptsLooseFieldShapes(t *testing.T) {
	withField := func(old, repl string) string {
		out := strings.Replace(validJSON, old, repl, 1)
		require.NotEqual(t, validJSON, out)
		return out
	}

	t.Run("confidence as string", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"confidence": 0.7`, `"confidence": "0.8"`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		assert.Equal(t, 1, model.calls)
		require.NotNil(t, sum.Confidence)
		assert.InDelta(t, 0.8, *sum.Confidence, 1e-9)
	})

	t.Run("confidence as percent", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"confidence": 0.7`, `"confidence": "75%"`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		require.NotNil(t, sum.Confidence)
		assert.InDelta(t, 0.75, *sum.Confidence, 1e-9)
	})

	t.Run("unparseable confidence is dropped", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"confidence": 0.7`, `"confidence": "high"`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		assert.Nil(t, sum.Confidence)
		assert.Equal(t, "Growth slows in the region.", sum.Summary)
	})

	t.Run("dates other as string", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"other": {}`, `"other": "none"`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		assert.Equal(t, 1, model.calls)
		assert.Equal(t, "none", sum.Dates.Other)
		require.NotNil(t, sum.Dates.Published)
		assert.Equal(t, "2025-10-14", *sum.Dates.Published)
	})

	t.Run("unit as number", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"unit": "%"`, `"unit": 2`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		assert.Equal(t, 1, model.calls)
		require.Len(t, sum.KeyNumbers, 1)
		assert.Equal(t, float64(2), sum.KeyNumbers[0].Unit)
	})

	t.Run("list as single string", func(t *testing.T) {
		model := &fakeModel{responses: []string{withField(`"topics": ["growth"]`, `"topics": "growth"`)}}
		sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
		require.NoError(t, err)
		assert.Equal(t, []string{"growth"}, sum.Topics)
	})
}

func TestSummarizeRetriesNonObjectJSON(t *testing.T) {
	model := &fakeModel{responses: []string{`["not", "an", "object"]`, "null", validJSON}}
	sum, err := NewWithModel(model, 0, zap.NewNop()).Summarize(context.Background(), "text", "t", "s")
	require.NoError(t, err)
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, "medium", sum.ImpactLevel)
}

func TestSummarizePropagatesModelError(t *testing.T) {
	boom := errors.New("rate limited")
	model := &fakeModel{err: boom}
	s := NewWithModel(model, 0, zap.NewNop())

	_, err := s.Summarize(context.Background(), "text", "t", "s")
	assert.ErrorIs(t, err, boom)
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "äöü", Truncate("äöüß", 3))
	assert.Equal(t, "short", Truncate("short", 10))
	long := strings.Repeat("x", 20)
	assert.Len(t, Truncate(long, 7), 7)
	assert.Equal(t, long, Truncate(long, 0))
}
