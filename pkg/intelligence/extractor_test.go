package intelligence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFactsAndPreferences(t *testing.T) {
	llmMock := &mockLLM{responses: []string{`{
		"facts": [
			{"content": "Sarah works as a software engineer at Google", "entities": ["Sarah", "Google"], "confidence": 0.95, "importance": 1.5}
		],
		"preferences": [
			{"content": "Prefers moderate hiking trails", "entities": [], "confidence": 0.9, "importance": 1.0}
		],
		"entities": ["Sarah", "Google"],
		"confidence": 0.9,
		"importance": 1.0
	}`}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(),
		"I'm Sarah, I work at Google and I prefer moderate hiking trails", "Nice to meet you!")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "fact", candidates[0].MemoryType)
	assert.Equal(t, "Sarah works as a software engineer at Google", candidates[0].Content)
	assert.InDelta(t, 0.95, candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 1.5, candidates[0].Importance, 1e-9)
	assert.Equal(t, []string{"Sarah", "Google"}, candidates[0].Entities)

	assert.Equal(t, "preference", candidates[1].MemoryType)
	assert.Equal(t, "Prefers moderate hiking trails", candidates[1].Content)
}

func TestExtractToleratesCodeFences(t *testing.T) {
	llmMock := &mockLLM{responses: []string{"```json\n" + `{"facts": [{"content": "Lives in Berlin"}], "preferences": []}` + "\n```"}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "I live in Berlin", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Lives in Berlin", candidates[0].Content)
}

func TestExtractDefaultsWhenFieldsAbsent(t *testing.T) {
	llmMock := &mockLLM{responses: []string{`{"facts": [{"content": "Has a dog named Rex"}], "preferences": []}`}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "I have a dog named Rex", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.InDelta(t, 0.6, candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 1.0, candidates[0].Importance, 1e-9)
}

func TestExtractClampsOutOfRangeValues(t *testing.T) {
	llmMock := &mockLLM{responses: []string{`{"facts": [{"content": "X", "confidence": 1.7, "importance": 9.0}], "preferences": []}`}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "turn", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.Equal(t, 1.0, candidates[0].Confidence)
	assert.Equal(t, 5.0, candidates[0].Importance)
}

func TestExtractBareStringEntries(t *testing.T) {
	llmMock := &mockLLM{responses: []string{`{"facts": ["Met John yesterday"], "preferences": ["Likes tea"], "confidence": 0.8, "importance": 1.2}`}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "turn", "")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "Met John yesterday", candidates[0].Content)
	assert.InDelta(t, 0.8, candidates[0].Confidence, 1e-9)
	assert.InDelta(t, 1.2, candidates[0].Importance, 1e-9)
	assert.Equal(t, "preference", candidates[1].MemoryType)
}

func TestExtractMalformedResponseYieldsNothing(t *testing.T) {
	llmMock := &mockLLM{responses: []string{"sorry, I cannot produce JSON today"}}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "hello", "hi")
	assert.NoError(t, err, "malformed output is tolerated, not an error")
	assert.Empty(t, candidates)
}

func TestExtractProviderErrorSurfaces(t *testing.T) {
	llmMock := &mockLLM{err: errors.New("connection refused")}

	extractor := NewTurnExtractor(llmMock)
	_, err := extractor.Extract(context.Background(), "hello", "hi")
	assert.Error(t, err)
}

func TestExtractEmptyTurnSkipsProvider(t *testing.T) {
	llmMock := &mockLLM{}

	extractor := NewTurnExtractor(llmMock)
	candidates, err := extractor.Extract(context.Background(), "   ", "")
	assert.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, 0, llmMock.calls)
}

func TestExtractCustomPrompt(t *testing.T) {
	extractor := NewTurnExtractorWithPrompt(&mockLLM{}, "custom")
	assert.Equal(t, "custom", extractor.getSystemPrompt())
}
