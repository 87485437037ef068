package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmem/recall-go/pkg/intelligence"
)

func newTestClient(t *testing.T, store *fakeStore, llmFake *fakeLLM, embFake *fakeEmbedder) *Client {
	t.Helper()
	if store == nil {
		store = newFakeStore()
	}
	if llmFake == nil {
		llmFake = &fakeLLM{extraction: `{"facts": [], "preferences": []}`}
	}
	if embFake == nil {
		embFake = &fakeEmbedder{}
	}

	client, err := NewClientWithComponents(&Config{}, store, llmFake, embFake)
	require.NoError(t, err)
	return client
}

func TestAddAndGet(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	item, err := client.Add(ctx, "u1", "Allergic to peanuts",
		WithMemoryType(TypeFact), WithImportance(3.0), WithEntities([]string{"peanuts"}))
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)

	assert.Equal(t, "u1", item.UserID)
	assert.Equal(t, 1.0, item.Confidence, "manual adds carry full confidence")
	assert.Equal(t, 3.0, item.Importance)

	got, err := client.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Content, got.Content)
	assert.Equal(t, []string{"peanuts"}, got.Entities)
}

func TestAddValidation(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	_, err := client.Add(ctx, "", "content")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = client.Add(ctx, "u1", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = client.Add(ctx, "u1", "content", WithMemoryType("opinion"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddEmbeddingFailureSurfaces(t *testing.T) {
	client := newTestClient(t, nil, nil, &fakeEmbedder{err: errors.New("provider down")})

	_, err := client.Add(context.Background(), "u1", "content")
	assert.ErrorIs(t, err, ErrEmbeddingFailed, "an un-embedded memory could never be found again")
}

func TestSearchScenarioSarah(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Sarah is a software engineer at Google": {1, 0.1, 0, 0},
		"what does Sarah do":                     {1, 0.2, 0, 0},
		"The weather was nice last Tuesday":      {0, 0, 1, 0},
	}}
	client := newTestClient(t, nil, nil, emb)
	ctx := context.Background()

	_, err := client.Add(ctx, "u1", "Sarah is a software engineer at Google", WithEntities([]string{"Sarah", "Google"}))
	require.NoError(t, err)
	_, err = client.Add(ctx, "u1", "The weather was nice last Tuesday")
	require.NoError(t, err)

	result, err := client.Search(ctx, "u1", "what does Sarah do", WithTopK(5))
	require.NoError(t, err)
	require.NotEmpty(t, result.Memories)

	top := result.Memories[0]
	assert.Equal(t, "Sarah is a software engineer at Google", top.Content)
	require.NotNil(t, top.ScoreBreakdown)
	assert.Greater(t, top.ScoreBreakdown.Semantic, 0.6)
}

func TestProcessTurnAddsNewFact(t *testing.T) {
	store := newFakeStore()
	llmFake := &fakeLLM{
		extraction: `{"facts": [{"content": "Works at Acme", "confidence": 0.9, "importance": 1.0}], "preferences": []}`,
	}
	client := newTestClient(t, store, llmFake, nil)

	result, err := client.ProcessTurn(context.Background(), "u1", "I work at Acme", "Good to know!")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.Len(t, result.Operations, 1)

	assert.Equal(t, intelligence.OpAdd, result.Operations[0].Kind)
	assert.NoError(t, result.Operations[0].Error)
	assert.Equal(t, 1, store.count())
}

func TestProcessTurnIdempotence(t *testing.T) {
	store := newFakeStore()
	llmFake := &fakeLLM{
		extraction:     `{"facts": [{"content": "Works at Acme", "confidence": 0.9, "importance": 1.0}], "preferences": []}`,
		classification: `{"relation": "duplicate", "merged": ""}`,
	}
	client := newTestClient(t, store, llmFake, nil)
	ctx := context.Background()

	// Same turn twice: the second pass classifies as duplicate and stores
	// nothing new.
	_, err := client.ProcessTurn(ctx, "u1", "I work at Acme", "")
	require.NoError(t, err)
	result, err := client.ProcessTurn(ctx, "u1", "I work at Acme", "")
	require.NoError(t, err)

	require.Len(t, result.Operations, 1)
	assert.Equal(t, intelligence.OpNone, result.Operations[0].Kind)
	assert.Equal(t, 1, store.count())
}

func TestProcessTurnRefinementUpdatesInPlace(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Prefers moderate trails":                   {1, 0, 0, 0},
		"Prefers easy trails now":                   {1, 0.05, 0, 0},
		"Prefers easy trails (previously moderate)": {1, 0.02, 0, 0},
	}}
	llmFake := &fakeLLM{
		extraction:     `{"facts": [], "preferences": [{"content": "Prefers easy trails now", "confidence": 0.9, "importance": 1.0}]}`,
		classification: `{"relation": "refinement", "merged": "Prefers easy trails (previously moderate)"}`,
	}
	client := newTestClient(t, store, llmFake, emb)
	ctx := context.Background()

	original, err := client.Add(ctx, "u1", "Prefers moderate trails", WithMemoryType(TypePreference))
	require.NoError(t, err)

	result, err := client.ProcessTurn(ctx, "u1", "Actually I prefer easy trails now", "")
	require.NoError(t, err)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, intelligence.OpUpdate, result.Operations[0].Kind)
	assert.Equal(t, original.ID, result.Operations[0].MemoryID)

	// Exactly one trail preference remains, reflecting "easy".
	all, err := client.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Content, "easy")
	assert.Equal(t, original.ID, all[0].ID)
}

func TestProcessTurnContradictionReplaces(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Allergic to peanuts":     {1, 0, 0, 0},
		"Not allergic to peanuts": {1, 0.05, 0, 0},
	}}
	llmFake := &fakeLLM{
		extraction:     `{"facts": [{"content": "Not allergic to peanuts", "confidence": 0.9, "importance": 1.0}], "preferences": []}`,
		classification: `{"relation": "contradiction", "merged": ""}`,
	}
	client := newTestClient(t, store, llmFake, emb)
	ctx := context.Background()

	_, err := client.Add(ctx, "u1", "Allergic to peanuts")
	require.NoError(t, err)

	result, err := client.ProcessTurn(ctx, "u1", "Turns out I'm not allergic to peanuts", "")
	require.NoError(t, err)
	require.Len(t, result.Operations, 2, "contradiction is an explicit delete plus add")
	assert.Equal(t, intelligence.OpDelete, result.Operations[0].Kind)
	assert.Equal(t, intelligence.OpAdd, result.Operations[1].Kind)

	all, err := client.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Not allergic to peanuts", all[0].Content)
}

func TestProcessTurnExtractionFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	llmFake := &fakeLLM{err: errors.New("completion backend unreachable")}
	client := newTestClient(t, store, llmFake, nil)

	result, err := client.ProcessTurn(context.Background(), "u1", "hello there", "hi")
	require.NoError(t, err, "a failed completion resolves locally, not by aborting the turn")
	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.Operations)
	assert.Equal(t, 0, store.count())
}

func TestProcessTurnStoresRawTurnWhenEnabled(t *testing.T) {
	store := newFakeStore()
	llmFake := &fakeLLM{extraction: `{"facts": [], "preferences": []}`}
	client := newTestClient(t, store, llmFake, nil)
	ctx := context.Background()

	result, err := client.ProcessTurn(ctx, "u1", "hello", "hi", WithStoreRawTurn(true))
	require.NoError(t, err)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, "raw turn", result.Operations[0].Reason)

	all, err := client.GetAll(ctx, "u1", WithTypesForGetAll(TypeConversation))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, TypeConversation, all[0].MemoryType)
}

func TestUpdatePreservesConfidenceAndImportance(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	item, err := client.Add(ctx, "u1", "Lives in Berlin", WithImportance(2.0))
	require.NoError(t, err)

	updated, err := client.Update(ctx, "u1", item.ID, "Lives in Munich")
	require.NoError(t, err)
	assert.Equal(t, "Lives in Munich", updated.Content)
	assert.Equal(t, 2.0, updated.Importance)
	assert.Equal(t, 1.0, updated.Confidence)
}

func TestUpdateEmbedFailureLeavesItemIntact(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	client := newTestClient(t, store, nil, emb)
	ctx := context.Background()

	item, err := client.Add(ctx, "u1", "Lives in Berlin")
	require.NoError(t, err)

	emb.err = errors.New("provider down")
	_, err = client.Update(ctx, "u1", item.ID, "Lives in Munich")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	got, err := client.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lives in Berlin", got.Content, "prior version stays intact")
}

func TestUserScoping(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	item, err := client.Add(ctx, "alice", "Secret fact")
	require.NoError(t, err)

	_, err = client.Get(ctx, "bob", item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = client.Delete(ctx, "bob", item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Update(ctx, "bob", item.ID, "overwritten")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := client.GetAll(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestResetClearsOnlyOneUser(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	_, err := client.Add(ctx, "alice", "Alice fact")
	require.NoError(t, err)
	_, err = client.Add(ctx, "bob", "Bob fact")
	require.NoError(t, err)

	require.NoError(t, client.Reset(ctx, "alice"))

	aliceItems, err := client.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, aliceItems)

	bobItems, err := client.GetAll(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bobItems, 1)
}

func TestSearchEmptyStore(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)

	result, err := client.Search(context.Background(), "u1", "anything")
	require.NoError(t, err)
	assert.Empty(t, result.Memories)
	assert.Zero(t, result.TotalCount)
}

func TestSearchBumpsAccessCount(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Likes jazz": {1, 0, 0, 0},
		"jazz":       {1, 0.1, 0, 0},
	}}
	client := newTestClient(t, nil, nil, emb)
	ctx := context.Background()

	item, err := client.Add(ctx, "u1", "Likes jazz", WithMemoryType(TypePreference))
	require.NoError(t, err)

	_, err = client.Search(ctx, "u1", "jazz")
	require.NoError(t, err)

	got, err := client.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)
}

func TestConcurrentSearchesDoNotLoseBumps(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Likes jazz": {1, 0, 0, 0},
		"jazz":       {1, 0.1, 0, 0},
	}}
	client := newTestClient(t, nil, nil, emb)
	ctx := context.Background()

	item, err := client.Add(ctx, "u1", "Likes jazz", WithMemoryType(TypePreference))
	require.NoError(t, err)

	const searches = 25
	var wg sync.WaitGroup
	for i := 0; i < searches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := client.Search(ctx, "u1", "jazz")
			assert.NoError(t, err)
			assert.Len(t, result.Memories, 1)
		}()
	}
	wg.Wait()

	got, err := client.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(searches), got.AccessCount, "every retrieval's bump lands")
}

func TestGetRecent(t *testing.T) {
	client := newTestClient(t, nil, nil, nil)
	ctx := context.Background()

	first, err := client.Add(ctx, "u1", "Older fact")
	require.NoError(t, err)
	_, err = client.Add(ctx, "u1", "Newer fact")
	require.NoError(t, err)

	recent, err := client.GetRecent(ctx, "u1", first.CreatedAt, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Equal(t, "Newer fact", recent[0].Content, "newest first")
}
