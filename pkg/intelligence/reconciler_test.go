package intelligence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmem/recall-go/pkg/storage"
)

func newTestReconciler(store storage.VectorStore, llmMock *mockLLM, emb *mockEmbedder) *Reconciler {
	ranker := NewRanker(store, emb, DefaultRankingConfig())
	return NewReconciler(llmMock, emb, ranker, DefaultReconcileConfig())
}

func seedItem(t *testing.T, store storage.VectorStore, id, userID, content string, embedding []float64) *storage.Item {
	t.Helper()
	item := &storage.Item{
		ID:         id,
		UserID:     userID,
		Content:    content,
		Embedding:  embedding,
		MemoryType: "preference",
		Importance: 1.0,
		Confidence: 0.8,
		CreatedAt:  time.Now().Add(-time.Hour),
		UpdatedAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), item))
	return item
}

func TestReconcileAddWhenNoOverlap(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Likes jazz music": {1, 0, 0, 0},
	}}
	llmMock := &mockLLM{}

	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content:    "Likes jazz music",
		MemoryType: "preference",
		Confidence: 0.9,
		Importance: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 1)

	assert.Equal(t, OpAdd, decision.Operations[0].Kind)
	assert.Equal(t, "preference", decision.Operations[0].MemoryType)
	assert.Equal(t, []float64{1, 0, 0, 0}, decision.Embedding)
	assert.Equal(t, 0, llmMock.calls, "no overlap means no classification call")
}

func TestReconcileDuplicate(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Prefers moderate trails": {1, 0, 0, 0},
	}}
	seedItem(t, store, "m1", "u1", "Prefers moderate trails", []float64{1, 0, 0, 0})

	llmMock := &mockLLM{responses: []string{`{"relation": "duplicate", "merged": ""}`}}

	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content: "Prefers moderate trails", MemoryType: "preference", Confidence: 0.9, Importance: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 1)

	assert.Equal(t, OpNone, decision.Operations[0].Kind)
	assert.Equal(t, "m1", decision.Operations[0].TargetID)
}

func TestReconcileRefinementMergesFields(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Prefers easy trails now": {1, 0.05, 0, 0},
	}}
	existing := seedItem(t, store, "m1", "u1", "Prefers moderate trails", []float64{1, 0, 0, 0})
	existing.Entities = []string{"trails"}
	require.NoError(t, store.Insert(context.Background(), existing))

	llmMock := &mockLLM{responses: []string{`{"relation": "refinement", "merged": "Prefers easy trails (previously moderate)"}`}}

	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content:    "Prefers easy trails now",
		MemoryType: "preference",
		Confidence: 0.95,
		Importance: 2.0,
		Entities:   []string{"easy trails"},
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 1)

	op := decision.Operations[0]
	assert.Equal(t, OpUpdate, op.Kind)
	assert.Equal(t, "m1", op.TargetID)
	assert.Equal(t, "Prefers easy trails (previously moderate)", op.Content)
	assert.InDelta(t, 0.95, op.Confidence, 1e-9, "confidence is max(old, new)")
	assert.InDelta(t, 2.0, op.Importance, 1e-9, "importance is raised, never lowered")
	assert.Equal(t, []string{"trails", "easy trails"}, op.Entities)
}

func TestReconcileContradictionIsDeleteThenAdd(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Not allergic to peanuts": {1, 0.05, 0, 0},
	}}
	seedItem(t, store, "m1", "u1", "Allergic to peanuts", []float64{1, 0, 0, 0})

	llmMock := &mockLLM{responses: []string{`{"relation": "contradiction", "merged": ""}`}}

	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content: "Not allergic to peanuts", MemoryType: "fact", Confidence: 0.9, Importance: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 2)

	assert.Equal(t, OpDelete, decision.Operations[0].Kind)
	assert.Equal(t, "m1", decision.Operations[0].TargetID)
	assert.Equal(t, OpAdd, decision.Operations[1].Kind)
	assert.Equal(t, "Not allergic to peanuts", decision.Operations[1].Content)
}

func TestReconcileUnrelatedFalsePositive(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Sister is named Joan": {1, 0.05, 0, 0},
	}}
	seedItem(t, store, "m1", "u1", "Cat is named Joan", []float64{1, 0, 0, 0})

	llmMock := &mockLLM{responses: []string{`{"relation": "unrelated", "merged": ""}`}}

	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content: "Sister is named Joan", MemoryType: "fact", Confidence: 0.9, Importance: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 1)
	assert.Equal(t, OpAdd, decision.Operations[0].Kind)
}

func TestReconcileFallsBackToAddOnClassificationFailure(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Prefers moderate trails": {1, 0, 0, 0},
	}}
	seedItem(t, store, "m1", "u1", "Prefers moderate trails", []float64{1, 0, 0, 0})

	for name, llmMock := range map[string]*mockLLM{
		"provider error":     {err: errors.New("timeout")},
		"unparseable output": {responses: []string{"I would say these are similar"}},
		"unknown relation":   {responses: []string{`{"relation": "kinda-related"}`}},
	} {
		rec := newTestReconciler(store, llmMock, emb)
		decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
			Content: "Prefers moderate trails", MemoryType: "preference", Confidence: 0.9, Importance: 1.0,
		})
		require.NoError(t, err, name)
		require.Len(t, decision.Operations, 1, name)
		assert.Equal(t, OpAdd, decision.Operations[0].Kind, name)
	}
}

func TestReconcileEmbeddingFailureIsFatal(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{err: errors.New("embedder down")}

	rec := newTestReconciler(store, &mockLLM{}, emb)
	_, err := rec.Reconcile(context.Background(), "u1", Candidate{Content: "anything"})
	assert.Error(t, err, "an un-embedded candidate can never be stored findably")
}

func TestReconcileIgnoresOtherUsersMemories(t *testing.T) {
	store := newMemStore()
	emb := &mockEmbedder{vectors: map[string][]float64{
		"Prefers moderate trails": {1, 0, 0, 0},
	}}
	seedItem(t, store, "m1", "other-user", "Prefers moderate trails", []float64{1, 0, 0, 0})

	llmMock := &mockLLM{}
	rec := newTestReconciler(store, llmMock, emb)
	decision, err := rec.Reconcile(context.Background(), "u1", Candidate{
		Content: "Prefers moderate trails", MemoryType: "preference", Confidence: 0.9, Importance: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, decision.Operations, 1)
	assert.Equal(t, OpAdd, decision.Operations[0].Kind)
	assert.Equal(t, 0, llmMock.calls, "another user's identical memory is invisible")
}
