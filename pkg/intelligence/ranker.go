package intelligence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/recallmem/recall-go/pkg/embedder"
	"github.com/recallmem/recall-go/pkg/storage"
)

// ScoreWeights holds the relative weights of the composite score's
// sub-scores. The weights should sum to 1 so the pre-importance composite
// stays in [0,1].
type ScoreWeights struct {
	Semantic   float64 `json:"semantic"`
	Recency    float64 `json:"recency"`
	Access     float64 `json:"access"`
	Type       float64 `json:"type"`
	Confidence float64 `json:"confidence"`
}

// RankingConfig holds the tunable parameters of the retrieval ranker.
//
// The defaults are starting points, not proven-optimal constants; callers
// tuning for a specific workload override them through configuration.
type RankingConfig struct {
	// Weights are the sub-score weights of the composite score.
	Weights ScoreWeights `json:"weights"`

	// HalfLifeDays controls the recency decay rate.
	HalfLifeDays float64 `json:"half_life_days"`

	// AccessCap is the access count at which the access bonus saturates.
	AccessCap int64 `json:"access_cap"`

	// TypeWeights maps memory types to their fixed priority weight.
	TypeWeights map[string]float64 `json:"type_weights"`

	// MinRelevance is the default composite-score floor for results.
	MinRelevance float64 `json:"min_relevance"`

	// CandidateMultiplier sizes the semantic candidate superset fetched
	// from the store as a multiple of topK.
	CandidateMultiplier int `json:"candidate_multiplier"`
}

// DefaultRankingConfig returns the default ranking parameters.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		Weights: ScoreWeights{
			Semantic:   0.4,
			Recency:    0.2,
			Access:     0.1,
			Type:       0.2,
			Confidence: 0.1,
		},
		HalfLifeDays: 30,
		AccessCap:    20,
		TypeWeights: map[string]float64{
			"preference":   1.0,
			"fact":         0.85,
			"conversation": 0.6,
		},
		MinRelevance:        0.3,
		CandidateMultiplier: 4,
	}
}

// ScoreBreakdown exposes the sub-scores behind a composite score, for
// inspection and tuning.
type ScoreBreakdown struct {
	// Semantic is the cosine similarity between query and item.
	Semantic float64 `json:"semantic"`

	// Recency is the exponential age decay score.
	Recency float64 `json:"recency"`

	// AccessBonus is the log-saturated access frequency score.
	AccessBonus float64 `json:"access_bonus"`

	// TypeWeight is the fixed priority weight of the item's type.
	TypeWeight float64 `json:"type_weight"`

	// Confidence is the item's stored extraction certainty.
	Confidence float64 `json:"confidence"`

	// Importance is the multiplicative boost applied after weighting.
	Importance float64 `json:"importance"`
}

// ScoredItem pairs a stored item with its composite retrieval score.
type ScoredItem struct {
	// Item is the stored memory.
	Item *storage.Item

	// Score is the composite retrieval score. The weighted sub-score sum
	// is always in [0,1] before the importance multiplier, so Score lies
	// in [0, Importance].
	Score float64

	// Breakdown holds the sub-scores that produced Score.
	Breakdown ScoreBreakdown
}

// Ranker scores and orders stored memories against a query using the
// multi-factor model: semantic similarity, recency decay, access frequency,
// type weighting, confidence, and an importance multiplier.
type Ranker struct {
	store    storage.VectorStore
	embedder embedder.Provider
	config   RankingConfig

	// now is injectable for deterministic recency tests.
	now func() time.Time
}

// NewRanker creates a new retrieval ranker.
func NewRanker(store storage.VectorStore, emb embedder.Provider, config RankingConfig) *Ranker {
	if config.CandidateMultiplier <= 0 {
		config.CandidateMultiplier = 4
	}
	if config.TypeWeights == nil {
		config.TypeWeights = DefaultRankingConfig().TypeWeights
	}

	return &Ranker{
		store:    store,
		embedder: emb,
		config:   config,
		now:      time.Now,
	}
}

// Config returns the ranker's active configuration.
func (r *Ranker) Config() RankingConfig {
	return r.config
}

// Retrieve returns the user's memories ranked against the query.
//
// Results are ordered by descending composite score, ties broken by more
// recent creation time, filtered to scores >= minRelevance, and truncated to
// topK. Pass a negative minRelevance to use the configured default.
//
// Side effect: every returned item has its access count bumped and its
// last-accessed time set. Bump failures do not fail the retrieval.
//
// An empty or whitespace-only query skips semantic scoring and ranks purely
// by recency times importance. An embedding provider failure degrades to the
// same fallback rather than failing the call.
func (r *Ranker) Retrieve(ctx context.Context, userID, query string, topK int, minRelevance float64, types []string) ([]ScoredItem, error) {
	if topK <= 0 {
		return nil, nil
	}

	if minRelevance < 0 {
		minRelevance = r.config.MinRelevance
	}

	var queryEmbedding []float64
	if strings.TrimSpace(query) != "" {
		emb, err := r.embedder.Embed(ctx, query)
		if err == nil {
			queryEmbedding = emb
		}
	}

	candidates, err := r.fetchCandidates(ctx, userID, queryEmbedding, topK, types)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := r.now()
	scored := make([]ScoredItem, 0, len(candidates))
	for _, item := range candidates {
		si := r.scoreItem(item, queryEmbedding, now)
		if si.Score < minRelevance {
			continue
		}
		scored = append(scored, si)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	for _, si := range scored {
		// Best effort: a lost bump only weakens future access bonuses.
		_ = r.store.IncrementAccess(ctx, si.Item.ID, now)
		si.Item.AccessCount++
		t := now
		si.Item.LastAccessedAt = &t
	}

	return scored, nil
}

// SemanticCandidates returns the user's top-k memories by raw cosine
// similarity to the given embedding. This is the semantic-only path used by
// reconciliation, which compares meaning rather than relevance-for-a-query.
func (r *Ranker) SemanticCandidates(ctx context.Context, userID string, embedding []float64, k int) ([]*storage.Item, error) {
	if k <= 0 {
		return nil, nil
	}

	items, err := r.store.Search(ctx, embedding, &storage.SearchOptions{
		UserID: userID,
		Limit:  k,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	return items, nil
}

// fetchCandidates fetches the candidate superset for ranking. With a query
// embedding it pulls a similarity-ranked superset; without one it falls back
// to the user's full (type-filtered) set.
func (r *Ranker) fetchCandidates(ctx context.Context, userID string, queryEmbedding []float64, topK int, types []string) ([]*storage.Item, error) {
	if queryEmbedding != nil {
		items, err := r.store.Search(ctx, queryEmbedding, &storage.SearchOptions{
			UserID: userID,
			Types:  types,
			Limit:  topK * r.config.CandidateMultiplier,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch candidates: %w", err)
		}
		return items, nil
	}

	items, err := r.store.GetAll(ctx, &storage.GetAllOptions{
		UserID: userID,
		Types:  types,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	return items, nil
}

// scoreItem computes the composite score for one item.
//
// With a query embedding:
//
//	(wS*semantic + wR*recency + wA*accessBonus + wT*typeWeight + wC*confidence) * importance
//
// Without one, semantic scoring is skipped entirely and the score is
// recency * importance.
func (r *Ranker) scoreItem(item *storage.Item, queryEmbedding []float64, now time.Time) ScoredItem {
	breakdown := ScoreBreakdown{
		Recency:     recencyScore(item.CreatedAt, now, r.config.HalfLifeDays),
		AccessBonus: accessBonus(item.AccessCount, r.config.AccessCap),
		TypeWeight:  r.typeWeight(item.MemoryType),
		Confidence:  clamp(item.Confidence, 0, 1),
		Importance:  item.Importance,
	}
	if breakdown.Importance <= 0 {
		breakdown.Importance = 1.0
	}

	var score float64
	if queryEmbedding == nil {
		score = breakdown.Recency * breakdown.Importance
	} else {
		// Stores that rank SQL-side populate Score; others get it
		// recomputed here from the raw vectors.
		breakdown.Semantic = item.Score
		if breakdown.Semantic == 0 && len(item.Embedding) > 0 {
			breakdown.Semantic = CosineSimilarity(queryEmbedding, item.Embedding)
		}
		breakdown.Semantic = clamp(breakdown.Semantic, 0, 1)

		w := r.config.Weights
		score = (w.Semantic*breakdown.Semantic +
			w.Recency*breakdown.Recency +
			w.Access*breakdown.AccessBonus +
			w.Type*breakdown.TypeWeight +
			w.Confidence*breakdown.Confidence) * breakdown.Importance
	}

	return ScoredItem{
		Item:      item,
		Score:     score,
		Breakdown: breakdown,
	}
}

// typeWeight returns the fixed priority weight for a memory type, defaulting
// to the fact weight for unknown types.
func (r *Ranker) typeWeight(memoryType string) float64 {
	if w, ok := r.config.TypeWeights[memoryType]; ok {
		return w
	}
	return 0.85
}
