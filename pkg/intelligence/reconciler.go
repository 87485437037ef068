package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recallmem/recall-go/pkg/embedder"
	"github.com/recallmem/recall-go/pkg/llm"
	"github.com/recallmem/recall-go/pkg/storage"
)

// Relation labels returned by the classification completion.
const (
	relationDuplicate     = "duplicate"
	relationRefinement    = "refinement"
	relationContradiction = "contradiction"
	relationUnrelated     = "unrelated"
)

// ReconcileConfig holds the tunable parameters of reconciliation.
type ReconcileConfig struct {
	// TopK is how many similar memories to compare a candidate against.
	TopK int `json:"top_k"`

	// OverlapThreshold is the cosine similarity above which an existing
	// memory is considered to overlap the candidate.
	OverlapThreshold float64 `json:"overlap_threshold"`
}

// DefaultReconcileConfig returns the default reconciliation parameters.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		TopK:             5,
		OverlapThreshold: 0.75,
	}
}

// Reconciler decides how each extracted candidate relates to the user's
// existing memories: store it, merge it into an existing memory, replace a
// contradicted memory, or skip it as redundant.
//
// The decision procedure is deterministic given identical completion
// provider outputs. When the provider fails or returns an unparseable
// classification, the candidate is stored anyway: a duplicated memory beats
// a lost one.
type Reconciler struct {
	llm      llm.Provider
	embedder embedder.Provider
	ranker   *Ranker
	config   ReconcileConfig
}

// NewReconciler creates a new reconciler.
func NewReconciler(llmProvider llm.Provider, emb embedder.Provider, ranker *Ranker, config ReconcileConfig) *Reconciler {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.OverlapThreshold <= 0 {
		config.OverlapThreshold = 0.75
	}

	return &Reconciler{
		llm:      llmProvider,
		embedder: emb,
		ranker:   ranker,
		config:   config,
	}
}

// Reconcile decides the write operations for one candidate.
//
// The algorithm:
//  1. Embed the candidate and fetch the user's top-K memories by raw
//     cosine similarity (the semantic-only path, since reconciliation
//     compares meaning rather than query relevance).
//  2. No memory above the overlap threshold: Add.
//  3. Otherwise classify the relation between the candidate and the best
//     match. Duplicate skips the write, refinement merges into the existing
//     memory, contradiction deletes the old memory and adds the candidate
//     as two explicit operations, unrelated adds (the overlap was a false
//     positive in embedding space).
//  4. Classification failure falls back to Add.
//
// An embedding provider failure is fatal to this candidate and surfaced,
// because a candidate that cannot be embedded can never be stored findably.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, candidate Candidate) (*Decision, error) {
	embedding, err := r.embedder.Embed(ctx, candidate.Content)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	decision := &Decision{Embedding: embedding}

	matches, err := r.ranker.SemanticCandidates(ctx, userID, embedding, r.config.TopK)
	if err != nil {
		return nil, err
	}

	best := bestMatch(matches, r.config.OverlapThreshold)
	if best == nil {
		decision.Operations = []Operation{addOperation(candidate, "no overlapping memory")}
		return decision, nil
	}

	relation, merged, err := r.classify(ctx, candidate.Content, best.Content)
	if err != nil {
		decision.Operations = []Operation{addOperation(candidate, "classification failed, stored anyway")}
		return decision, nil
	}

	switch relation {
	case relationDuplicate:
		decision.Operations = []Operation{{
			Kind:     OpNone,
			TargetID: best.ID,
			Content:  candidate.Content,
			Reason:   "duplicate of existing memory",
		}}

	case relationRefinement:
		content := strings.TrimSpace(merged)
		if content == "" {
			content = candidate.Content
		}
		decision.Operations = []Operation{{
			Kind:       OpUpdate,
			TargetID:   best.ID,
			Content:    content,
			Confidence: maxFloat(best.Confidence, candidate.Confidence),
			Importance: maxFloat(best.Importance, candidate.Importance),
			Entities:   mergeEntities(best.Entities, candidate.Entities),
			Reason:     "refines existing memory",
		}}

	case relationContradiction:
		decision.Operations = []Operation{
			{
				Kind:     OpDelete,
				TargetID: best.ID,
				Reason:   "contradicted by new statement",
			},
			addOperation(candidate, "replaces contradicted memory"),
		}

	case relationUnrelated:
		decision.Operations = []Operation{addOperation(candidate, "similar embedding but unrelated meaning")}

	default:
		decision.Operations = []Operation{addOperation(candidate, "unrecognized classification, stored anyway")}
	}

	return decision, nil
}

// bestMatch returns the highest-scoring item at or above the threshold, or
// nil when none qualifies. Search results arrive sorted by score.
func bestMatch(matches []*storage.Item, threshold float64) *storage.Item {
	for _, m := range matches {
		if m.Score >= threshold {
			return m
		}
	}
	return nil
}

// addOperation builds an Add operation carrying the candidate's fields.
func addOperation(candidate Candidate, reason string) Operation {
	return Operation{
		Kind:       OpAdd,
		Content:    candidate.Content,
		MemoryType: candidate.MemoryType,
		Confidence: candidate.Confidence,
		Importance: candidate.Importance,
		Entities:   candidate.Entities,
		Reason:     reason,
	}
}

// classify asks the completion provider how the new statement relates to the
// existing memory.
func (r *Reconciler) classify(ctx context.Context, newStatement, existingMemory string) (string, string, error) {
	prompt := fmt.Sprintf(`You manage a user's long-term memory. Compare a NEW statement against an EXISTING memory and classify their relation.

# Existing Memory
%s

# New Statement
%s

# Relations:
- "duplicate": the new statement adds nothing the existing memory doesn't already capture
- "refinement": the new statement extends, details, or updates the existing memory without negating it
- "contradiction": the new statement negates or invalidates the existing memory
- "unrelated": the two are about different things

# Output Format (JSON):
{"relation": "duplicate|refinement|contradiction|unrelated", "merged": "..."}

For "refinement", set "merged" to a single self-contained statement combining both, preserving all time references. For other relations, "merged" may be empty.

Classify now:`, existingMemory, newStatement)

	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}

	response, err := r.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", "", fmt.Errorf("failed to classify relation: %w", err)
	}

	var parsed struct {
		Relation string `json:"relation"`
		Merged   string `json:"merged"`
	}
	if err := json.Unmarshal([]byte(removeCodeBlocks(response)), &parsed); err != nil {
		return "", "", fmt.Errorf("invalid JSON response: %w", err)
	}

	relation := strings.ToLower(strings.TrimSpace(parsed.Relation))
	switch relation {
	case relationDuplicate, relationRefinement, relationContradiction, relationUnrelated:
		return relation, parsed.Merged, nil
	}

	return "", "", fmt.Errorf("unrecognized relation %q", parsed.Relation)
}

// mergeEntities unions two entity sets, preserving first-seen order.
func mergeEntities(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var merged []string
	for _, e := range append(append([]string{}, a...), b...) {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		merged = append(merged, e)
	}
	return merged
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
