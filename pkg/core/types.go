// Package core provides the main Recall client and memory management functionality.
package core

import (
	"time"

	"github.com/recallmem/recall-go/pkg/intelligence"
)

// Memory types, in descending retrieval priority.
const (
	// TypePreference marks a like, dislike, habit, or standing choice.
	TypePreference = "preference"

	// TypeFact marks an objective statement about the user or their world.
	TypeFact = "fact"

	// TypeConversation marks a raw stored conversation turn.
	TypeConversation = "conversation"
)

// MemoryItem represents a single memory stored in the system.
//
// Example:
//
//	item := &core.MemoryItem{
//	    ID:         "1234567890",
//	    UserID:     "user_001",
//	    Content:    "Prefers moderate hiking trails",
//	    MemoryType: core.TypePreference,
//	}
type MemoryItem struct {
	// ID is the unique identifier of the memory. Assigned at creation,
	// immutable afterwards.
	ID string `json:"id"`

	// UserID identifies the user who owns this memory. All operations are
	// scoped to one user; there is no cross-user visibility.
	UserID string `json:"user_id"`

	// Content is the normalized natural-language text of the memory.
	Content string `json:"content"`

	// Embedding is the vector embedding for similarity search.
	// Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"embedding,omitempty"`

	// MemoryType is one of TypeConversation, TypeFact, TypePreference.
	MemoryType string `json:"memory_type"`

	// Importance is a positive weight applied as a multiplicative boost at
	// retrieval time (default 1.0).
	Importance float64 `json:"importance"`

	// Confidence is the extraction certainty in [0,1]. Manually added
	// memories carry 1.0.
	Confidence float64 `json:"confidence"`

	// Entities lists people/places/things mentioned in the content. Used
	// for display and filtering only, never for scoring.
	Entities []string `json:"entities,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccessedAt is when the memory was last returned by a retrieval
	// (nil if never accessed).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessCount is the number of times the memory has been returned by a
	// retrieval. Monotonically non-decreasing.
	AccessCount int64 `json:"access_count"`

	// Score is the composite relevance score from search operations.
	// Higher scores indicate better matches.
	Score float64 `json:"score,omitempty"`

	// ScoreBreakdown holds the sub-scores behind Score (search results
	// only), for inspection and ranking diagnostics.
	ScoreBreakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// ScoreBreakdown exposes the sub-scores of a composite retrieval score.
type ScoreBreakdown = intelligence.ScoreBreakdown

// CandidateMemory is a transient extracted statement that has not yet been
// reconciled into storage. It is never persisted as-is.
type CandidateMemory = intelligence.Candidate

// SearchResult contains the results of a search operation.
type SearchResult struct {
	// Memories is the list of matching memories, sorted by relevance.
	Memories []*MemoryItem

	// TotalCount is the number of matching memories.
	TotalCount int
}

// OperationResult records the outcome of applying one reconciliation
// decision during ProcessTurn.
type OperationResult struct {
	// Kind is the decision type (ADD, UPDATE, DELETE, NONE).
	Kind intelligence.OpKind `json:"kind"`

	// MemoryID is the affected memory's ID (empty for NONE and for
	// operations that failed before a write).
	MemoryID string `json:"memory_id,omitempty"`

	// Content is the content that was written or skipped.
	Content string `json:"content,omitempty"`

	// Reason records why the decision was made.
	Reason string `json:"reason,omitempty"`

	// Error holds the failure for this single operation, if any. One
	// failed write does not abort the rest of the turn.
	Error error `json:"-"`
}

// TurnResult is the outcome of processing one conversation turn.
type TurnResult struct {
	// Candidates are the memories extracted from the turn before
	// reconciliation.
	Candidates []CandidateMemory `json:"candidates"`

	// Operations are the reconciliation outcomes, in application order.
	Operations []OperationResult `json:"operations"`
}
