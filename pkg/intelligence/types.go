// Package intelligence implements the memory engine: candidate extraction
// from conversation turns, reconciliation of candidates against stored
// memories, and multi-factor retrieval ranking.
package intelligence

// Candidate is a transient extracted statement that has not yet been
// reconciled into storage.
type Candidate struct {
	// Content is the self-contained natural-language statement.
	Content string

	// MemoryType is "fact" or "preference". The "conversation" type is
	// reserved for raw-turn storage done by the facade, never produced by
	// extraction.
	MemoryType string

	// Confidence is the extraction certainty, clamped to [0,1].
	Confidence float64

	// Importance is the extraction-assigned weight, clamped to (0,5].
	Importance float64

	// Entities lists people/places/things mentioned in the statement.
	Entities []string
}

// OpKind identifies a reconciliation decision.
type OpKind string

const (
	// OpAdd stores the candidate as a new memory.
	OpAdd OpKind = "ADD"

	// OpUpdate merges the candidate into an existing memory.
	OpUpdate OpKind = "UPDATE"

	// OpDelete removes an existing memory contradicted by the candidate.
	OpDelete OpKind = "DELETE"

	// OpNone skips the candidate as redundant.
	OpNone OpKind = "NONE"
)

// Operation is a single write decision produced by reconciliation.
//
// A contradiction yields two operations (Delete of the old item, then Add of
// the candidate) so the caller can log and apply both explicitly.
type Operation struct {
	// Kind is the decision type.
	Kind OpKind

	// TargetID names the existing memory for Update and Delete operations.
	TargetID string

	// Content is the text to store (for Add, the candidate content; for
	// Update, the merged statement).
	Content string

	// MemoryType is the stored type for Add operations ("fact" or
	// "preference"). Updates keep the target's type.
	MemoryType string

	// Confidence is the resolved confidence for the written item.
	Confidence float64

	// Importance is the resolved importance for the written item.
	Importance float64

	// Entities is the entity set for the written item.
	Entities []string

	// Reason records why the decision was made, for result reporting.
	Reason string
}

// Decision is the outcome of reconciling one candidate.
type Decision struct {
	// Operations lists the writes to apply, in order.
	Operations []Operation

	// Embedding is the candidate's content embedding, computed during
	// reconciliation and reusable for an Add without a second provider
	// call.
	Embedding []float64
}
