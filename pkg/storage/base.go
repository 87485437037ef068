// Package storage provides interfaces and types for vector storage backends.
//
// It defines the VectorStore interface that all storage implementations must
// satisfy, along with the stored item type and per-operation options. Every
// operation is scoped by user: a store never returns or mutates another
// user's items when a UserID is supplied.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an item does not exist or is owned by a
// different user than the one named in the operation's options. The two
// cases are deliberately indistinguishable so callers cannot probe for the
// existence of other users' items.
var ErrNotFound = errors.New("item not found or access denied")

// Item represents a memory record persisted in the vector store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.MemoryItem structure.
type Item struct {
	// ID is the unique identifier of the item. Assigned at creation,
	// immutable afterwards.
	ID string

	// UserID identifies the user who owns this item. Never changes after
	// creation.
	UserID string

	// Content is the normalized natural-language text of the memory.
	Content string

	// Embedding is the vector embedding of Content. Recomputed whenever
	// Content changes; dimensionality is constant across all items in a
	// store.
	Embedding []float64

	// MemoryType is one of "conversation", "fact" or "preference".
	MemoryType string

	// Importance is a positive weight applied as a multiplicative boost at
	// retrieval time. Default 1.0.
	Importance float64

	// Confidence is the extraction certainty in [0,1]. Manually added items
	// carry 1.0.
	Confidence float64

	// Entities lists people/places/things mentioned in the content. Used
	// for display and filtering only, never for scoring.
	Entities []string

	// CreatedAt is when the item was created.
	CreatedAt time.Time

	// UpdatedAt is when the item was last updated.
	UpdatedAt time.Time

	// LastAccessedAt is when the item was last returned by a retrieval
	// (nil if never accessed).
	LastAccessedAt *time.Time

	// AccessCount is the number of times the item has been returned by a
	// retrieval. Monotonically non-decreasing.
	AccessCount int64

	// Score is the raw cosine similarity from search operations. Not
	// persisted.
	Score float64
}

// ItemUpdate carries the replacement fields for an Update operation.
//
// The caller computes every field (merged content, recomputed embedding,
// resolved confidence/importance) before calling Update, so the store can
// swap the row in one statement and the prior version stays intact if any
// precomputation fails.
type ItemUpdate struct {
	// Content is the new content text.
	Content string

	// Embedding is the embedding of the new content.
	Embedding []float64

	// Confidence is the resolved confidence for the updated item.
	Confidence float64

	// Importance is the resolved importance for the updated item.
	Importance float64

	// Entities is the replacement entity set (nil keeps the stored set).
	Entities []string
}

// VectorStore defines the interface for vector storage backends.
//
// All storage implementations (SQLite, PostgreSQL, MySQL, chromem) must
// implement this interface.
type VectorStore interface {
	// Insert inserts an item into the store.
	Insert(ctx context.Context, item *Item) error

	// Search performs vector similarity search.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - embedding: Query embedding vector
	//   - opts: Search options (UserID, Types, Limit, MinScore)
	//
	// Returns matching items sorted by cosine similarity (highest first),
	// with Score populated.
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Item, error)

	// Get retrieves an item by ID with optional access control.
	//
	// If opts.UserID is specified, the item is only returned when it belongs
	// to that user.
	Get(ctx context.Context, id string, opts *GetOptions) (*Item, error)

	// Update replaces an item's content, embedding, confidence, importance
	// and (optionally) entities with optional access control.
	//
	// If opts.UserID is specified, the update only succeeds when the item
	// belongs to that user.
	Update(ctx context.Context, id string, upd *ItemUpdate, opts *UpdateOptions) (*Item, error)

	// Delete deletes an item by ID with optional access control.
	Delete(ctx context.Context, id string, opts *DeleteOptions) error

	// GetAll retrieves all items with optional filtering and pagination,
	// newest first.
	GetAll(ctx context.Context, opts *GetAllOptions) ([]*Item, error)

	// DeleteAll deletes all items matching the given filters.
	DeleteAll(ctx context.Context, opts *DeleteAllOptions) error

	// IncrementAccess atomically increments an item's access count and sets
	// its last-accessed timestamp. The increment is a read-modify-write
	// performed inside the store so concurrent bumps are never lost.
	IncrementAccess(ctx context.Context, id string, at time.Time) error

	// Close closes the store and releases resources.
	Close() error
}

// SearchOptions contains options for search operations.
type SearchOptions struct {
	// UserID filters results to a specific user. Required by the facade;
	// stores treat an empty value as "no filter" for reuse in tooling.
	UserID string

	// Types filters results to the given memory types (empty = all types).
	Types []string

	// Limit sets the maximum number of results to return.
	Limit int

	// MinScore sets the minimum cosine similarity for results. The zero
	// value is a floor of 0, so items whose similarity to the query is
	// negative are never returned.
	MinScore float64
}

// GetOptions contains options for get operations with access control.
type GetOptions struct {
	// UserID restricts access to items belonging to this user.
	UserID string
}

// UpdateOptions contains options for update operations with access control.
type UpdateOptions struct {
	// UserID restricts updates to items belonging to this user.
	UserID string
}

// DeleteOptions contains options for delete operations with access control.
type DeleteOptions struct {
	// UserID restricts deletions to items belonging to this user.
	UserID string
}

// GetAllOptions contains options for GetAll operations.
type GetAllOptions struct {
	// UserID filters results to a specific user.
	UserID string

	// Types filters results to the given memory types (empty = all types).
	Types []string

	// Limit sets the maximum number of results to return (0 = no limit).
	Limit int

	// Offset sets the number of results to skip (for pagination).
	Offset int

	// Since filters results to items created at or after this time.
	Since *time.Time
}

// DeleteAllOptions contains options for DeleteAll operations.
type DeleteAllOptions struct {
	// UserID filters deletions to a specific user.
	UserID string
}
