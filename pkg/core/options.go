// Package core provides the main Recall client and memory management functionality.
package core

import "time"

// AddOption is a function type for configuring Add operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for Add operations.
type AddOptions struct {
	// MemoryType specifies the type of memory (conversation, fact, preference).
	// Defaults to fact.
	MemoryType string

	// Importance is the retrieval boost weight. Defaults to 1.0.
	Importance float64

	// Entities lists people/places/things mentioned in the content.
	Entities []string
}

// WithMemoryType sets the memory type for Add operations.
//
// Example:
//
//	item, _ := client.Add(ctx, "user_001", "Prefers tea over coffee",
//	    core.WithMemoryType(core.TypePreference))
func WithMemoryType(memoryType string) AddOption {
	return func(opts *AddOptions) {
		opts.MemoryType = memoryType
	}
}

// WithImportance sets the importance weight for Add operations.
//
// Example:
//
//	item, _ := client.Add(ctx, "user_001", "Allergic to peanuts",
//	    core.WithImportance(3.0))
func WithImportance(importance float64) AddOption {
	return func(opts *AddOptions) {
		opts.Importance = importance
	}
}

// WithEntities sets the entity list for Add operations.
func WithEntities(entities []string) AddOption {
	return func(opts *AddOptions) {
		opts.Entities = entities
	}
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// TopK is the maximum number of results. Defaults to 10.
	TopK int

	// MinRelevance overrides the configured composite-score floor.
	// Nil keeps the ranker's default.
	MinRelevance *float64

	// Types restricts results to the given memory types (empty = all).
	Types []string
}

// WithTopK sets the maximum result count for Search operations.
//
// Example:
//
//	results, _ := client.Search(ctx, "user_001", "hiking", core.WithTopK(5))
func WithTopK(topK int) SearchOption {
	return func(opts *SearchOptions) {
		opts.TopK = topK
	}
}

// WithMinRelevance overrides the minimum composite score for Search
// operations.
//
// Example:
//
//	results, _ := client.Search(ctx, "user_001", "hiking",
//	    core.WithMinRelevance(0.5))
func WithMinRelevance(minRelevance float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinRelevance = &minRelevance
	}
}

// WithTypes restricts Search operations to the given memory types.
//
// Example:
//
//	results, _ := client.Search(ctx, "user_001", "hiking",
//	    core.WithTypes(core.TypePreference))
func WithTypes(types ...string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Types = types
	}
}

// GetAllOption is a function type for configuring GetAll operations.
type GetAllOption func(*GetAllOptions)

// GetAllOptions contains configuration options for GetAll operations.
type GetAllOptions struct {
	// Types restricts results to the given memory types (empty = all).
	Types []string

	// Limit sets the maximum number of results (0 = no limit).
	Limit int

	// Offset sets the number of results to skip (for pagination).
	Offset int

	// Since restricts results to memories created at or after this time.
	Since *time.Time
}

// WithTypesForGetAll restricts GetAll operations to the given memory types.
func WithTypesForGetAll(types ...string) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Types = types
	}
}

// WithLimit sets the maximum result count for GetAll operations.
//
// Example:
//
//	memories, _ := client.GetAll(ctx, "user_001", core.WithLimit(20))
func WithLimit(limit int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Limit = limit
	}
}

// WithOffset sets the pagination offset for GetAll operations.
func WithOffset(offset int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Offset = offset
	}
}

// WithSince restricts GetAll operations to memories created at or after the
// given time.
func WithSince(since time.Time) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Since = &since
	}
}

// ProcessTurnOption is a function type for configuring ProcessTurn
// operations.
type ProcessTurnOption func(*ProcessTurnOptions)

// ProcessTurnOptions contains configuration options for ProcessTurn
// operations.
type ProcessTurnOptions struct {
	// StoreRawTurn overrides the client-level raw-turn storage setting for
	// this call. Nil keeps the configured default.
	StoreRawTurn *bool
}

// WithStoreRawTurn overrides raw-turn storage for a single ProcessTurn call.
//
// Example:
//
//	result, _ := client.ProcessTurn(ctx, "user_001", input, reply,
//	    core.WithStoreRawTurn(true))
func WithStoreRawTurn(store bool) ProcessTurnOption {
	return func(opts *ProcessTurnOptions) {
		opts.StoreRawTurn = &store
	}
}

// applyAddOptions applies Add options over defaults.
func applyAddOptions(opts ...AddOption) *AddOptions {
	options := &AddOptions{
		MemoryType: TypeFact,
		Importance: 1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applySearchOptions applies Search options over defaults.
func applySearchOptions(opts ...SearchOption) *SearchOptions {
	options := &SearchOptions{
		TopK: 10,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyGetAllOptions applies GetAll options over defaults.
func applyGetAllOptions(opts ...GetAllOption) *GetAllOptions {
	options := &GetAllOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyProcessTurnOptions applies ProcessTurn options over defaults.
func applyProcessTurnOptions(opts ...ProcessTurnOption) *ProcessTurnOptions {
	options := &ProcessTurnOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
