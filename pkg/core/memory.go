// Package core provides the main Recall client and memory management functionality.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/recallmem/recall-go/pkg/embedder"
	embedderOllama "github.com/recallmem/recall-go/pkg/embedder/ollama"
	embedderOpenAI "github.com/recallmem/recall-go/pkg/embedder/openai"
	"github.com/recallmem/recall-go/pkg/intelligence"
	"github.com/recallmem/recall-go/pkg/llm"
	llmOllama "github.com/recallmem/recall-go/pkg/llm/ollama"
	llmOpenAI "github.com/recallmem/recall-go/pkg/llm/openai"
	"github.com/recallmem/recall-go/pkg/storage"
	"github.com/recallmem/recall-go/pkg/storage/chromem"
	"github.com/recallmem/recall-go/pkg/storage/mysql"
	"github.com/recallmem/recall-go/pkg/storage/postgres"
	"github.com/recallmem/recall-go/pkg/storage/sqlite"
)

// Client is the main entry point for memory operations.
//
// It orchestrates extraction, reconciliation, and retrieval ranking over a
// vector store, with every operation scoped to an explicit user ID. There is
// no ambient "current user": callers pass the owning user on each call, and
// no operation crosses user boundaries.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, _ := client.ProcessTurn(ctx, "user_001",
//	    "I prefer moderate hiking trails", "Noted!")
type Client struct {
	config   *Config
	llm      llm.Provider
	embedder embedder.Provider
	storage  storage.VectorStore

	extractor  *intelligence.TurnExtractor
	reconciler *intelligence.Reconciler
	ranker     *intelligence.Ranker

	node *snowflake.Node

	// userLocks serializes writes and access bumps per user, so a
	// retrieval's count bump cannot race a reconciliation's update or
	// delete on the same item.
	userLocks sync.Map
}

// NewClient creates a new Recall client from the given configuration.
//
// It initializes the vector store, LLM provider, and embedding provider, and
// wires the extraction/reconciliation/ranking pipeline on top of them.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, NewMemoryError("NewClient", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(config)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	llmProvider, err := initLLM(config)
	if err != nil {
		_ = store.Close()
		return nil, NewMemoryError("NewClient", err)
	}

	embedderProvider, err := initEmbedder(config)
	if err != nil {
		_ = store.Close()
		_ = llmProvider.Close()
		return nil, NewMemoryError("NewClient", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	ranker := intelligence.NewRanker(store, embedderProvider, config.RankingConfig())

	return &Client{
		config:     config,
		llm:        llmProvider,
		embedder:   embedderProvider,
		storage:    store,
		extractor:  intelligence.NewTurnExtractor(llmProvider),
		reconciler: intelligence.NewReconciler(llmProvider, embedderProvider, ranker, config.ReconcileConfig()),
		ranker:     ranker,
		node:       node,
	}, nil
}

// NewClientWithComponents creates a client from already-constructed
// providers and storage, bypassing configuration-driven initialization.
//
// This is the integration point for custom provider implementations and the
// way tests inject deterministic providers.
func NewClientWithComponents(config *Config, store storage.VectorStore, llmProvider llm.Provider, embedderProvider embedder.Provider) (*Client, error) {
	if config == nil {
		config = &Config{}
	}
	if store == nil || llmProvider == nil || embedderProvider == nil {
		return nil, NewMemoryError("NewClientWithComponents", ErrInvalidConfig)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClientWithComponents", err)
	}

	ranker := intelligence.NewRanker(store, embedderProvider, config.RankingConfig())

	return &Client{
		config:     config,
		llm:        llmProvider,
		embedder:   embedderProvider,
		storage:    store,
		extractor:  intelligence.NewTurnExtractor(llmProvider),
		reconciler: intelligence.NewReconciler(llmProvider, embedderProvider, ranker, config.ReconcileConfig()),
		ranker:     ranker,
		node:       node,
	}, nil
}

// initStorage creates the vector store from configuration.
func initStorage(config *Config) (storage.VectorStore, error) {
	cfg := config.VectorStore.Config

	switch config.VectorStore.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:         configString(cfg, "db_path", "./recall.db"),
			CollectionName: configString(cfg, "collection_name", "memories"),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:               configString(cfg, "host", "localhost"),
			Port:               configInt(cfg, "port", 5432),
			User:               configString(cfg, "user", "postgres"),
			Password:           configString(cfg, "password", ""),
			DBName:             configString(cfg, "db_name", "recall"),
			CollectionName:     configString(cfg, "collection_name", "memories"),
			EmbeddingModelDims: configInt(cfg, "embedding_model_dims", 1536),
			SSLMode:            configString(cfg, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:           configString(cfg, "host", "127.0.0.1"),
			Port:           configInt(cfg, "port", 3306),
			User:           configString(cfg, "user", "root"),
			Password:       configString(cfg, "password", ""),
			DBName:         configString(cfg, "db_name", "recall"),
			CollectionName: configString(cfg, "collection_name", "memories"),
		})
	case "chromem":
		return chromem.NewClient()
	default:
		return nil, fmt.Errorf("%w: unsupported vector store provider %q",
			ErrInvalidConfig, config.VectorStore.Provider)
	}
}

// configString reads a string value from a provider config map.
func configString(cfg map[string]interface{}, key, fallback string) string {
	if cfg == nil {
		return fallback
	}
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// configInt reads an integer value from a provider config map. JSON
// decoding delivers numbers as float64, so both forms are accepted.
func configInt(cfg map[string]interface{}, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// initLLM creates the LLM provider from configuration.
func initLLM(config *Config) (llm.Provider, error) {
	switch config.LLM.Provider {
	case "openai":
		return llmOpenAI.NewClient(&llmOpenAI.Config{
			APIKey:  config.LLM.APIKey,
			Model:   config.LLM.Model,
			BaseURL: config.LLM.BaseURL,
		})
	case "ollama":
		return llmOllama.NewClient(&llmOllama.Config{
			APIKey:  config.LLM.APIKey,
			Model:   config.LLM.Model,
			BaseURL: config.LLM.BaseURL,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q",
			ErrInvalidConfig, config.LLM.Provider)
	}
}

// initEmbedder creates the embedding provider from configuration.
func initEmbedder(config *Config) (embedder.Provider, error) {
	switch config.Embedder.Provider {
	case "openai":
		return embedderOpenAI.NewClient(&embedderOpenAI.Config{
			APIKey:     config.Embedder.APIKey,
			Model:      config.Embedder.Model,
			BaseURL:    config.Embedder.BaseURL,
			Dimensions: config.Embedder.Dimensions,
		})
	case "ollama":
		return embedderOllama.NewClient(&embedderOllama.Config{
			Model:      config.Embedder.Model,
			BaseURL:    config.Embedder.BaseURL,
			Dimensions: config.Embedder.Dimensions,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q",
			ErrInvalidConfig, config.Embedder.Provider)
	}
}

// lockUser acquires the per-user exclusive section and returns its unlock.
func (c *Client) lockUser(userID string) func() {
	actual, _ := c.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// newID generates a new unique memory ID.
func (c *Client) newID() string {
	return c.node.Generate().String()
}

// Add creates and persists a memory directly, bypassing extraction and
// reconciliation. It is meant for explicit user-entered memories, which is
// why the stored confidence is 1.0.
//
// An embedding failure is fatal to the write and surfaced: an un-embedded
// memory could never be found again.
//
// Example:
//
//	item, err := client.Add(ctx, "user_001", "Allergic to peanuts",
//	    core.WithMemoryType(core.TypeFact),
//	    core.WithImportance(3.0))
func (c *Client) Add(ctx context.Context, userID, content string, opts ...AddOption) (*MemoryItem, error) {
	if userID == "" || strings.TrimSpace(content) == "" {
		return nil, NewMemoryError("Add", ErrInvalidInput)
	}

	options := applyAddOptions(opts...)
	if !validMemoryType(options.MemoryType) {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, options.MemoryType))
	}
	if options.Importance <= 0 {
		options.Importance = 1.0
	}

	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}

	now := time.Now()
	item := &storage.Item{
		ID:         c.newID(),
		UserID:     userID,
		Content:    content,
		Embedding:  embedding,
		MemoryType: options.MemoryType,
		Importance: options.Importance,
		Confidence: 1.0,
		Entities:   options.Entities,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := c.lockUser(userID)
	defer unlock()

	if err := c.storage.Insert(ctx, item); err != nil {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	return itemFromStorage(item), nil
}

// ProcessTurn runs a conversation turn through extraction and
// reconciliation, applying the resulting operations to the store.
//
// Candidates are processed sequentially against the store, so later
// candidates in the same turn see earlier candidates' writes: two candidates
// never both decide "add" for the same new fact. An extraction failure
// yields zero candidates rather than failing the turn, and a single failed
// write is recorded on its operation result without aborting the rest.
//
// When raw-turn storage is enabled (client config or per-call option), the
// verbatim turn is stored as a conversation-type memory alongside the
// extracted ones.
func (c *Client) ProcessTurn(ctx context.Context, userID, userInput, assistantResponse string, opts ...ProcessTurnOption) (*TurnResult, error) {
	if userID == "" {
		return nil, NewMemoryError("ProcessTurn", ErrInvalidInput)
	}

	options := applyProcessTurnOptions(opts...)
	storeRaw := c.config.StoreRawTurns
	if options.StoreRawTurn != nil {
		storeRaw = *options.StoreRawTurn
	}

	candidates, err := c.extractor.Extract(ctx, userInput, assistantResponse)
	if err != nil {
		// Extraction failure is not fatal to the conversation.
		log.Printf("recall: ProcessTurn: extraction failed, continuing with zero candidates: %v", err)
		candidates = nil
	}

	result := &TurnResult{Candidates: candidates}

	unlock := c.lockUser(userID)
	defer unlock()

	if storeRaw {
		result.Operations = append(result.Operations, c.storeRawTurn(ctx, userID, userInput, assistantResponse))
	}

	for _, candidate := range candidates {
		decision, err := c.reconciler.Reconcile(ctx, userID, candidate)
		if err != nil {
			result.Operations = append(result.Operations, OperationResult{
				Kind:    intelligence.OpNone,
				Content: candidate.Content,
				Reason:  "reconciliation failed",
				Error:   err,
			})
			continue
		}

		for _, op := range decision.Operations {
			result.Operations = append(result.Operations, c.applyOperation(ctx, userID, op, decision.Embedding))
		}
	}

	return result, nil
}

// storeRawTurn persists the verbatim turn as a conversation-type memory.
func (c *Client) storeRawTurn(ctx context.Context, userID, userInput, assistantResponse string) OperationResult {
	content := strings.TrimSpace(fmt.Sprintf("user: %s\nassistant: %s", userInput, assistantResponse))

	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return OperationResult{
			Kind:    intelligence.OpAdd,
			Content: content,
			Reason:  "raw turn",
			Error:   fmt.Errorf("%w: %v", ErrEmbeddingFailed, err),
		}
	}

	now := time.Now()
	item := &storage.Item{
		ID:         c.newID(),
		UserID:     userID,
		Content:    content,
		Embedding:  embedding,
		MemoryType: TypeConversation,
		Importance: 1.0,
		Confidence: 1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.storage.Insert(ctx, item); err != nil {
		return OperationResult{
			Kind:    intelligence.OpAdd,
			Content: content,
			Reason:  "raw turn",
			Error:   fmt.Errorf("%w: %v", ErrStorageOperation, err),
		}
	}

	return OperationResult{
		Kind:     intelligence.OpAdd,
		MemoryID: item.ID,
		Content:  content,
		Reason:   "raw turn",
	}
}

// applyOperation applies one reconciliation operation to the store. The
// caller holds the user lock.
func (c *Client) applyOperation(ctx context.Context, userID string, op intelligence.Operation, candidateEmbedding []float64) OperationResult {
	result := OperationResult{
		Kind:     op.Kind,
		MemoryID: op.TargetID,
		Content:  op.Content,
		Reason:   op.Reason,
	}

	switch op.Kind {
	case intelligence.OpAdd:
		now := time.Now()
		item := &storage.Item{
			ID:         c.newID(),
			UserID:     userID,
			Content:    op.Content,
			Embedding:  candidateEmbedding,
			MemoryType: memoryTypeOrFact(op.MemoryType),
			Importance: op.Importance,
			Confidence: op.Confidence,
			Entities:   op.Entities,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := c.storage.Insert(ctx, item); err != nil {
			result.Error = fmt.Errorf("%w: %v", ErrStorageOperation, err)
			return result
		}
		result.MemoryID = item.ID

	case intelligence.OpUpdate:
		// The prior version stays intact until the replacement is fully
		// computed. A merged statement differs from the candidate text,
		// so it gets its own embedding.
		embedding, err := c.embedder.Embed(ctx, op.Content)
		if err != nil {
			result.Error = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			return result
		}

		_, err = c.storage.Update(ctx, op.TargetID, &storage.ItemUpdate{
			Content:    op.Content,
			Embedding:  embedding,
			Confidence: op.Confidence,
			Importance: op.Importance,
			Entities:   op.Entities,
		}, &storage.UpdateOptions{UserID: userID})
		if err != nil {
			result.Error = mapStorageError(err)
			return result
		}

	case intelligence.OpDelete:
		if err := c.storage.Delete(ctx, op.TargetID, &storage.DeleteOptions{UserID: userID}); err != nil {
			result.Error = mapStorageError(err)
			return result
		}

	case intelligence.OpNone:
		// Nothing to write.
	}

	return result
}

// Search returns the user's memories ranked against the query by the
// multi-factor model.
//
// Every returned memory has its access count bumped as a side effect of the
// retrieval, under the same per-user exclusion as writes.
//
// Example:
//
//	results, err := client.Search(ctx, "user_001", "what does Sarah do",
//	    core.WithTopK(5))
func (c *Client) Search(ctx context.Context, userID, query string, opts ...SearchOption) (*SearchResult, error) {
	if userID == "" {
		return nil, NewMemoryError("Search", ErrInvalidInput)
	}

	options := applySearchOptions(opts...)

	minRelevance := -1.0
	if options.MinRelevance != nil {
		minRelevance = *options.MinRelevance
	}

	unlock := c.lockUser(userID)
	defer unlock()

	scored, err := c.ranker.Retrieve(ctx, userID, query, options.TopK, minRelevance, options.Types)
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}

	memories := itemsFromScored(scored)
	return &SearchResult{
		Memories:   memories,
		TotalCount: len(memories),
	}, nil
}

// Get retrieves a single memory by ID, scoped to the user.
func (c *Client) Get(ctx context.Context, userID, id string) (*MemoryItem, error) {
	if userID == "" || id == "" {
		return nil, NewMemoryError("Get", ErrInvalidInput)
	}

	item, err := c.storage.Get(ctx, id, &storage.GetOptions{UserID: userID})
	if err != nil {
		return nil, NewMemoryError("Get", mapStorageError(err))
	}

	return itemFromStorage(item), nil
}

// GetAll retrieves the user's memories, newest first.
//
// Example:
//
//	memories, err := client.GetAll(ctx, "user_001",
//	    core.WithTypesForGetAll(core.TypePreference),
//	    core.WithLimit(20))
func (c *Client) GetAll(ctx context.Context, userID string, opts ...GetAllOption) ([]*MemoryItem, error) {
	if userID == "" {
		return nil, NewMemoryError("GetAll", ErrInvalidInput)
	}

	options := applyGetAllOptions(opts...)

	items, err := c.storage.GetAll(ctx, &storage.GetAllOptions{
		UserID: userID,
		Types:  options.Types,
		Limit:  options.Limit,
		Offset: options.Offset,
		Since:  options.Since,
	})
	if err != nil {
		return nil, NewMemoryError("GetAll", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	return itemsFromStorage(items), nil
}

// GetRecent retrieves the user's memories created at or after since, newest
// first, truncated to limit (0 = no limit).
func (c *Client) GetRecent(ctx context.Context, userID string, since time.Time, limit int) ([]*MemoryItem, error) {
	return c.GetAll(ctx, userID, WithSince(since), WithLimit(limit))
}

// Update replaces a memory's content, recomputing its embedding. Confidence
// and importance are preserved from the stored memory.
//
// The prior version stays intact until the new embedding is computed; a
// failed embed surfaces and leaves the memory unchanged.
func (c *Client) Update(ctx context.Context, userID, id, content string) (*MemoryItem, error) {
	if userID == "" || id == "" || strings.TrimSpace(content) == "" {
		return nil, NewMemoryError("Update", ErrInvalidInput)
	}

	existing, err := c.storage.Get(ctx, id, &storage.GetOptions{UserID: userID})
	if err != nil {
		return nil, NewMemoryError("Update", mapStorageError(err))
	}

	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, NewMemoryError("Update", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}

	unlock := c.lockUser(userID)
	defer unlock()

	updated, err := c.storage.Update(ctx, id, &storage.ItemUpdate{
		Content:    content,
		Embedding:  embedding,
		Confidence: existing.Confidence,
		Importance: existing.Importance,
		Entities:   existing.Entities,
	}, &storage.UpdateOptions{UserID: userID})
	if err != nil {
		return nil, NewMemoryError("Update", mapStorageError(err))
	}

	return itemFromStorage(updated), nil
}

// Delete removes a single memory, scoped to the user.
func (c *Client) Delete(ctx context.Context, userID, id string) error {
	if userID == "" || id == "" {
		return NewMemoryError("Delete", ErrInvalidInput)
	}

	unlock := c.lockUser(userID)
	defer unlock()

	if err := c.storage.Delete(ctx, id, &storage.DeleteOptions{UserID: userID}); err != nil {
		return NewMemoryError("Delete", mapStorageError(err))
	}

	return nil
}

// Reset removes all of the user's memories.
func (c *Client) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return NewMemoryError("Reset", ErrInvalidInput)
	}

	unlock := c.lockUser(userID)
	defer unlock()

	if err := c.storage.DeleteAll(ctx, &storage.DeleteAllOptions{UserID: userID}); err != nil {
		return NewMemoryError("Reset", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	return nil
}

// RankingConfig returns the active ranking parameters.
func (c *Client) RankingConfig() intelligence.RankingConfig {
	return c.ranker.Config()
}

// Close releases all provider and storage resources.
func (c *Client) Close() error {
	var firstErr error

	if err := c.storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.llm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return NewMemoryError("Close", firstErr)
}

// mapStorageError translates storage-level errors to the public taxonomy.
func mapStorageError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStorageOperation, err)
}

// validMemoryType reports whether t is a known memory type.
func validMemoryType(t string) bool {
	switch t {
	case TypeConversation, TypeFact, TypePreference:
		return true
	}
	return false
}

// memoryTypeOrFact returns t when it is a known type, fact otherwise.
func memoryTypeOrFact(t string) string {
	if validMemoryType(t) {
		return t
	}
	return TypeFact
}
