// Package chromem provides an embedded, in-memory implementation of the
// vector store backed by chromem-go.
//
// It needs no external service, which makes it the zero-setup backend for
// tests and local experimentation. Each user gets a dedicated collection for
// namespace isolation. Nothing is persisted across restarts.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/recallmem/recall-go/pkg/storage"
)

// Client implements storage.VectorStore using chromem-go.
//
// chromem-go does not expose document enumeration, so the client keeps a
// sidecar index mapping item IDs to their owning user. The mutex guards the
// index and makes read-modify-write operations (Update, IncrementAccess)
// atomic with respect to each other.
type Client struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	owners      map[string]string // item ID -> user ID
	mu          sync.RWMutex
}

// NewClient creates a new chromem store client.
func NewClient() (*Client, error) {
	return &Client{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		owners:      make(map[string]string),
	}, nil
}

// collectionName returns the collection name for a user.
func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

// getOrCreateCollection returns the collection for a user, creating it on
// first use. It may write c.collections, so callers must hold the write
// lock.
func (c *Client) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	if col, ok := c.collections[userID]; ok {
		return col, nil
	}

	col, err := c.db.CreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	c.collections[userID] = col
	return col, nil
}

// Insert inserts an item into the store.
func (c *Client) Insert(ctx context.Context, item *storage.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	col, err := c.getOrCreateCollection(item.UserID)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	doc, err := toDocument(item)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	c.owners[item.ID] = item.UserID
	return nil
}

// Search performs vector similarity search within the user's collection.
//
// chromem-go truncates query results to nResults before our type and score
// filters could run, and a truncated result set may contain none of the
// requested types even when matching items exist. The query therefore always
// fetches the full collection (which is in memory anyway) and the filters
// plus the limit run in-process, matching the filter-before-limit order of
// the SQL backends.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	c.mu.RLock()
	col, ok := c.collections[opts.UserID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(embedding), count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	var items []*storage.Item
	for _, result := range results {
		item, err := fromResult(result)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}

		item.Score = float64(result.Similarity)
		if item.Score < opts.MinScore {
			continue
		}
		if len(opts.Types) > 0 && !containsType(opts.Types, item.MemoryType) {
			continue
		}
		items = append(items, item)
	}

	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	return items, nil
}

// Get retrieves an item by ID with optional access control.
func (c *Client) Get(ctx context.Context, id string, opts *storage.GetOptions) (*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetOptions{}
	}

	c.mu.RLock()
	item, err := c.getLocked(ctx, id, opts.UserID)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return item, nil
}

// getLocked looks up an item by ID. Callers must hold at least a read lock.
func (c *Client) getLocked(ctx context.Context, id, userID string) (*storage.Item, error) {
	owner, ok := c.owners[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if userID != "" && owner != userID {
		return nil, storage.ErrNotFound
	}

	col, ok := c.collections[owner]
	if !ok {
		return nil, storage.ErrNotFound
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, storage.ErrNotFound
	}

	return fromDocument(doc)
}

// Update replaces an item's content, embedding, confidence, importance and
// entities. chromem-go's AddDocument upserts, so the replacement document is
// written in place of the old one.
func (c *Client) Update(ctx context.Context, id string, upd *storage.ItemUpdate, opts *storage.UpdateOptions) (*storage.Item, error) {
	if opts == nil {
		opts = &storage.UpdateOptions{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.getLocked(ctx, id, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	item.Content = upd.Content
	item.Embedding = upd.Embedding
	item.Confidence = upd.Confidence
	item.Importance = upd.Importance
	if upd.Entities != nil {
		item.Entities = upd.Entities
	}
	item.UpdatedAt = time.Now()

	if err := c.putLocked(ctx, item); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	return item, nil
}

// putLocked writes an item back into its owner's collection. Callers must
// hold the write lock.
func (c *Client) putLocked(ctx context.Context, item *storage.Item) error {
	col, err := c.getOrCreateCollection(item.UserID)
	if err != nil {
		return err
	}

	doc, err := toDocument(item)
	if err != nil {
		return err
	}

	return col.AddDocument(ctx, doc)
}

// Delete deletes an item by ID with optional access control.
func (c *Client) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	if opts == nil {
		opts = &storage.DeleteOptions{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[id]
	if !ok {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}
	if opts.UserID != "" && owner != opts.UserID {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}

	col, ok := c.collections[owner]
	if !ok {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	delete(c.owners, id)
	return nil
}

// GetAll retrieves all items with optional filtering and pagination, newest
// first. Enumeration runs over the sidecar ID index.
func (c *Client) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetAllOptions{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var items []*storage.Item
	for id, owner := range c.owners {
		if opts.UserID != "" && owner != opts.UserID {
			continue
		}

		item, err := c.getLocked(ctx, id, "")
		if err != nil {
			continue
		}

		if len(opts.Types) > 0 && !containsType(opts.Types, item.MemoryType) {
			continue
		}
		if opts.Since != nil && item.CreatedAt.Before(*opts.Since) {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if opts.Limit > 0 {
		start := opts.Offset
		if start > len(items) {
			start = len(items)
		}
		end := start + opts.Limit
		if end > len(items) {
			end = len(items)
		}
		items = items[start:end]
	}

	return items, nil
}

// DeleteAll deletes all items matching the given filters.
func (c *Client) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	if opts == nil {
		opts = &storage.DeleteAllOptions{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.UserID == "" {
		c.db.Reset()
		c.collections = make(map[string]*chromem.Collection)
		c.owners = make(map[string]string)
		return nil
	}

	if _, ok := c.collections[opts.UserID]; ok {
		if err := c.db.DeleteCollection(collectionName(opts.UserID)); err != nil {
			return fmt.Errorf("DeleteAll: %w", err)
		}
		delete(c.collections, opts.UserID)
	}

	for id, owner := range c.owners {
		if owner == opts.UserID {
			delete(c.owners, id)
		}
	}

	return nil
}

// IncrementAccess bumps an item's access count. The write lock makes the
// read-modify-write atomic so concurrent bumps are never lost.
func (c *Client) IncrementAccess(ctx context.Context, id string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, err := c.getLocked(ctx, id, "")
	if err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	item.AccessCount++
	t := at
	item.LastAccessedAt = &t

	if err := c.putLocked(ctx, item); err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	return nil
}

// Close releases resources. chromem-go keeps everything in memory, so there
// is nothing to close.
func (c *Client) Close() error {
	return nil
}

// toDocument serializes an item into a chromem document. Structured fields
// travel in the string-valued metadata map.
func toDocument(item *storage.Item) (chromem.Document, error) {
	entitiesJSON, err := json.Marshal(item.Entities)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal entities: %w", err)
	}

	metadata := map[string]string{
		"user_id":      item.UserID,
		"memory_type":  item.MemoryType,
		"importance":   strconv.FormatFloat(item.Importance, 'g', -1, 64),
		"confidence":   strconv.FormatFloat(item.Confidence, 'g', -1, 64),
		"entities":     string(entitiesJSON),
		"created_at":   item.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   item.UpdatedAt.Format(time.RFC3339Nano),
		"access_count": strconv.FormatInt(item.AccessCount, 10),
	}
	if item.LastAccessedAt != nil {
		metadata["last_accessed_at"] = item.LastAccessedAt.Format(time.RFC3339Nano)
	}

	return chromem.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: toFloat32(item.Embedding),
		Metadata:  metadata,
	}, nil
}

// fromDocument deserializes a chromem document back into an item.
func fromDocument(doc chromem.Document) (*storage.Item, error) {
	item := &storage.Item{
		ID:         doc.ID,
		UserID:     doc.Metadata["user_id"],
		Content:    doc.Content,
		Embedding:  toFloat64(doc.Embedding),
		MemoryType: doc.Metadata["memory_type"],
	}

	var err error
	if item.Importance, err = strconv.ParseFloat(doc.Metadata["importance"], 64); err != nil {
		return nil, fmt.Errorf("parse importance: %w", err)
	}
	if item.Confidence, err = strconv.ParseFloat(doc.Metadata["confidence"], 64); err != nil {
		return nil, fmt.Errorf("parse confidence: %w", err)
	}
	if item.AccessCount, err = strconv.ParseInt(doc.Metadata["access_count"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse access_count: %w", err)
	}
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, doc.Metadata["created_at"]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, doc.Metadata["updated_at"]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	if raw := doc.Metadata["last_accessed_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse last_accessed_at: %w", err)
		}
		item.LastAccessedAt = &t
	}

	if raw := doc.Metadata["entities"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &item.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}

	return item, nil
}

// fromResult converts a query result into an item.
func fromResult(result chromem.Result) (*storage.Item, error) {
	return fromDocument(chromem.Document{
		ID:        result.ID,
		Content:   result.Content,
		Embedding: result.Embedding,
		Metadata:  result.Metadata,
	})
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if strings.EqualFold(candidate, t) {
			return true
		}
	}
	return false
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
