// Package sqlite provides a SQLite implementation of the vector store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-host deployments. Vectors are stored as JSON strings in TEXT
// fields, and similarity search uses in-memory cosine similarity calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/recallmem/recall-go/pkg/storage"
)

// Client implements storage.VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing items.
	collectionName string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file. ":memory:" creates an
	// in-memory database.
	DBPath string

	// CollectionName is the name of the table to use.
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int
}

// NewClient creates a new SQLite store client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if cfg.DBPath == ":memory:" {
		// Each pooled connection to ":memory:" gets its own empty
		// database, so the pool must stay at a single connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}

	client := &Client{
		db:             db,
		collectionName: collection,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
//
// SQLite stores vectors and entity lists as JSON strings in TEXT fields.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT 'fact',
			importance REAL NOT NULL DEFAULT 1.0,
			confidence REAL NOT NULL DEFAULT 1.0,
			entities TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_type ON %s(user_id, memory_type)
	`, c.collectionName, c.collectionName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts an item into the SQLite database.
func (c *Client) Insert(ctx context.Context, item *storage.Item) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, content, embedding, memory_type, importance, confidence,
		 entities, created_at, updated_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	embeddingJSON, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	entitiesJSON, err := json.Marshal(item.Entities)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		item.Content,
		string(embeddingJSON),
		item.MemoryType,
		item.Importance,
		item.Confidence,
		string(entitiesJSON),
		item.CreatedAt,
		item.UpdatedAt,
		item.LastAccessedAt,
		item.AccessCount,
	)

	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Search performs vector similarity search using cosine similarity.
//
// SQLite does not have native vector operations, so similarity is calculated
// in memory after loading all matching records.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	whereClause, args := buildWhereClause(opts.UserID, opts.Types)

	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, memory_type, importance,
		       confidence, entities, created_at, updated_at, last_accessed_at,
		       access_count
		FROM %s
		%s
		ORDER BY id
	`, c.collectionName, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*storage.Item
	for rows.Next() {
		item, err := c.scanItem(rows)
		if err != nil {
			return nil, err
		}

		score := cosineSimilarity(embedding, item.Embedding)
		item.Score = score

		if score >= opts.MinScore {
			items = append(items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	items = sortByScore(items, opts.Limit)

	return items, nil
}

// Get retrieves an item by ID with optional access control.
func (c *Client) Get(ctx context.Context, id string, opts *storage.GetOptions) (*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetOptions{}
	}

	whereClause := "WHERE id = ?"
	args := []interface{}{id}

	if opts.UserID != "" {
		whereClause += " AND user_id = ?"
		args = append(args, opts.UserID)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, memory_type, importance,
		       confidence, entities, created_at, updated_at, last_accessed_at,
		       access_count
		FROM %s
		%s
	`, c.collectionName, whereClause)

	row := c.db.QueryRowContext(ctx, query, args...)

	item, err := c.scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return item, nil
}

// Update replaces an item's content, embedding, confidence, importance and
// entities with optional access control. The replacement happens in a single
// statement, so a failed update leaves the prior row intact.
func (c *Client) Update(ctx context.Context, id string, upd *storage.ItemUpdate, opts *storage.UpdateOptions) (*storage.Item, error) {
	if opts == nil {
		opts = &storage.UpdateOptions{}
	}

	embeddingJSON, err := json.Marshal(upd.Embedding)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	setClause := "SET content = ?, embedding = ?, confidence = ?, importance = ?, updated_at = ?"
	args := []interface{}{upd.Content, string(embeddingJSON), upd.Confidence, upd.Importance, time.Now()}

	if upd.Entities != nil {
		entitiesJSON, err := json.Marshal(upd.Entities)
		if err != nil {
			return nil, fmt.Errorf("Update: %w", err)
		}
		setClause += ", entities = ?"
		args = append(args, string(entitiesJSON))
	}

	whereClause := "WHERE id = ?"
	args = append(args, id)

	if opts.UserID != "" {
		whereClause += " AND user_id = ?"
		args = append(args, opts.UserID)
	}

	query := fmt.Sprintf("UPDATE %s %s %s", c.collectionName, setClause, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	if rowsAffected == 0 {
		return nil, fmt.Errorf("Update: %w", storage.ErrNotFound)
	}

	return c.Get(ctx, id, &storage.GetOptions{UserID: opts.UserID})
}

// Delete deletes an item by ID with optional access control.
func (c *Client) Delete(ctx context.Context, id string, opts *storage.DeleteOptions) error {
	if opts == nil {
		opts = &storage.DeleteOptions{}
	}

	whereClause := "WHERE id = ?"
	args := []interface{}{id}

	if opts.UserID != "" {
		whereClause += " AND user_id = ?"
		args = append(args, opts.UserID)
	}

	query := fmt.Sprintf("DELETE FROM %s %s", c.collectionName, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}

	return nil
}

// GetAll retrieves all items with optional filtering and pagination, newest
// first.
func (c *Client) GetAll(ctx context.Context, opts *storage.GetAllOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetAllOptions{}
	}

	whereClause, args := buildWhereClause(opts.UserID, opts.Types)

	if opts.Since != nil {
		if whereClause == "" {
			whereClause = "WHERE created_at >= ?"
		} else {
			whereClause += " AND created_at >= ?"
		}
		args = append(args, *opts.Since)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, memory_type, importance,
		       confidence, entities, created_at, updated_at, last_accessed_at,
		       access_count
		FROM %s
		%s
		ORDER BY created_at DESC
	`, c.collectionName, whereClause)

	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*storage.Item
	for rows.Next() {
		item, err := c.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// DeleteAll deletes all items matching the given filters.
func (c *Client) DeleteAll(ctx context.Context, opts *storage.DeleteAllOptions) error {
	if opts == nil {
		opts = &storage.DeleteAllOptions{}
	}

	whereClause, args := buildWhereClause(opts.UserID, nil)

	query := fmt.Sprintf("DELETE FROM %s %s", c.collectionName, whereClause)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}

	return nil
}

// IncrementAccess atomically bumps an item's access count.
//
// The increment happens SQL-side so concurrent bumps are serialized by the
// database and never lost.
func (c *Client) IncrementAccess(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, c.collectionName)

	result, err := c.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("IncrementAccess: %w", storage.ErrNotFound)
	}

	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanItem.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanItem scans a database row into a storage.Item.
func (c *Client) scanItem(row scanner) (*storage.Item, error) {
	var item storage.Item
	var embeddingJSON, entitiesJSON sql.NullString
	var lastAccessedAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Content,
		&embeddingJSON,
		&item.MemoryType,
		&item.Importance,
		&item.Confidence,
		&entitiesJSON,
		&item.CreatedAt,
		&item.UpdatedAt,
		&lastAccessedAt,
		&item.AccessCount,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanItem: %w", err)
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("scanItem: embedding: %w", err)
		}
	}

	if entitiesJSON.Valid && entitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &item.Entities); err != nil {
			return nil, fmt.Errorf("scanItem: entities: %w", err)
		}
	}

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		item.LastAccessedAt = &t
	}

	return &item, nil
}
