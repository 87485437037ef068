// Package mysql provides a MySQL-compatible implementation of the vector
// store.
//
// It works against stock MySQL as well as MySQL-protocol databases without
// native vector columns: embeddings are serialized as JSON text and cosine
// similarity is computed in process after filtering rows SQL-side.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/recallmem/recall-go/pkg/storage"
)

// Client implements storage.VectorStore using a MySQL-protocol database.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains MySQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// NewClient creates a new MySQL store client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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

// initTables creates the table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding LONGTEXT NOT NULL,
			memory_type VARCHAR(32) NOT NULL DEFAULT 'fact',
			importance DOUBLE NOT NULL DEFAULT 1.0,
			confidence DOUBLE NOT NULL DEFAULT 1.0,
			entities TEXT,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			last_accessed_at DATETIME(6) NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			INDEX idx_user_type (user_id, memory_type)
		)
	`, c.collectionName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts an item into the MySQL database.
func (c *Client) Insert(ctx context.Context, item *storage.Item) error {
	embeddingJSON, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	entitiesJSON, err := json.Marshal(item.Entities)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, content, embedding, memory_type, importance, confidence,
		 entities, created_at, updated_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

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

// Search performs vector similarity search.
//
// Rows are filtered SQL-side by user and type, then cosine similarity is
// computed in process and results are sorted by score.
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

		item.Score = cosineSimilarity(embedding, item.Embedding)
		if item.Score >= opts.MinScore {
			items = append(items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sortByScore(items, opts.Limit), nil
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

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}

	item, err := c.scanItem(rows)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return item, nil
}

// Update replaces an item's content, embedding, confidence, importance and
// entities with optional access control.
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

// IncrementAccess atomically bumps an item's access count SQL-side.
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

// scanItem scans a database row into a storage.Item.
func (c *Client) scanItem(rows *sql.Rows) (*storage.Item, error) {
	var item storage.Item
	var embeddingJSON string
	var entitiesJSON sql.NullString
	var lastAccessedAt sql.NullTime

	err := rows.Scan(
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
	if err != nil {
		return nil, fmt.Errorf("scanItem: %w", err)
	}

	if err := json.Unmarshal([]byte(embeddingJSON), &item.Embedding); err != nil {
		return nil, fmt.Errorf("scanItem: embedding: %w", err)
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
