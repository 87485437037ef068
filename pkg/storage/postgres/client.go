// Package postgres provides a PostgreSQL + pgvector implementation of the
// vector store.
//
// Vectors are stored in a native pgvector column and similarity search runs
// SQL-side with the cosine distance operator, so only the top candidates
// cross the wire.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/recallmem/recall-go/pkg/storage"
)

// Client implements storage.VectorStore using PostgreSQL with pgvector.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL store client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
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

// initTables enables pgvector and creates the table structure.
func (c *Client) initTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			memory_type VARCHAR(32) NOT NULL DEFAULT 'fact',
			importance DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			entities JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_accessed_at TIMESTAMPTZ,
			access_count BIGINT NOT NULL DEFAULT 0
		)
	`, c.collectionName, c.dimensions)

	_, err = c.db.ExecContext(ctx, query)
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

// Insert inserts an item into the PostgreSQL database.
func (c *Client) Insert(ctx context.Context, item *storage.Item) error {
	entitiesJSON, err := json.Marshal(item.Entities)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, content, embedding, memory_type, importance, confidence,
		 entities, created_at, updated_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		item.Content,
		toVector(item.Embedding),
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

// Search performs vector similarity search using pgvector's cosine distance
// operator. Ranking and limiting happen inside the database.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Item, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	vec := toVector(embedding)

	whereClause, args := buildWhereClause(opts.UserID, opts.Types, 2)
	args = append([]interface{}{vec}, args...)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, memory_type, importance,
		       confidence, entities, created_at, updated_at, last_accessed_at,
		       access_count, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT %d
	`, c.collectionName, whereClause, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*storage.Item
	for rows.Next() {
		item, err := c.scanItem(rows, true)
		if err != nil {
			return nil, err
		}
		if item.Score >= opts.MinScore {
			items = append(items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// Get retrieves an item by ID with optional access control.
func (c *Client) Get(ctx context.Context, id string, opts *storage.GetOptions) (*storage.Item, error) {
	if opts == nil {
		opts = &storage.GetOptions{}
	}

	whereClause := "WHERE id = $1"
	args := []interface{}{id}

	if opts.UserID != "" {
		whereClause += " AND user_id = $2"
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

	item, err := c.scanItem(row, false)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
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

	setClause := "SET content = $1, embedding = $2, confidence = $3, importance = $4, updated_at = $5"
	args := []interface{}{upd.Content, toVector(upd.Embedding), upd.Confidence, upd.Importance, time.Now()}
	next := 6

	if upd.Entities != nil {
		entitiesJSON, err := json.Marshal(upd.Entities)
		if err != nil {
			return nil, fmt.Errorf("Update: %w", err)
		}
		setClause += fmt.Sprintf(", entities = $%d", next)
		args = append(args, string(entitiesJSON))
		next++
	}

	whereClause := fmt.Sprintf("WHERE id = $%d", next)
	args = append(args, id)
	next++

	if opts.UserID != "" {
		whereClause += fmt.Sprintf(" AND user_id = $%d", next)
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

	whereClause := "WHERE id = $1"
	args := []interface{}{id}

	if opts.UserID != "" {
		whereClause += " AND user_id = $2"
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

	whereClause, args := buildWhereClause(opts.UserID, opts.Types, 1)

	if opts.Since != nil {
		cond := fmt.Sprintf("created_at >= $%d", len(args)+1)
		if whereClause == "" {
			whereClause = "WHERE " + cond
		} else {
			whereClause += " AND " + cond
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
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*storage.Item
	for rows.Next() {
		item, err := c.scanItem(rows, false)
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

	whereClause, args := buildWhereClause(opts.UserID, nil, 1)

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
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2
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
func (c *Client) scanItem(row scanner, withScore bool) (*storage.Item, error) {
	var item storage.Item
	var vec pgvector.Vector
	var entitiesJSON sql.NullString
	var lastAccessedAt sql.NullTime

	dest := []interface{}{
		&item.ID,
		&item.UserID,
		&item.Content,
		&vec,
		&item.MemoryType,
		&item.Importance,
		&item.Confidence,
		&entitiesJSON,
		&item.CreatedAt,
		&item.UpdatedAt,
		&lastAccessedAt,
		&item.AccessCount,
	}
	if withScore {
		dest = append(dest, &item.Score)
	}

	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanItem: %w", err)
	}

	item.Embedding = fromVector(vec)

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

// toVector converts a float64 slice to a pgvector value (pgvector stores
// float32).
func toVector(embedding []float64) pgvector.Vector {
	f32 := make([]float32, len(embedding))
	for i, v := range embedding {
		f32[i] = float32(v)
	}
	return pgvector.NewVector(f32)
}

// fromVector converts a pgvector value back to float64.
func fromVector(vec pgvector.Vector) []float64 {
	f32 := vec.Slice()
	result := make([]float64, len(f32))
	for i, v := range f32 {
		result[i] = float64(v)
	}
	return result
}
