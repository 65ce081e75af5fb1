package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// SQLiteItemStore implements ItemStore on a local SQLite database.
type SQLiteItemStore struct {
	db *sql.DB
}

// NewSQLiteItemStore opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func NewSQLiteItemStore(path string) (*SQLiteItemStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteItemStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteItemStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			score REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_items_org ON items(org_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate items table: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteItemStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteItemStore) Create(ctx context.Context, item *models.Item) error {
	if item == nil || item.Title == "" {
		return fmt.Errorf("item title is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (id, org_id, title, body, tags, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OrgID, item.Title, item.Body, string(tags), item.Score,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (s *SQLiteItemStore) Get(ctx context.Context, orgID, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, title, body, tags, score, created_at, updated_at
		 FROM items WHERE id = ? AND org_id = ?`, id, orgID)
	return scanItem(row)
}

func (s *SQLiteItemStore) Update(ctx context.Context, item *models.Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	item.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET title = ?, body = ?, tags = ?, score = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		item.Title, item.Body, string(tags), item.Score, item.UpdatedAt,
		item.ID, item.OrgID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteItemStore) Search(ctx context.Context, orgID string, opts SearchOptions) ([]*models.Item, error) {
	query := `SELECT id, org_id, title, body, tags, score, created_at, updated_at
		 FROM items WHERE org_id = ?`
	args := []any{orgID}

	if q := strings.TrimSpace(opts.Query); q != "" {
		query += ` AND (title LIKE ? OR body LIKE ?)`
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern)
	}
	// Tags filter in SQL so LIMIT applies to the filtered set; the tags
	// column is a JSON array.
	for _, tag := range opts.Tags {
		query += ` AND EXISTS (SELECT 1 FROM json_each(items.tags) WHERE lower(json_each.value) = lower(?))`
		args = append(args, tag)
	}
	query += ` ORDER BY score DESC, updated_at DESC`
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	defer rows.Close()

	items := make([]*models.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteItemStore) SetScore(ctx context.Context, orgID, id string, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET score = ?, updated_at = ? WHERE id = ? AND org_id = ?`,
		score, time.Now(), id, orgID)
	if err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var item models.Item
	var tags string
	err := row.Scan(&item.ID, &item.OrgID, &item.Title, &item.Body, &tags,
		&item.Score, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		item.Tags = nil
	}
	return &item, nil
}
