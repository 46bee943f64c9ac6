package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/tenex-chat/tenex/pkg/models"
)

// SQLiteAdapter persists conversation snapshots in a SQLite database.
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter opens (or creates) the database at path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	return &SQLiteAdapter{db: db}, nil
}

// Initialize implements PersistenceAdapter.
func (a *SQLiteAdapter) Initialize(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	return nil
}

// Save implements PersistenceAdapter.
func (a *SQLiteAdapter) Save(ctx context.Context, id string, snapshot *models.Conversation) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", id, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO conversations (id, snapshot, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = CURRENT_TIMESTAMP
	`, id, string(data))
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", id, err)
	}
	return nil
}

// List implements PersistenceAdapter.
func (a *SQLiteAdapter) List(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load implements PersistenceAdapter.
func (a *SQLiteAdapter) Load(ctx context.Context, id string) (*models.Conversation, error) {
	var data string
	err := a.db.QueryRowContext(ctx, `SELECT snapshot FROM conversations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var conv models.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Close releases the underlying database handle.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
