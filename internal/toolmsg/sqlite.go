package toolmsg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/tenex-chat/tenex/pkg/models"
)

// SQLiteStore persists tool messages in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tool message db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_messages (
			event_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create tool_messages table: %w", err)
	}
	return nil
}

// Save implements Store. The first write for an id wins.
func (s *SQLiteStore) Save(ctx context.Context, eventID string, messages []models.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal tool messages %s: %w", eventID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_messages (event_id, messages) VALUES (?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, string(data))
	if err != nil {
		return fmt.Errorf("save tool messages %s: %w", eventID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, eventID string) ([]models.Message, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM tool_messages WHERE event_id = ?`, eventID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("load tool messages %s: %w", eventID, err)
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal tool messages %s: %w", eventID, err)
	}
	return msgs, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
