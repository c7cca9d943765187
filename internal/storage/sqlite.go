package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"echo-civic-assistant/backend/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_history (
	session_key TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);`

// SQLite stores history in a local database file
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Load implements HistoryStore
func (s *SQLite) Load(ctx context.Context, key string) ([]models.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM chat_history WHERE session_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", key, err)
	}
	return Decode([]byte(payload))
}

// Save implements HistoryStore
func (s *SQLite) Save(ctx context.Context, key string, messages []models.Message) error {
	data, err := Encode(messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_history (session_key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save history %s: %w", key, err)
	}
	return nil
}

// Clear implements HistoryStore
func (s *SQLite) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("clear history %s: %w", key, err)
	}
	return nil
}

// Ping checks the database handle
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
