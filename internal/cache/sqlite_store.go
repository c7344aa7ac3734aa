package cache

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// Store is the persistent tier behind the in-memory cache
type Store interface {
	Get(ctx context.Context, userID, journeyID string) (journey.SessionID, bool, error)
	Put(ctx context.Context, userID, journeyID string, id journey.SessionID) error
	Delete(ctx context.Context, userID, journeyID string) error
	DeleteUser(ctx context.Context, userID string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS progress_sessions (
	user_id    TEXT NOT NULL,
	journey_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, journey_id)
)`

// SQLiteStore keeps progress session ids in a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize identity store: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the stored session id for a (user, journey) pair
func (s *SQLiteStore) Get(ctx context.Context, userID, journeyID string) (journey.SessionID, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM progress_sessions WHERE user_id = ? AND journey_id = ?`,
		userID, journeyID).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session id: %w", err)
	}
	return journey.SessionID(id), true, nil
}

// Put stores or replaces the session id for a (user, journey) pair
func (s *SQLiteStore) Put(ctx context.Context, userID, journeyID string, id journey.SessionID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_sessions (user_id, journey_id, session_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, journey_id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		userID, journeyID, string(id), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store session id: %w", err)
	}
	return nil
}

// Delete removes the session id for a (user, journey) pair
func (s *SQLiteStore) Delete(ctx context.Context, userID, journeyID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM progress_sessions WHERE user_id = ? AND journey_id = ?`, userID, journeyID)
	if err != nil {
		return fmt.Errorf("failed to delete session id: %w", err)
	}
	return nil
}

// DeleteUser removes every session id stored for userID
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM progress_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session ids: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
