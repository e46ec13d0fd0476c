// Package history provides append-only conversation turn storage.
// Every Apex interaction is kept permanently and is searchable; there
// are no update or delete operations.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSession is the session used when the caller does not supply one.
const DefaultSession = "default"

// Turn represents one message in a conversation.
type Turn struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// Store manages turn persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store using an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT 'default'
		);

		CREATE INDEX IF NOT EXISTS idx_conv_id ON conversations(id DESC);
		CREATE INDEX IF NOT EXISTS idx_conv_session ON conversations(session_id, id DESC);
	`)
	return err
}

// SaveTurn appends a conversation turn. Empty or whitespace-only
// content is a no-op: the transcript never carries blank entries.
func (s *Store) SaveTurn(role, content, sessionID string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if sessionID == "" {
		sessionID = DefaultSession
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO conversations (role, content, timestamp, session_id) VALUES (?, ?, ?, ?)`,
		role, content, now.Format(time.RFC3339Nano), sessionID,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Recent returns the last n turns in chronological order (oldest
// first). The underlying query fetches newest-first by insertion id
// (the authoritative chronology) and the result is reversed before
// returning. Callers depend on chronological reading order; this is
// part of the contract, not an implementation detail.
//
// An empty sessionID returns turns across all sessions.
func (s *Store) Recent(n int, sessionID string) ([]Turn, error) {
	var rows *sql.Rows
	var err error

	if sessionID != "" {
		rows, err = s.db.Query(
			`SELECT id, role, content, timestamp, session_id FROM conversations
			 WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
			sessionID, n,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, role, content, timestamp, session_id FROM conversations
			 ORDER BY id DESC LIMIT ?`,
			n,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	// Reverse so oldest is first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Search finds turns containing the query substring, newest first.
func (s *Store) Search(query string, limit int) ([]Turn, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT id, role, content, timestamp, session_id FROM conversations
		 WHERE content LIKE ? ORDER BY id DESC LIMIT ?`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var ts string
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &ts, &t.SessionID); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
