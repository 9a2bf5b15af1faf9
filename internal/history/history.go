// Package history persists chat messages in SQLite. The persisted window is
// capped separately from (and smaller than) the in-memory history: older rows
// are dropped as new ones arrive, never reordered.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Entry is one persisted chat message.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a capped SQLite-backed message log.
type Store struct {
	db    *sql.DB
	limit int
}

// Open opens (creating if needed) the history database at path, keeping at
// most limit rows per session.
func Open(path string, limit int) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		role TEXT,
		content TEXT,
		created_at DATETIME
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	return &Store{db: db, limit: limit}, nil
}

// Save appends a message and prunes the oldest rows beyond the cap.
func (s *Store) Save(e Entry) error {
	if _, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?);`,
		e.SessionID, e.Role, e.Content, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if s.limit <= 0 {
		return nil
	}
	if _, err := s.db.Exec(
		`DELETE FROM messages WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		);`,
		e.SessionID, e.SessionID, s.limit,
	); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return nil
}

// List returns the session's persisted messages in chronological order.
func (s *Store) List(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC;`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes every persisted message of the session.
func (s *Store) Clear(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?;`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
