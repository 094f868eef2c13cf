// Package history provides the durable per-conversation turn log. Each
// conversation is an append-only ordered sequence of turns; the store
// is the single source of truth across process restarts. All public
// methods are safe for concurrent use (SQLite serializes writers; the
// orchestration engine additionally serializes runs per conversation).
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// TimestampLayout is the wire format for persisted turn timestamps.
// Second precision, sorts lexicographically in arrival order.
const TimestampLayout = "2006-01-02 15:04:05"

// Role values for a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// defaultWindow caps how many trailing turns Load returns. Older turns
// stay on disk; the cap only bounds what reaches the prompt assembler.
const defaultWindow = 100

// Turn is one recorded message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Sender is the display identity of the author, set only for
	// group conversations. Empty in one-to-one chats.
	Sender string `json:"sender,omitempty"`
}

// Store is the SQLite-backed turn log.
type Store struct {
	db     *sql.DB
	window int
}

// Option configures a Store.
type Option func(*Store)

// WithWindow overrides the read window (trailing turns returned by
// Load). Values below 1 are ignored.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.window = n
		}
	}
}

// Open creates or opens the turn log at the given database path.
// The schema is created automatically on first use.
func Open(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db, window: defaultWindow}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		timestamp       TEXT NOT NULL,
		sender          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, timestamp, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append durably records a turn at the end of a conversation. The
// insert is a single statement: it either commits or leaves the log
// unchanged. A zero turn timestamp is stamped with the current time.
func (s *Store) Append(conversationID string, t Turn) error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return fmt.Errorf("append %s: invalid role %q", conversationID, t.Role)
	}

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	// uuid v7 is time-ordered, which keeps insertion order stable even
	// when two turns share the same second-precision timestamp.
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("append %s: %w", conversationID, err)
	}

	var sender any
	if t.Sender != "" {
		sender = t.Sender
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, conversation_id, role, content, timestamp, sender)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), conversationID, t.Role, t.Content, ts.Format(TimestampLayout), sender)
	if err != nil {
		return fmt.Errorf("append %s: %w", conversationID, err)
	}

	return nil
}

// Load returns a conversation's turns in arrival order, bounded by the
// store's read window. Unseen conversations yield an empty slice.
func (s *Store) Load(conversationID string) ([]Turn, error) {
	return s.Recent(conversationID, s.window)
}

// Recent returns the last n turns in arrival order, or fewer if the
// history is shorter.
func (s *Store) Recent(conversationID string, n int) ([]Turn, error) {
	if n < 1 {
		return nil, nil
	}

	// Select the trailing n rows, then flip back to arrival order.
	rows, err := s.db.Query(`
		SELECT role, content, timestamp, sender FROM (
			SELECT id, role, content, timestamp, sender
			FROM turns
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", conversationID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ts string
		var sender sql.NullString
		if err := rows.Scan(&t.Role, &t.Content, &ts, &sender); err != nil {
			return nil, fmt.Errorf("load %s: %w", conversationID, err)
		}
		t.Timestamp, err = time.ParseInLocation(TimestampLayout, ts, time.Local)
		if err != nil {
			return nil, fmt.Errorf("load %s: bad timestamp %q: %w", conversationID, ts, err)
		}
		if sender.Valid {
			t.Sender = sender.String
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", conversationID, err)
	}

	return turns, nil
}

// Reset deletes all turns for a conversation. Used by the /reset
// command; the core pipeline never deletes history.
func (s *Store) Reset(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("reset %s: %w", conversationID, err)
	}
	return nil
}

// Count returns the total number of persisted turns for a conversation,
// ignoring the read window.
func (s *Store) Count(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", conversationID, err)
	}
	return n, nil
}

// Stats returns store-wide statistics for the debug endpoint.
func (s *Store) Stats() map[string]any {
	var convs, turns int
	_ = s.db.QueryRow(`SELECT COUNT(DISTINCT conversation_id) FROM turns`).Scan(&convs)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turns)
	return map[string]any{
		"conversations": convs,
		"turns":         turns,
		"window":        s.window,
	}
}
