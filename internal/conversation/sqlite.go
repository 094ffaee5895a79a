package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists sessions in a SQLite database. Each Append call runs in
// its own transaction under the session's lock.
type SQLiteStore struct {
	db    *sql.DB
	locks sessionLocks
}

// OpenSQLiteStore opens (or creates) the session database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		context_used INTEGER NOT NULL DEFAULT 0,
		confidence REAL,
		sources TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts msgs in one transaction, creating the session row when needed.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...Message) (Session, error) {
	if err := validate(sessionID, msgs); err != nil {
		return Session{}, err
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var last string
	for _, msg := range msgs {
		msg = stamp(msg)
		sources, err := json.Marshal(msg.Sources)
		if err != nil {
			return Session{}, fmt.Errorf("encoding sources: %w", err)
		}
		var confidence sql.NullFloat64
		if msg.ConfidenceScore != nil {
			confidence = sql.NullFloat64{Float64: *msg.ConfidenceScore, Valid: true}
		}
		last = formatTime(msg.Timestamp)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, created_at, last_updated) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated
		`, sessionID, formatTime(time.Now().UTC()), last); err != nil {
			return Session{}, fmt.Errorf("upserting session %s: %w", sessionID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, timestamp, context_used, confidence, sources)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, msg.Role, msg.Content, last, msg.ContextUsed, confidence, string(sources)); err != nil {
			return Session{}, fmt.Errorf("inserting message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("committing messages: %w", err)
	}

	session, _, err := s.Get(ctx, sessionID)
	return session, err
}

// Get loads the session and all its messages.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, bool, error) {
	var created, updated string
	err := s.db.QueryRowContext(ctx, "SELECT created_at, last_updated FROM sessions WHERE id = ?", sessionID).Scan(&created, &updated)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	messages, err := s.History(ctx, sessionID, 0)
	if err != nil {
		return Session{}, false, err
	}
	return Session{
		ID:          sessionID,
		CreatedAt:   parseTime(created),
		LastUpdated: parseTime(updated),
		Messages:    messages,
	}, true, nil
}

// History returns the last limit messages, oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := `
		SELECT role, content, timestamp, context_used, confidence, sources FROM (
			SELECT seq, role, content, timestamp, context_used, confidence, sources
			FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg        Message
			ts         string
			confidence sql.NullFloat64
			sources    string
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &ts, &msg.ContextUsed, &confidence, &sources); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Timestamp = parseTime(ts)
		if confidence.Valid {
			msg.ConfidenceScore = Float(confidence.Float64)
		}
		if sources != "" && sources != "null" {
			if err := json.Unmarshal([]byte(sources), &msg.Sources); err != nil {
				return nil, fmt.Errorf("decoding sources: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// List returns every session, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.last_updated, COUNT(m.seq)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var (
			sum              SessionSummary
			created, updated string
		)
		if err := rows.Scan(&sum.ID, &created, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sum.CreatedAt = parseTime(created)
		sum.LastUpdated = parseTime(updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes the session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
