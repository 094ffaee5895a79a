// Package conversation keeps per-session chat history for the pipeline.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mwiater/ragguard/internal/appconfig"
)

// Roles recorded on a Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidMessage is returned by Append for a message with an unknown role,
// an empty session id, or no messages at all.
var ErrInvalidMessage = errors.New("invalid conversation message")

// SourceSnapshot records which chunk supported an answer at the time it was given.
type SourceSnapshot struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source,omitempty"`
	Ordinal    int     `json:"ordinal"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt,omitempty"`
}

// Message is one turn. Messages are immutable once appended.
type Message struct {
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	ContextUsed     bool             `json:"context_used"`
	ConfidenceScore *float64         `json:"confidence_score,omitempty"`
	Sources         []SourceSnapshot `json:"sources,omitempty"`
}

// Session is an ordered conversation.
type Session struct {
	ID          string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Messages    []Message `json:"messages"`
}

// MessageCount returns the number of turns in the session.
func (s Session) MessageCount() int { return len(s.Messages) }

// SessionSummary is the listing form of a Session.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
}

// Store persists sessions. Appends to one session are serialized; appends to
// different sessions may run in parallel.
type Store interface {
	// Append adds msgs to the session as one unit, creating the session on
	// first use. Either every message is stored, in order, or none is.
	Append(ctx context.Context, sessionID string, msgs ...Message) (Session, error)
	Get(ctx context.Context, sessionID string) (Session, bool, error)
	// History returns up to limit of the most recent messages, oldest first.
	// A limit of zero or less returns every message.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	List(ctx context.Context) ([]SessionSummary, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

// Float returns a pointer to v, for Message.ConfidenceScore.
func Float(v float64) *float64 { return &v }

func validate(sessionID string, msgs []Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("empty session id"))
	}
	if len(msgs) == 0 {
		return errors.Join(ErrInvalidMessage, errors.New("no messages"))
	}
	for _, msg := range msgs {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return errors.Join(ErrInvalidMessage, errors.New("unknown role "+msg.Role))
		}
	}
	return nil
}

func stamp(msg Message) Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Sources = append([]SourceSnapshot(nil), msg.Sources...)
	if msg.ConfidenceScore != nil {
		msg.ConfidenceScore = Float(*msg.ConfidenceScore)
	}
	return msg
}

func tail(messages []Message, limit int) []Message {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]Message(nil), messages...)
}

// sessionLocks hands out one mutex per session id.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Open returns the store named by kind ("memory" or "sqlite"). path is only
// used by the SQLite store.
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", appconfig.StoreMemory:
		return NewMemoryStore(), nil
	case appconfig.StoreSQLite:
		return OpenSQLiteStore(path)
	default:
		return nil, &appconfig.ConfigurationError{Field: "conversation.store", Reason: "unknown store " + kind}
	}
}
