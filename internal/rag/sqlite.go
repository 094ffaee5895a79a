package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
)

// SQLiteIndex persists chunks in a SQLite database. Embeddings are stored as
// JSON blobs and scored in process. Writes run in a transaction, so a document's
// chunk set is never partially visible.
type SQLiteIndex struct {
	db       *sql.DB
	embedder providers.Embedder
}

// OpenSQLiteIndex opens (or creates) the index database at path.
func OpenSQLiteIndex(path string, embedder providers.Embedder) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	idx := &SQLiteIndex{db: db, embedder: embedder}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing index schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add stores chunks in one transaction.
func (s *SQLiteIndex) Add(ctx context.Context, chunks []DocumentChunk) error {
	prepared, err := prepareChunks(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, prepared)
	})
}

// ReplaceDocument deletes documentID's chunks and inserts chunks in one transaction.
func (s *SQLiteIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []DocumentChunk) error {
	prepared, err := prepareChunks(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
			return fmt.Errorf("deleting document %s: %w", documentID, err)
		}
		return insertChunks(ctx, tx, prepared)
	})
}

func (s *SQLiteIndex) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []DocumentChunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, document_id, ordinal, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		meta := chunk.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.Ordinal, chunk.Text, embeddingJSON, string(metaJSON), chunk.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

// Search loads every chunk and ranks them in process.
func (s *SQLiteIndex) Search(ctx context.Context, query []float64, opts SearchOptions) ([]RetrievalHit, error) {
	chunks, err := s.loadChunks(ctx)
	if err != nil {
		return nil, err
	}
	return rankChunks(chunks, query, opts), nil
}

func (s *SQLiteIndex) loadChunks(ctx context.Context) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, embedding, metadata, created_at
		FROM chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DocumentChunk
	for rows.Next() {
		var (
			chunk         DocumentChunk
			embeddingJSON []byte
			metaJSON      string
			createdAt     time.Time
		)
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Text, &embeddingJSON, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal(embeddingJSON, &chunk.Embedding); err != nil {
			logging.LogEvent("[RAG] skipping chunk %s with corrupt embedding: %v", chunk.ID, err)
			continue
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &chunk.Metadata); err != nil {
				logging.LogEvent("[RAG] skipping chunk %s with corrupt metadata: %v", chunk.ID, err)
				continue
			}
		}
		chunk.CreatedAt = createdAt
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ListDocuments groups stored chunks by document.
func (s *SQLiteIndex) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, COUNT(*), MIN(created_at),
			COALESCE((SELECT c2.metadata FROM chunks c2 WHERE c2.document_id = c.document_id ORDER BY c2.ordinal LIMIT 1), '{}')
		FROM chunks c
		GROUP BY document_id
		ORDER BY document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var (
			info      DocumentInfo
			createdAt string
			metaJSON  string
		)
		if err := rows.Scan(&info.ID, &info.ChunkCount, &createdAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		info.CreatedAt = parseSQLiteTime(createdAt)
		// The document stays listed so it can still be deleted.
		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			logging.LogEvent("[RAG] document %s has corrupt metadata: %v", info.ID, err)
		}
		info.Source = meta[MetaSource]
		if info.Source == "" {
			info.Source = info.ID
		}
		docs = append(docs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// DeleteDocument removes documentID's chunks.
func (s *SQLiteIndex) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// parseSQLiteTime handles the text forms go-sqlite3 returns for aggregate datetime columns.
func parseSQLiteTime(value string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
