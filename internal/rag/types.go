package rag

import (
	"context"
	"errors"
	"time"
)

// Metadata keys set by the indexer.
const (
	MetaSource     = "source"
	MetaChunkCount = "chunk_count"
)

// ErrMissingEmbedding is returned when a chunk without an embedding reaches an index that has no Embedder.
var ErrMissingEmbedding = errors.New("chunk has no embedding and no embedder is configured")

// DocumentChunk is one contiguous slice of a source document plus its embedding.
type DocumentChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Embedding  []float64         `json:"embedding,omitempty"`
	Ordinal    int               `json:"ordinal"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Source returns the human-readable origin of the chunk, falling back to the document id.
func (c DocumentChunk) Source() string {
	if s := c.Metadata[MetaSource]; s != "" {
		return s
	}
	return c.DocumentID
}

// RetrievalHit is a chunk plus similarity score in [0, 1].
type RetrievalHit struct {
	Chunk      DocumentChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
}

// SearchOptions controls a similarity query.
type SearchOptions struct {
	K         int
	Threshold float64
	// Filter keeps only chunks whose metadata contains every key/value pair.
	Filter map[string]string
}

// DocumentInfo summarizes one indexed document.
type DocumentInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Index stores chunk embeddings and answers similarity queries. Every
// implementation makes a document's chunk set visible to readers all at once.
type Index interface {
	// Add stores chunks, embedding any that arrive without a vector.
	Add(ctx context.Context, chunks []DocumentChunk) error
	// ReplaceDocument swaps a document's chunk set for chunks in one step.
	ReplaceDocument(ctx context.Context, documentID string, chunks []DocumentChunk) error
	Search(ctx context.Context, query []float64, opts SearchOptions) ([]RetrievalHit, error)
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)
	// DeleteDocument removes a document's chunks and reports how many were removed.
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
