package rag

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mwiater/ragguard/internal/providers"
)

// MemoryIndex keeps chunks in process memory. Readers work on an immutable
// snapshot, so searches never wait on writers; writers serialize among
// themselves and publish a new snapshot in a single pointer swap.
type MemoryIndex struct {
	embedder providers.Embedder
	writeMu  sync.Mutex
	snap     atomic.Pointer[memorySnapshot]
}

type memorySnapshot struct {
	chunks []DocumentChunk
}

// NewMemoryIndex returns an empty index. embedder may be nil when every chunk
// arrives with an embedding.
func NewMemoryIndex(embedder providers.Embedder) *MemoryIndex {
	idx := &MemoryIndex{embedder: embedder}
	idx.snap.Store(&memorySnapshot{})
	return idx
}

// Add stores chunks; the whole batch becomes visible at once.
func (m *MemoryIndex) Add(ctx context.Context, chunks []DocumentChunk) error {
	prepared, err := prepareChunks(ctx, m.embedder, chunks)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	replaced := make(map[string]struct{}, len(prepared))
	for _, c := range prepared {
		replaced[c.ID] = struct{}{}
	}
	m.publish(func(c DocumentChunk) bool {
		_, ok := replaced[c.ID]
		return !ok
	}, prepared)
	return nil
}

// ReplaceDocument drops documentID's chunks and adds chunks in one snapshot swap.
func (m *MemoryIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []DocumentChunk) error {
	prepared, err := prepareChunks(ctx, m.embedder, chunks)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.publish(func(c DocumentChunk) bool { return c.DocumentID != documentID }, prepared)
	return nil
}

// publish builds the next snapshot from the kept part of the current one plus added. Callers hold writeMu.
func (m *MemoryIndex) publish(keep func(DocumentChunk) bool, added []DocumentChunk) int {
	current := m.snap.Load().chunks
	next := make([]DocumentChunk, 0, len(current)+len(added))
	removed := 0
	for _, c := range current {
		if keep(c) {
			next = append(next, c)
		} else {
			removed++
		}
	}
	next = append(next, added...)
	m.snap.Store(&memorySnapshot{chunks: next})
	return removed
}

// Search ranks the current snapshot against query.
func (m *MemoryIndex) Search(ctx context.Context, query []float64, opts SearchOptions) ([]RetrievalHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rankChunks(m.snap.Load().chunks, query, opts), nil
}

// ListDocuments summarizes the documents in the current snapshot, sorted by id.
func (m *MemoryIndex) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	docs := make(map[string]*DocumentInfo)
	for _, c := range m.snap.Load().chunks {
		info, ok := docs[c.DocumentID]
		if !ok {
			info = &DocumentInfo{ID: c.DocumentID, Source: c.Source(), CreatedAt: c.CreatedAt}
			docs[c.DocumentID] = info
		}
		info.ChunkCount++
		if c.CreatedAt.Before(info.CreatedAt) {
			info.CreatedAt = c.CreatedAt
		}
	}
	out := make([]DocumentInfo, 0, len(docs))
	for _, info := range docs {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteDocument removes documentID's chunks.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.publish(func(c DocumentChunk) bool { return c.DocumentID != documentID }, nil), nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	return len(m.snap.Load().chunks), nil
}

// Close is a no-op for the memory index.
func (m *MemoryIndex) Close() error { return nil }
