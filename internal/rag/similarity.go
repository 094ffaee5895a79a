package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mwiater/ragguard/internal/providers"
)

// Normalize returns a unit-length copy of v. Zero vectors are returned unchanged.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	norm := vectorNorm(out)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}

// similarity is 1 - cosine distance on unit vectors, clamped to [0, 1].
func similarity(unitQuery, unitChunk []float64) float64 {
	dot := 0.0
	for i := range unitQuery {
		dot += unitQuery[i] * unitChunk[i]
	}
	return math.Max(0, math.Min(1, dot))
}

func vectorNorm(v []float64) float64 {
	sum := 0.0
	for _, val := range v {
		sum += val * val
	}
	return math.Sqrt(sum)
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// rankChunks scores chunks (whose embeddings are already unit length) against
// query and applies the threshold, ordering, and K cut from opts.
func rankChunks(chunks []DocumentChunk, query []float64, opts SearchOptions) []RetrievalHit {
	if opts.K <= 0 || len(query) == 0 {
		return []RetrievalHit{}
	}
	unit := Normalize(query)
	hits := make([]RetrievalHit, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != len(unit) {
			continue
		}
		if len(opts.Filter) > 0 && !matchesFilter(chunk.Metadata, opts.Filter) {
			continue
		}
		score := similarity(unit, chunk.Embedding)
		if score < opts.Threshold {
			continue
		}
		hits = append(hits, RetrievalHit{Chunk: chunk, Similarity: score})
	}

	sortHits(hits)
	if len(hits) > opts.K {
		hits = hits[:opts.K]
	}
	return hits
}

// sortHits orders by similarity descending, then ordinal ascending. Document
// and chunk ids settle any remaining ties so results are deterministic.
func sortHits(hits []RetrievalHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

// prepareChunks embeds chunks that lack a vector and returns normalized
// copies. It runs before any index lock is taken.
func prepareChunks(ctx context.Context, embedder providers.Embedder, chunks []DocumentChunk) ([]DocumentChunk, error) {
	out := make([]DocumentChunk, len(chunks))
	now := time.Now().UTC()
	for i, chunk := range chunks {
		if chunk.ID == "" || chunk.DocumentID == "" {
			return nil, fmt.Errorf("chunk %d: id and document id are required", i)
		}
		if len(chunk.Embedding) == 0 {
			if embedder == nil {
				return nil, fmt.Errorf("chunk %s: %w", chunk.ID, ErrMissingEmbedding)
			}
			vec, err := embedder.Embed(ctx, chunk.Text)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
			}
			chunk.Embedding = vec
		}
		chunk.Embedding = Normalize(chunk.Embedding)
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
		if chunk.Metadata != nil {
			meta := make(map[string]string, len(chunk.Metadata))
			for k, v := range chunk.Metadata {
				meta[k] = v
			}
			chunk.Metadata = meta
		}
		out[i] = chunk
	}
	return out, nil
}
