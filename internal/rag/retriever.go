package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/providers"
)

// RetrievalResult is what the pipeline needs from one search: the hits, the
// prompt context built from them, and timing for the trace.
type RetrievalResult struct {
	Hits           []RetrievalHit
	Context        string
	RetrievalMs    int
	ContextTokens  int
	SourceCoverage int
}

// RetrieverOptions are the search knobs a Retriever can swap at runtime.
type RetrieverOptions struct {
	TopK              int
	Threshold         float64
	ContextTokenLimit int
}

// Validate checks that TopK is positive and Threshold is within [0, 1].
func (o RetrieverOptions) Validate() error {
	if o.TopK <= 0 {
		return &appconfig.ConfigurationError{Field: "rag.topK", Reason: "must be greater than zero"}
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return &appconfig.ConfigurationError{Field: "rag.similarityThreshold", Reason: "must be within [0, 1]"}
	}
	if o.ContextTokenLimit < 0 {
		return &appconfig.ConfigurationError{Field: "rag.contextTokenLimit", Reason: "must be zero or greater"}
	}
	return nil
}

// Retriever embeds a query and searches an index.
type Retriever struct {
	index    Index
	embedder providers.Embedder
	opts     atomic.Pointer[RetrieverOptions]
}

// NewRetriever validates opts and returns a Retriever over index.
func NewRetriever(index Index, embedder providers.Embedder, opts RetrieverOptions) (*Retriever, error) {
	if index == nil || embedder == nil {
		return nil, fmt.Errorf("retriever needs an index and an embedder")
	}
	r := &Retriever{index: index, embedder: embedder}
	if err := r.Reconfigure(opts); err != nil {
		return nil, err
	}
	return r, nil
}

// Reconfigure installs opts. Searches already running keep the options they
// started with. On error the previous options stay active.
func (r *Retriever) Reconfigure(opts RetrieverOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	r.opts.Store(&opts)
	return nil
}

// Options returns the active options.
func (r *Retriever) Options() RetrieverOptions {
	if o := r.opts.Load(); o != nil {
		return *o
	}
	return RetrieverOptions{TopK: 5}
}

// Retrieve embeds query and returns the top hits above the threshold. An
// empty index or no hit above the threshold yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter map[string]string) (RetrievalResult, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return RetrievalResult{}, fmt.Errorf("query is empty")
	}
	if r.index == nil || r.embedder == nil {
		return RetrievalResult{}, fmt.Errorf("retriever is not configured")
	}
	opts := r.Options()

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return RetrievalResult{}, err
	}

	hits, err := r.index.Search(ctx, queryVec, SearchOptions{K: opts.TopK, Threshold: opts.Threshold, Filter: filter})
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("search index: %w", err)
	}

	block := BuildContext(hits, opts.ContextTokenLimit)
	return RetrievalResult{
		Hits:           hits,
		Context:        block.Text,
		RetrievalMs:    int(time.Since(start) / time.Millisecond),
		ContextTokens:  block.Tokens,
		SourceCoverage: block.Sources,
	}, nil
}
