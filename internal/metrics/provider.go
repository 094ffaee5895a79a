// internal/metrics/provider.go
package metrics

import (
	"context"
	"time"

	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
)

// Generator is a decorator that records every Complete call.
type Generator struct {
	wrapped    providers.Generator
	aggregator *Aggregator
}

// NewGenerator wraps g so its calls are recorded in aggregator.
func NewGenerator(g providers.Generator, aggregator *Aggregator) *Generator {
	logging.LogEvent("[METRICS] Wrapping generator %s with metrics", g.Model())
	return &Generator{wrapped: g, aggregator: aggregator}
}

// Complete times the wrapped call.
func (g *Generator) Complete(ctx context.Context, req providers.CompletionRequest) (string, error) {
	start := time.Now()
	out, err := g.wrapped.Complete(ctx, req)

	input := len(req.SystemPrompt) + len(req.UserPrompt)
	for _, m := range req.History {
		input += len(m.Content)
	}
	g.aggregator.Record(Call{
		Kind:        KindGenerator,
		Model:       g.wrapped.Model(),
		InputChars:  input,
		OutputChars: len(out),
		Latency:     time.Since(start),
		Err:         err,
	})
	return out, err
}

// Model passes the call through to the wrapped generator.
func (g *Generator) Model() string { return g.wrapped.Model() }

// Embedder is a decorator that records every Embed call.
type Embedder struct {
	wrapped    providers.Embedder
	aggregator *Aggregator
}

// NewEmbedder wraps e so its calls are recorded in aggregator.
func NewEmbedder(e providers.Embedder, aggregator *Aggregator) *Embedder {
	logging.LogEvent("[METRICS] Wrapping embedder %s with metrics", e.Model())
	return &Embedder{wrapped: e, aggregator: aggregator}
}

// Embed times the wrapped call. OutputChars records the vector dimension.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := e.wrapped.Embed(ctx, text)
	e.aggregator.Record(Call{
		Kind:        KindEmbedder,
		Model:       e.wrapped.Model(),
		InputChars:  len(text),
		OutputChars: len(vec),
		Latency:     time.Since(start),
		Err:         err,
	})
	return vec, err
}

// Model passes the call through to the wrapped embedder.
func (e *Embedder) Model() string { return e.wrapped.Model() }
