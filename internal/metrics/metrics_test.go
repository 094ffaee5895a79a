package metrics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mwiater/ragguard/internal/providers"
)

type stubGenerator struct{ err error }

func (s stubGenerator) Complete(_ context.Context, req providers.CompletionRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "answer", nil
}

func (stubGenerator) Model() string { return "stub-chat" }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float64, error) { return []float64{1, 2, 3}, nil }
func (stubEmbedder) Model() string                                    { return "stub-embed" }

func TestGeneratorRecordsCalls(t *testing.T) {
	agg := NewAggregator("")
	g := NewGenerator(stubGenerator{}, agg)
	if _, err := g.Complete(context.Background(), providers.CompletionRequest{SystemPrompt: "sys", UserPrompt: "hello"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	failing := NewGenerator(stubGenerator{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)}, agg)
	if _, err := failing.Complete(context.Background(), providers.CompletionRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected error to pass through, got %v", err)
	}

	snap := agg.Snapshot()
	if len(snap) != 1 || snap[0].Model != "stub-chat" || snap[0].Kind != KindGenerator {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	stats := snap[0].OverallStats
	if stats.TotalRequests != 2 || stats.Errors != 1 || stats.Timeouts != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.InputChars.Count != 1 || stats.InputChars.Mean != 8 || stats.OutputChars.Mean != 6 {
		t.Fatalf("unexpected size stats: %+v", stats)
	}
}

func TestEmbedderRecordsDimension(t *testing.T) {
	agg := NewAggregator("")
	e := NewEmbedder(stubEmbedder{}, agg)
	if _, err := e.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	snap := agg.Snapshot()
	if len(snap) != 1 || snap[0].Kind != KindEmbedder || snap[0].OverallStats.OutputChars.Mean != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestBuckets(t *testing.T) {
	agg := NewAggregator("")
	for _, n := range []int{10, 300, 5000, 10} {
		agg.Record(Call{Kind: KindGenerator, Model: "m", InputChars: n})
	}
	buckets := agg.Snapshot()[0].PerformanceBuckets
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %+v", buckets)
	}
	if buckets[0].Bucket != "0-256" || buckets[0].Stats.TotalRequests != 2 || buckets[2].Bucket != "4097-8192" {
		t.Fatalf("unexpected buckets: %+v", buckets)
	}
}

func TestAggregatorPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend_metrics.json")
	agg := NewAggregator(path)
	agg.Record(Call{Kind: KindEmbedder, Model: "m", InputChars: 4, OutputChars: 3})
	agg.Close()

	again := NewAggregator(path)
	defer again.Close()
	snap := again.Snapshot()
	if len(snap) != 1 || snap[0].OverallStats.TotalRequests != 1 {
		t.Fatalf("expected reloaded metrics, got %+v", snap)
	}
}
