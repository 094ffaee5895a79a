// internal/providerfactory/factory_test.go
package providerfactory

import (
	"context"
	"errors"
	"testing"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/metrics"
	"github.com/mwiater/ragguard/internal/providers"
	"github.com/mwiater/ragguard/internal/providers/ollama"
	"github.com/mwiater/ragguard/internal/providers/openai"
)

func testConfig(backend string) *appconfig.Config {
	return &appconfig.Config{
		Backend: appconfig.Backend{
			Type:           backend,
			URL:            "http://localhost:11434",
			APIKeyEnv:      "RAGGUARD_TEST_API_KEY",
			ChatModel:      "chat-model",
			EmbeddingModel: "embed-model",
		},
	}
}

func TestNewFailsOnNilConfig(t *testing.T) {
	b := New(nil, nil)
	if b.Init.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", b.Init.Status)
	}
	if _, err := b.Generator.Complete(context.Background(), providers.CompletionRequest{}); !errors.Is(err, providers.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewOllama(t *testing.T) {
	b := New(testConfig("ollama"), nil)
	if b.Init.Status != StatusReady {
		t.Fatalf("expected ready, got %+v", b.Init)
	}
	if _, ok := b.Generator.(*ollama.Provider); !ok {
		t.Fatalf("expected ollama.Provider, got %T", b.Generator)
	}
	if b.Embedder.Model() != "embed-model" {
		t.Fatalf("expected embedding model, got %s", b.Embedder.Model())
	}
}

func TestNewOpenAIWithoutKeyIsDegraded(t *testing.T) {
	t.Setenv("RAGGUARD_TEST_API_KEY", "")
	b := New(testConfig("openai"), nil)
	if b.Init.Status != StatusDegraded || b.Init.Reason == "" {
		t.Fatalf("expected degraded with reason, got %+v", b.Init)
	}
	if _, err := b.Embedder.Embed(context.Background(), "x"); !errors.Is(err, providers.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewOpenAIWithKey(t *testing.T) {
	t.Setenv("RAGGUARD_TEST_API_KEY", "sk-test")
	b := New(testConfig("openai"), nil)
	if b.Init.Status != StatusReady {
		t.Fatalf("expected ready, got %+v", b.Init)
	}
	if _, ok := b.Generator.(*openai.Provider); !ok {
		t.Fatalf("expected openai.Provider, got %T", b.Generator)
	}
}

func TestNewNoneAndUnsupported(t *testing.T) {
	if b := New(testConfig("none"), nil); b.Init.Status != StatusDegraded {
		t.Fatalf("expected degraded for none, got %+v", b.Init)
	}
	if b := New(testConfig("vllm"), nil); b.Init.Status != StatusFailed {
		t.Fatalf("expected failed for unsupported backend, got %+v", b.Init)
	}
}

func TestNewWrapsWithMetrics(t *testing.T) {
	b := New(testConfig("ollama"), metrics.NewAggregator(""))
	if _, ok := b.Generator.(*metrics.Generator); !ok {
		t.Fatalf("expected metrics.Generator, got %T", b.Generator)
	}
	if _, ok := b.Embedder.(*metrics.Embedder); !ok {
		t.Fatalf("expected metrics.Embedder, got %T", b.Embedder)
	}
	if b.Generator.Model() != "chat-model" {
		t.Fatalf("expected wrapped model name, got %s", b.Generator.Model())
	}
}

func TestNewLlamaCppNeedsNoKey(t *testing.T) {
	t.Setenv("RAGGUARD_TEST_API_KEY", "")
	cfg := testConfig(appconfig.BackendLlamaCpp)
	cfg.Backend.URL = "http://localhost:8081"
	b := New(cfg, nil)
	if b.Init.Status != StatusReady || b.Init.Backend != appconfig.BackendLlamaCpp {
		t.Fatalf("expected ready llamacpp backend, got %+v", b.Init)
	}
	if _, ok := b.Generator.(*openai.Provider); !ok {
		t.Fatalf("expected openai.Provider, got %T", b.Generator)
	}
}
