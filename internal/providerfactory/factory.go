// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"
	"strings"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/metrics"
	"github.com/mwiater/ragguard/internal/providers"
	"github.com/mwiater/ragguard/internal/providers/ollama"
	"github.com/mwiater/ragguard/internal/providers/openai"
)

// Status is the outcome of backend initialization.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// InitResult reports how initialization went. Callers branch on Status
// instead of handling errors: a degraded result still carries usable
// (failing) services so the pipeline can answer with fixed messages.
type InitResult struct {
	Status  Status `json:"status"`
	Backend string `json:"backend"`
	Reason  string `json:"reason,omitempty"`
}

// Backends are the model services the rest of the application uses.
type Backends struct {
	Generator providers.Generator
	Embedder  providers.Embedder
	Init      InitResult
}

// New selects and configures the backend named by cfg.Backend.Type and wraps
// it with metrics collection when aggregator is not nil.
func New(cfg *appconfig.Config, aggregator *metrics.Aggregator) Backends {
	if cfg == nil {
		return unavailable(InitResult{Status: StatusFailed, Reason: "nil config provided to provider factory"})
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Backend.Type))
	var b Backends
	switch kind {
	case appconfig.BackendOllama:
		p := ollama.New(cfg)
		b = Backends{Generator: p, Embedder: p.Embedder(), Init: InitResult{Status: StatusReady, Backend: kind}}
	case appconfig.BackendOpenAI:
		p, err := openai.New(cfg)
		if err != nil {
			logging.LogEvent("OpenAI backend unavailable: %v", err)
			return unavailable(InitResult{Status: StatusDegraded, Backend: kind, Reason: err.Error()})
		}
		b = Backends{Generator: p, Embedder: p.Embedder(), Init: InitResult{Status: StatusReady, Backend: kind}}
	case appconfig.BackendLlamaCpp:
		p := openai.NewCompatible(cfg)
		b = Backends{Generator: p, Embedder: p.Embedder(), Init: InitResult{Status: StatusReady, Backend: kind}}
	case appconfig.BackendNone:
		return unavailable(InitResult{Status: StatusDegraded, Backend: kind, Reason: "no backend configured"})
	default:
		return unavailable(InitResult{Status: StatusFailed, Backend: kind, Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend.Type)})
	}

	if aggregator != nil {
		b.Generator = metrics.NewGenerator(b.Generator, aggregator)
		b.Embedder = metrics.NewEmbedder(b.Embedder, aggregator)
	}
	logging.LogEvent("%s backend ready: chat=%s embeddings=%s", kind, b.Generator.Model(), b.Embedder.Model())
	return b
}

func unavailable(res InitResult) Backends {
	u := providers.Unavailable{Reason: res.Reason}
	return Backends{Generator: u, Embedder: u, Init: res}
}
