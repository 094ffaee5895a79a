// internal/app/app.go
// Package app assembles the application components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/conversation"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/guardrails"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/metrics"
	"github.com/mwiater/ragguard/internal/pipeline"
	"github.com/mwiater/ragguard/internal/providerfactory"
	"github.com/mwiater/ragguard/internal/rag"
	"github.com/mwiater/ragguard/internal/server"
)

// File names under the data directory.
const (
	indexFile          = "index.db"
	conversationsFile  = "conversations.db"
	goldenFile         = "golden_dataset.json"
	historyFile        = "evaluation_history.json"
	backendMetricsFile = "backend_metrics.json"
)

// App holds every long-lived component. Close releases them.
type App struct {
	Config         appconfig.Config
	Backends       providerfactory.Backends
	BackendMetrics *metrics.Aggregator
	Index          rag.Index
	Indexer        *rag.Indexer
	Retriever      *rag.Retriever
	Guard          *guardrails.Filter
	Evaluator      *evaluation.Service
	Store          conversation.Store
	Pipeline       *pipeline.Pipeline

	history  *evaluation.History
	reconfMu sync.Mutex
}

// Build wires the components described by cfg. Backend problems do not fail
// Build; they are reported in Backends.Init and surface as failed queries.
func Build(cfg appconfig.Config) (a *App, err error) {
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.BackendMetrics = metrics.NewAggregator(cfg.DataPath(backendMetricsFile))
	a.Backends = providerfactory.New(&cfg, a.BackendMetrics)
	if a.Backends.Init.Status == providerfactory.StatusFailed {
		return a, &appconfig.ConfigurationError{Field: "backend.type", Reason: a.Backends.Init.Reason}
	}

	if a.Index, err = openIndex(cfg, a.Backends); err != nil {
		return a, err
	}
	if a.Indexer, err = rag.NewIndexer(a.Index, IndexerOptions(cfg)); err != nil {
		return a, err
	}
	if a.Retriever, err = rag.NewRetriever(a.Index, a.Backends.Embedder, RetrieverOptions(cfg)); err != nil {
		return a, err
	}

	policy, err := guardrails.PolicyFromConfig(cfg.Guardrails)
	if err != nil {
		return a, err
	}
	if a.Guard, err = guardrails.New(policy); err != nil {
		return a, err
	}

	golden, err := evaluation.LoadGoldenSet(pathOr(cfg.Evaluation.GoldenDatasetPath, cfg.DataPath(goldenFile)))
	if err != nil {
		return a, err
	}
	a.history = evaluation.NewHistory(pathOr(cfg.Evaluation.HistoryPath, cfg.DataPath(historyFile)))
	a.Evaluator, err = evaluation.New(evaluation.Options{
		Weights:   cfg.Evaluation.Weights,
		Strategy:  strings.ToLower(strings.TrimSpace(cfg.Evaluation.Strategy)),
		Generator: a.Backends.Generator,
		Golden:    golden,
		History:   a.history,
	})
	if err != nil {
		return a, err
	}

	if a.Store, err = conversation.Open(strings.ToLower(strings.TrimSpace(cfg.Conversation.Store)), cfg.DataPath(conversationsFile)); err != nil {
		return a, err
	}

	a.Pipeline, err = pipeline.New(a.Guard, a.Retriever, a.Backends.Generator, a.Evaluator, a.Store, Settings(cfg))
	if err != nil {
		return a, err
	}

	logging.LogEvent("[APP] backend=%s status=%s index=%s sessions=%s", a.Backends.Init.Backend, a.Backends.Init.Status, cfg.Rag.Store, cfg.Conversation.Store)
	return a, nil
}

// Reconfigure validates cfg and swaps it into every running component.
// Backend and store selection are fixed at Build; changing them is an error.
// The guardrails policy is swapped first since it is the only step that can
// still fail after validation, so a failed call leaves everything unchanged.
func (a *App) Reconfigure(cfg appconfig.Config) error {
	a.reconfMu.Lock()
	defer a.reconfMu.Unlock()
	if err := cfg.Validate(); err != nil {
		return err
	}
	for field, pair := range map[string][2]string{
		"backend.type":       {a.Config.Backend.Type, cfg.Backend.Type},
		"rag.store":          {a.Config.Rag.Store, cfg.Rag.Store},
		"conversation.store": {a.Config.Conversation.Store, cfg.Conversation.Store},
		"dataDir":            {a.Config.DataDir, cfg.DataDir},
	} {
		if !strings.EqualFold(strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])) {
			return &appconfig.ConfigurationError{Field: field, Reason: "cannot change while running"}
		}
	}
	policy, err := guardrails.PolicyFromConfig(cfg.Guardrails)
	if err != nil {
		return err
	}
	if err := a.Guard.Reconfigure(policy); err != nil {
		return err
	}
	if err := a.Indexer.Reconfigure(IndexerOptions(cfg)); err != nil {
		return err
	}
	if err := a.Retriever.Reconfigure(RetrieverOptions(cfg)); err != nil {
		return err
	}
	if err := a.Evaluator.Reconfigure(cfg.Evaluation.Weights); err != nil {
		return err
	}
	a.Pipeline.Reconfigure(Settings(cfg))
	a.Config = cfg
	logging.LogEvent("[APP] configuration reloaded")
	return nil
}

// IndexerOptions maps the config onto the indexer's chunking and corpus knobs.
func IndexerOptions(cfg appconfig.Config) rag.IndexerOptions {
	return rag.IndexerOptions{
		ChunkSize:         cfg.Rag.ChunkSize,
		ChunkOverlap:      cfg.Rag.ChunkOverlap,
		AllowedExtensions: cfg.Rag.AllowedExtensions,
		ExcludeGlobs:      cfg.Rag.ExcludeGlobs,
	}
}

// RetrieverOptions maps the config onto the retriever's search knobs.
func RetrieverOptions(cfg appconfig.Config) rag.RetrieverOptions {
	return rag.RetrieverOptions{
		TopK:              cfg.Rag.TopK,
		Threshold:         cfg.Rag.SimilarityThreshold,
		ContextTokenLimit: cfg.Rag.ContextTokenLimit,
	}
}

// Settings maps the config onto the pipeline's request-time knobs.
func Settings(cfg appconfig.Config) pipeline.Settings {
	return pipeline.Settings{
		SystemPrompt: cfg.Backend.SystemPrompt,
		Temperature:  cfg.Backend.Temperature,
		MaxTokens:    cfg.Backend.MaxTokens,
		HistoryTurns: cfg.Rag.HistoryTurns,
		Timeout:      cfg.RequestTimeout(),
	}
}

func openIndex(cfg appconfig.Config, b providerfactory.Backends) (rag.Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Rag.Store)) {
	case "", appconfig.StoreMemory:
		return rag.NewMemoryIndex(b.Embedder), nil
	case appconfig.StoreSQLite:
		return rag.OpenSQLiteIndex(cfg.DataPath(indexFile), b.Embedder)
	default:
		return nil, &appconfig.ConfigurationError{Field: "rag.store", Reason: "unknown store " + cfg.Rag.Store}
	}
}

func pathOr(path, fallback string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return fallback
}

// WarmIndex ingests the configured corpus when the index is empty and the
// corpus directory exists. It returns the number of chunks added.
func (a *App) WarmIndex(ctx context.Context) (int, error) {
	count, err := a.Index.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	root := strings.TrimSpace(a.Config.Rag.CorpusPath)
	if root == "" {
		return 0, nil
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		logging.LogEvent("[APP] corpus %q not found; starting with an empty index", root)
		return 0, nil
	}
	report, err := a.Indexer.IngestCorpus(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("indexing corpus %s: %w", root, err)
	}
	return report.Chunks, nil
}

// ServerDeps returns the handler dependencies for the HTTP API.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Pipeline:       a.Pipeline,
		Guard:          a.Guard,
		Evaluator:      a.Evaluator,
		Store:          a.Store,
		Index:          a.Index,
		Indexer:        a.Indexer,
		Backend:        a.Backends.Init,
		BackendMetrics: a.BackendMetrics,
	}
}

// Close flushes the metrics files and closes the stores.
func (a *App) Close() error {
	var errs []error
	if a.history != nil {
		a.history.Close()
		a.history = nil
	}
	if a.BackendMetrics != nil {
		a.BackendMetrics.Close()
		a.BackendMetrics = nil
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
		a.Store = nil
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
		a.Index = nil
	}
	return errors.Join(errs...)
}
