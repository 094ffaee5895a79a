package appconfig

import (
	"fmt"
	"io"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg *Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	if cfg == nil {
		fmt.Fprintln(out, "Configuration has not been loaded.")
		return
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Log File:        %s\n", cfg.LogFilePath())
	fmt.Fprintf(out, "  Request Timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Data Dir:        %s\n", cfg.DataPath(""))

	fmt.Fprintln(out, "\nBackend:")
	fmt.Fprintf(out, "  Type:            %s\n", cfg.Backend.Type)
	fmt.Fprintf(out, "  URL:             %s\n", cfg.Backend.URL)
	fmt.Fprintf(out, "  Chat Model:      %s\n", cfg.Backend.ChatModel)
	fmt.Fprintf(out, "  Embedding Model: %s\n", cfg.Backend.EmbeddingModel)
	fmt.Fprintf(out, "  Temperature:     %.2f\n", cfg.Backend.Temperature)
	fmt.Fprintf(out, "  Max Tokens:      %d\n", cfg.Backend.MaxTokens)

	fmt.Fprintln(out, "\nRetrieval:")
	fmt.Fprintf(out, "  Corpus Path:     %s\n", cfg.Rag.CorpusPath)
	fmt.Fprintf(out, "  Chunk Size:      %d\n", cfg.Rag.ChunkSize)
	fmt.Fprintf(out, "  Chunk Overlap:   %d\n", cfg.Rag.ChunkOverlap)
	fmt.Fprintf(out, "  Top K:           %d\n", cfg.Rag.TopK)
	fmt.Fprintf(out, "  Similarity:      %.2f\n", cfg.Rag.SimilarityThreshold)
	fmt.Fprintf(out, "  Context Limit:   %d tokens\n", cfg.Rag.ContextTokenLimit)
	fmt.Fprintf(out, "  History Turns:   %d\n", cfg.Rag.HistoryTurns)
	fmt.Fprintf(out, "  Index Store:     %s\n", cfg.Rag.Store)

	fmt.Fprintln(out, "\nGuardrails:")
	fmt.Fprintf(out, "  Enabled:         %v\n", cfg.Guardrails.Enabled)
	fmt.Fprintf(out, "  Strict Mode:     %v\n", cfg.Guardrails.StrictMode)
	fmt.Fprintf(out, "  Max Input:       %d characters\n", cfg.Guardrails.MaxInputLength)
	fmt.Fprintf(out, "  Profile:         %s\n", cfg.Guardrails.Profile)
	if cfg.Guardrails.PolicyPath != "" {
		fmt.Fprintf(out, "  Policy File:     %s\n", cfg.Guardrails.PolicyPath)
	}
	fmt.Fprintf(out, "  Filters:         injection=%v code=%v pii=%v profanity=%v\n",
		cfg.Guardrails.ContentFilters.PromptInjection,
		cfg.Guardrails.ContentFilters.CodeInjection,
		cfg.Guardrails.ContentFilters.PersonalData,
		cfg.Guardrails.ContentFilters.Profanity)

	w := cfg.Evaluation.Weights
	fmt.Fprintln(out, "\nEvaluation:")
	fmt.Fprintf(out, "  Strategy:        %s\n", cfg.Evaluation.Strategy)
	fmt.Fprintf(out, "  Weights:         relevance=%.2f accuracy=%.2f completeness=%.2f safety=%.2f context=%.2f\n",
		w.Relevance, w.Accuracy, w.Completeness, w.Safety, w.ContextUtilization)
	if cfg.Evaluation.GoldenDatasetPath != "" {
		fmt.Fprintf(out, "  Golden Dataset:  %s\n", cfg.Evaluation.GoldenDatasetPath)
	}

	fmt.Fprintln(out, "\nConversation:")
	fmt.Fprintf(out, "  Store:           %s\n", cfg.Conversation.Store)
	fmt.Fprintf(out, "  Listen:          %s\n", cfg.Server.Addr())
}
