// internal/providers/provider.go

// Package providers defines the interfaces for the model services the pipeline
// depends on. Embedders turn text into vectors and Generators turn a grounded
// prompt into an answer; both are opaque and may fail or time out.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackend marks failures that originate in a model backend (network, HTTP
// status, malformed response). Callers degrade instead of surfacing them.
var ErrBackend = errors.New("backend failure")

// ErrNotConfigured is returned by placeholder services when no backend is available.
var ErrNotConfigured = errors.New("backend not configured")

// ChatMessage represents a single message in a chat conversation.
// It contains the role of the message sender (e.g., "user", "assistant") and the message content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries everything a Generator needs for one answer.
type CompletionRequest struct {
	SystemPrompt string
	History      []ChatMessage
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Messages flattens the request into the role-tagged list most chat APIs accept.
func (r CompletionRequest) Messages() []ChatMessage {
	messages := make([]ChatMessage, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: r.SystemPrompt})
	}
	messages = append(messages, r.History...)
	if r.UserPrompt != "" {
		messages = append(messages, ChatMessage{Role: "user", Content: r.UserPrompt})
	}
	return messages
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	// Model identifies the embedding model, for logs and index metadata.
	Model() string
}

// Generator produces an answer from a prompt.
type Generator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}

// BackendError wraps err so that errors.Is(err, ErrBackend) holds.
func BackendError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w: %w", provider, op, ErrBackend, err)
}

// Unavailable is an Embedder and Generator that always fails with ErrNotConfigured.
// It stands in when the factory reports a degraded initialization.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Embed(context.Context, string) ([]float64, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotConfigured, u.Reason)
}

func (u Unavailable) Complete(context.Context, CompletionRequest) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNotConfigured, u.Reason)
}

func (u Unavailable) Model() string { return "unavailable" }
