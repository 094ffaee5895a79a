// internal/providers/ollama/provider.go
// Package ollama provides a Generator and Embedder backed by Ollama-compatible HTTP endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
)

// DefaultBaseURL is used when backend.url is empty.
const DefaultBaseURL = "http://localhost:11434"

// Provider implements providers.Generator and providers.Embedder using Ollama HTTP APIs.
type Provider struct {
	client         *http.Client
	baseURL        string
	chatModel      string
	embeddingModel string
	timeout        time.Duration
}

// New constructs a Provider configured with the application's request timeout.
func New(cfg *appconfig.Config) *Provider {
	timeout := cfg.RequestTimeout()
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		baseURL:        baseURL,
		chatModel:      cfg.Backend.ChatModel,
		embeddingModel: cfg.Backend.EmbeddingModel,
		timeout:        timeout,
	}
}

// chatResponse is the non-streaming /api/chat reply.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done          bool  `json:"done"`
	TotalDuration int64 `json:"total_duration"`
	EvalCount     int   `json:"eval_count"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Model returns the chat model name.
func (p *Provider) Model() string { return p.chatModel }

// Embedder returns a view of p whose Model reports the embedding model.
func (p *Provider) Embedder() providers.Embedder { return embedder{p} }

type embedder struct{ p *Provider }

func (e embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.p.Embed(ctx, text)
}

func (e embedder) Model() string { return e.p.embeddingModel }

// Complete issues a non-streaming chat request and returns the assistant content.
func (p *Provider) Complete(ctx context.Context, req providers.CompletionRequest) (string, error) {
	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload := map[string]any{
		"model":    p.chatModel,
		"messages": req.Messages(),
		"options":  options,
		"stream":   false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	logging.LogRequest("RAGGUARD->LLM", p.hostIdentifier(), p.chatModel, body)

	respBody, err := p.post(ctx, "/api/chat", body)
	if err != nil {
		return "", providers.BackendError("ollama", "chat", err)
	}
	logging.LogRequest("LLM->RAGGUARD", p.hostIdentifier(), p.chatModel, respBody)

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", providers.BackendError("ollama", "chat", fmt.Errorf("parse response: %w", err))
	}
	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		return "", providers.BackendError("ollama", "chat", fmt.Errorf("empty response"))
	}
	return content, nil
}

// Embed requests an embedding vector from the configured embedding model.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(p.embeddingModel) == "" {
		return nil, fmt.Errorf("ollama: embedding model is empty")
	}
	body, err := json.Marshal(map[string]any{
		"model":  p.embeddingModel,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	logging.LogDebug("[RAGGUARD->EMBED] host=%s model=%s chars=%d", p.hostIdentifier(), p.embeddingModel, len(text))

	raw, err := p.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, providers.BackendError("ollama", "embeddings", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, providers.BackendError("ollama", "embeddings", fmt.Errorf("parse embedding response: %w", err))
	}
	if len(parsed.Embedding) == 0 {
		return nil, providers.BackendError("ollama", "embeddings", fmt.Errorf("embedding response returned empty vector"))
	}
	return parsed.Embedding, nil
}

// Ping checks that the host answers /api/tags.
func (p *Provider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return providers.BackendError("ollama", "ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providers.BackendError("ollama", "ping", fmt.Errorf("/api/tags returned %s", resp.Status))
	}
	return nil
}

func (p *Provider) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func (p *Provider) hostIdentifier() string {
	if u, err := url.Parse(p.baseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return p.baseURL
}
