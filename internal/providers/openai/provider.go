// Package openai provides a Generator and Embedder backed by the OpenAI (or Azure OpenAI) API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
)

// Provider implements providers.Generator and providers.Embedder with go-openai.
type Provider struct {
	client         *goopenai.Client
	chatModel      string
	embeddingModel string
	timeout        time.Duration
}

// New builds a Provider from the backend section of cfg. The API key comes
// from the environment variable named by backend.apiKeyEnv.
func New(cfg *appconfig.Config) (*Provider, error) {
	key := cfg.Backend.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%s environment variable not set", cfg.Backend.APIKeyEnv)
	}

	var clientCfg goopenai.ClientConfig
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	switch {
	case strings.Contains(baseURL, ".openai.azure.com"):
		clientCfg = goopenai.DefaultAzureConfig(key, baseURL)
		if v := strings.TrimSpace(cfg.Backend.AzureAPIVer); v != "" {
			clientCfg.APIVersion = v
		}
	default:
		clientCfg = goopenai.DefaultConfig(key)
		if baseURL != "" {
			clientCfg.BaseURL = baseURL
		}
	}

	return newWithConfig(clientCfg, cfg), nil
}

// NewCompatible builds a Provider for a local OpenAI-compatible server such
// as llama.cpp's llama-server. The API key is optional and "/v1" is appended
// to backend.url when missing.
func NewCompatible(cfg *appconfig.Config) *Provider {
	key := cfg.Backend.APIKey()
	if key == "" {
		key = "no-key"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	if baseURL == "" {
		baseURL = defaultCompatibleURL
	}
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	clientCfg := goopenai.DefaultConfig(key)
	clientCfg.BaseURL = baseURL
	return newWithConfig(clientCfg, cfg)
}

const defaultCompatibleURL = "http://localhost:8080"

func newWithConfig(clientCfg goopenai.ClientConfig, cfg *appconfig.Config) *Provider {
	return &Provider{
		client:         goopenai.NewClientWithConfig(clientCfg),
		chatModel:      cfg.Backend.ChatModel,
		embeddingModel: cfg.Backend.EmbeddingModel,
		timeout:        cfg.RequestTimeout(),
	}
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

// Complete sends a chat completion request and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req providers.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var messages []goopenai.ChatCompletionMessage
	for _, m := range req.Messages() {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: chatRole(m.Role), Content: m.Content})
	}
	request := goopenai.ChatCompletionRequest{
		Model:       p.chatModel,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	logging.LogRequest("RAGGUARD->LLM", "openai", p.chatModel, request)

	resp, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", providers.BackendError("openai", "chat", describe(err))
	}
	if len(resp.Choices) == 0 {
		return "", providers.BackendError("openai", "chat", errors.New("no choices returned"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	logging.LogRequest("LLM->RAGGUARD", "openai", p.chatModel, content)
	if content == "" {
		return "", providers.BackendError("openai", "chat", errors.New("empty response"))
	}
	return content, nil
}

// Embed generates an L2-normalized embedding for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if len(text) == 0 {
		return nil, errors.New("openai: cannot embed empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(p.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, providers.BackendError("openai", "embeddings", describe(err))
	}
	if len(resp.Data) == 0 {
		return nil, providers.BackendError("openai", "embeddings", errors.New("no embedding data returned from API"))
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, x := range raw {
		vec[i] = float64(x)
	}
	l2normalize(vec)
	return vec, nil
}

func chatRole(role string) string {
	switch strings.ToLower(role) {
	case "system":
		return goopenai.ChatMessageRoleSystem
	case "assistant":
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}

// describe keeps the HTTP status from API errors in the message.
func describe(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return err
}

func l2normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
}
