package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/schema"
)

// GoldenExample is a curated query with its expected answer. A query that
// mentions at least half of ContextKeywords borrows ExpectedResponse as its
// reference.
type GoldenExample struct {
	Query            string            `json:"query"`
	ExpectedResponse string            `json:"expected_response"`
	Category         string            `json:"category"`
	Difficulty       string            `json:"difficulty"`
	ContextKeywords  []string          `json:"context_keywords"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

var goldenExampleSchema = schema.Object(map[string]any{
	"query":             schema.String(1),
	"expected_response": schema.String(1),
	"category":          schema.String(1),
	"difficulty":        map[string]any{"type": "string", "enum": []string{"easy", "medium", "hard"}},
	"context_keywords":  map[string]any{"type": "array", "minItems": 1, "items": schema.String(1)},
	"metadata":          map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
}, "query", "expected_response", "category", "difficulty", "context_keywords")

// GoldenExampleSchema is the JSON Schema for one golden example.
func GoldenExampleSchema() map[string]any { return goldenExampleSchema }

var goldenDatasetSchema = map[string]any{
	"type":  "array",
	"items": goldenExampleSchema,
}

var defaultGoldenExamples = []GoldenExample{
	{
		Query:            "How do I fix 401 authentication errors?",
		ExpectedResponse: "For 401 authentication errors, check these steps: 1. Verify your bearer token is not expired, 2. Ensure the token format is correct: 'Bearer <token>', 3. Check that the token has required scopes, 4. If issues persist, regenerate your token",
		Category:         "authentication",
		Difficulty:       "easy",
		ContextKeywords:  []string{"401", "authentication", "bearer token", "unauthorized"},
	},
	{
		Query:            "How to handle rate limiting in API calls?",
		ExpectedResponse: "For 429 Rate Limit Exceeded errors: 1. Implement exponential backoff in retry logic, 2. Reduce request frequency, 3. Consider caching responses, 4. Contact support for higher rate limits if needed",
		Category:         "troubleshooting",
		Difficulty:       "medium",
		ContextKeywords:  []string{"rate limit", "429", "backoff", "retry", "frequency"},
	},
	{
		Query:            "How do I troubleshoot 500 internal server errors?",
		ExpectedResponse: "For 500 Internal Server Error: 1. Retry request after delay, 2. Check API status page, 3. Contact technical support, 4. Check if it's a temporary server issue",
		Category:         "troubleshooting",
		Difficulty:       "hard",
		ContextKeywords:  []string{"500", "internal server error", "retry", "status", "support"},
	},
	{
		Query:            "What's the difference between 404 and 403 errors?",
		ExpectedResponse: "404 Not Found means the resource doesn't exist or can't be found. 403 Forbidden means the resource exists but you don't have permission to access it. Check resource ID for 404, check permissions for 403.",
		Category:         "troubleshooting",
		Difficulty:       "medium",
		ContextKeywords:  []string{"404", "403", "not found", "forbidden", "permissions"},
	},
}

// GoldenSet is a thread-safe golden dataset backed by an optional JSON file.
type GoldenSet struct {
	mu       sync.RWMutex
	path     string
	examples []GoldenExample
}

// NewGoldenSet returns an in-memory set holding examples.
func NewGoldenSet(examples []GoldenExample) *GoldenSet {
	return &GoldenSet{examples: append([]GoldenExample(nil), examples...)}
}

// LoadGoldenSet reads and validates the dataset at path. A missing file is
// seeded with the built-in examples and written back.
func LoadGoldenSet(path string) (*GoldenSet, error) {
	g := &GoldenSet{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		g.examples = append([]GoldenExample(nil), defaultGoldenExamples...)
		if err := g.save(); err != nil {
			return nil, err
		}
		logging.LogEvent("[EVAL] seeded golden dataset at %s with %d examples", path, len(g.examples))
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading golden dataset: %w", err)
	}
	if err := schema.Validate(goldenDatasetSchema, data); err != nil {
		return nil, fmt.Errorf("golden dataset %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &g.examples); err != nil {
		return nil, fmt.Errorf("parsing golden dataset: %w", err)
	}
	return g, nil
}

// Examples returns a copy of the dataset.
func (g *GoldenSet) Examples() []GoldenExample {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]GoldenExample(nil), g.examples...)
}

// Add validates example, appends it, and persists the set when file backed.
func (g *GoldenSet) Add(example GoldenExample) error {
	data, err := json.Marshal(example)
	if err != nil {
		return err
	}
	if err := schema.Validate(goldenExampleSchema, data); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.examples = append(g.examples, example)
	return g.save()
}

// FindReference returns the expected response of the first example whose
// context keywords are at least half present in query.
func (g *GoldenSet) FindReference(query string) (string, bool) {
	lower := strings.ToLower(query)
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ex := range g.examples {
		if len(ex.ContextKeywords) == 0 {
			continue
		}
		matches := 0
		for _, kw := range ex.ContextKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matches++
			}
		}
		if float64(matches) >= float64(len(ex.ContextKeywords))*0.5 {
			return ex.ExpectedResponse, true
		}
	}
	return "", false
}

// save writes the dataset. Callers hold mu or own g exclusively.
func (g *GoldenSet) save() error {
	if g.path == "" {
		return nil
	}
	if dir := filepath.Dir(g.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating golden dataset directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(g.examples, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(g.path, data, 0o644); err != nil {
		return fmt.Errorf("writing golden dataset: %w", err)
	}
	return nil
}
