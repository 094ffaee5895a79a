// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// EnvPrefix prefixes environment variables that override config keys (RAGGUARD_RAG_TOPK).
	EnvPrefix = "RAGGUARD"
	// defaultRequestTimeout bounds every Embedder and Generator call.
	defaultRequestTimeout = 30 * time.Second
	// weightTolerance is how far the evaluation weights may drift from 1.0.
	weightTolerance = 0.01
)

// Backend types understood by the provider factory.
const (
	BackendOllama   = "ollama"
	BackendOpenAI   = "openai"
	BackendLlamaCpp = "llamacpp"
	BackendNone     = "none"
)

// Store types for the vector index and the conversation store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config represents the top-level application configuration.
type Config struct {
	Debug          bool         `json:"debug" mapstructure:"debug"`
	LogFile        string       `json:"logFile,omitempty" mapstructure:"logFile"`
	TimeoutSeconds int          `json:"timeout,omitempty" mapstructure:"timeout"`
	DataDir        string       `json:"dataDir,omitempty" mapstructure:"dataDir"`
	Backend        Backend      `json:"backend" mapstructure:"backend"`
	Rag            Rag          `json:"rag" mapstructure:"rag"`
	Guardrails     Guardrails   `json:"guardrails" mapstructure:"guardrails"`
	Evaluation     Evaluation   `json:"evaluation" mapstructure:"evaluation"`
	Conversation   Conversation `json:"conversation" mapstructure:"conversation"`
	Server         Server       `json:"server" mapstructure:"server"`
	ConfigPath     string       `json:"-" mapstructure:"-"`
}

// Backend describes the model host that serves embeddings and completions.
type Backend struct {
	Type           string  `json:"type" mapstructure:"type"`
	URL            string  `json:"url" mapstructure:"url"`
	APIKeyEnv      string  `json:"apiKeyEnv,omitempty" mapstructure:"apiKeyEnv"`
	AzureAPIVer    string  `json:"azureApiVersion,omitempty" mapstructure:"azureApiVersion"`
	ChatModel      string  `json:"chatModel" mapstructure:"chatModel"`
	EmbeddingModel string  `json:"embeddingModel" mapstructure:"embeddingModel"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int     `json:"maxTokens" mapstructure:"maxTokens"`
	SystemPrompt   string  `json:"systemPrompt,omitempty" mapstructure:"systemPrompt"`
}

// Rag holds chunking, indexing, and retrieval settings.
type Rag struct {
	CorpusPath          string   `json:"corpusPath,omitempty" mapstructure:"corpusPath"`
	AllowedExtensions   []string `json:"allowedExtensions,omitempty" mapstructure:"allowedExtensions"`
	ExcludeGlobs        []string `json:"excludeGlobs,omitempty" mapstructure:"excludeGlobs"`
	ChunkSize           int      `json:"chunkSize" mapstructure:"chunkSize"`
	ChunkOverlap        int      `json:"chunkOverlap" mapstructure:"chunkOverlap"`
	TopK                int      `json:"topK" mapstructure:"topK"`
	SimilarityThreshold float64  `json:"similarityThreshold" mapstructure:"similarityThreshold"`
	ContextTokenLimit   int      `json:"contextTokenLimit" mapstructure:"contextTokenLimit"`
	HistoryTurns        int      `json:"historyTurns" mapstructure:"historyTurns"`
	Store               string   `json:"store" mapstructure:"store"`
}

// Guardrails configures the input and output filter.
type Guardrails struct {
	Enabled           bool           `json:"enabled" mapstructure:"enabled"`
	StrictMode        bool           `json:"strictMode" mapstructure:"strictMode"`
	MaxInputLength    int            `json:"maxInputLength" mapstructure:"maxInputLength"`
	MinKeywordMatches int            `json:"minKeywordMatches" mapstructure:"minKeywordMatches"`
	Profile           string         `json:"profile" mapstructure:"profile"`
	PolicyPath        string         `json:"policyPath,omitempty" mapstructure:"policyPath"`
	ContentFilters    ContentFilters `json:"contentFilters" mapstructure:"contentFilters"`
}

// ContentFilters toggles individual pattern categories.
type ContentFilters struct {
	PromptInjection bool `json:"promptInjection" mapstructure:"promptInjection"`
	CodeInjection   bool `json:"codeInjection" mapstructure:"codeInjection"`
	PersonalData    bool `json:"personalData" mapstructure:"personalData"`
	Profanity       bool `json:"profanity" mapstructure:"profanity"`
}

// Evaluation configures the response evaluator.
type Evaluation struct {
	Strategy          string  `json:"strategy" mapstructure:"strategy"`
	Weights           Weights `json:"weights" mapstructure:"weights"`
	GoldenDatasetPath string  `json:"goldenDatasetPath,omitempty" mapstructure:"goldenDatasetPath"`
	HistoryPath       string  `json:"historyPath,omitempty" mapstructure:"historyPath"`
}

// Weights are the per-dimension contributions to the overall evaluation score.
type Weights struct {
	Relevance          float64 `json:"relevance" mapstructure:"relevance"`
	Accuracy           float64 `json:"accuracy" mapstructure:"accuracy"`
	Completeness       float64 `json:"completeness" mapstructure:"completeness"`
	Safety             float64 `json:"safety" mapstructure:"safety"`
	ContextUtilization float64 `json:"contextUtilization" mapstructure:"contextUtilization"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Relevance + w.Accuracy + w.Completeness + w.Safety + w.ContextUtilization
}

// Conversation selects the session store.
type Conversation struct {
	Store string `json:"store" mapstructure:"store"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Addr returns host:port for http.Server.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConfigurationError reports a setting that makes startup impossible.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// RequestTimeout returns the timeout applied to backend calls, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "ragguard.log"
}

// DataPath joins name onto the configured data directory.
func (c Config) DataPath(name string) string {
	dir := strings.TrimSpace(c.DataDir)
	if dir == "" {
		dir = "data"
	}
	return filepath.Join(dir, name)
}

// APIKey resolves the backend API key from the environment.
func (b Backend) APIKey() string {
	name := strings.TrimSpace(b.APIKeyEnv)
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	return os.Getenv(name)
}

// ApplyDefaults registers every default on v so that unset keys, env
// overrides, and flags all resolve against the same key space.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("timeout", int(defaultRequestTimeout.Seconds()))
	v.SetDefault("logFile", "ragguard.log")
	v.SetDefault("dataDir", "data")

	v.SetDefault("backend.type", BackendOllama)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.apiKeyEnv", "OPENAI_API_KEY")
	v.SetDefault("backend.azureApiVersion", "")
	v.SetDefault("backend.chatModel", "llama3.2")
	v.SetDefault("backend.embeddingModel", "nomic-embed-text")
	v.SetDefault("backend.temperature", 0.3)
	v.SetDefault("backend.maxTokens", 1000)
	v.SetDefault("backend.systemPrompt", "")

	v.SetDefault("rag.corpusPath", "corpus")
	v.SetDefault("rag.allowedExtensions", []string{".md", ".txt"})
	v.SetDefault("rag.excludeGlobs", []string{})
	v.SetDefault("rag.chunkSize", 512)
	v.SetDefault("rag.chunkOverlap", 16)
	v.SetDefault("rag.topK", 5)
	v.SetDefault("rag.similarityThreshold", 0.7)
	v.SetDefault("rag.contextTokenLimit", 1500)
	v.SetDefault("rag.historyTurns", 6)
	v.SetDefault("rag.store", StoreMemory)

	v.SetDefault("guardrails.enabled", true)
	v.SetDefault("guardrails.strictMode", false)
	v.SetDefault("guardrails.maxInputLength", 2000)
	v.SetDefault("guardrails.minKeywordMatches", 2)
	v.SetDefault("guardrails.profile", "general")
	v.SetDefault("guardrails.policyPath", "")
	v.SetDefault("guardrails.contentFilters.promptInjection", true)
	v.SetDefault("guardrails.contentFilters.codeInjection", true)
	v.SetDefault("guardrails.contentFilters.personalData", true)
	v.SetDefault("guardrails.contentFilters.profanity", true)

	v.SetDefault("evaluation.strategy", "heuristic")
	v.SetDefault("evaluation.weights.relevance", 0.25)
	v.SetDefault("evaluation.weights.accuracy", 0.30)
	v.SetDefault("evaluation.weights.completeness", 0.20)
	v.SetDefault("evaluation.weights.safety", 0.15)
	v.SetDefault("evaluation.weights.contextUtilization", 0.10)
	v.SetDefault("evaluation.goldenDatasetPath", "")
	v.SetDefault("evaluation.historyPath", "")

	v.SetDefault("conversation.store", StoreMemory)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
}

// BindEnv makes RAGGUARD_* variables override file values.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads .env style files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Decode materializes a Config from v and validates it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the application configuration from the specified path. An
// explicit path must exist; the default path may be absent, in which case
// defaults and environment overrides apply.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	v := viper.New()
	ApplyDefaults(v)
	BindEnv(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound):
			if explicit {
				return Config{}, fmt.Errorf("no configuration file found at %q", path)
			}
		default:
			return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
		}
	}

	return Decode(v)
}

// Validate checks the settings that cannot be corrected at request time.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend.Type)) {
	case BackendOllama, BackendOpenAI, BackendLlamaCpp, BackendNone:
	default:
		return &ConfigurationError{Field: "backend.type", Reason: fmt.Sprintf("unsupported backend %q", c.Backend.Type)}
	}

	if c.Rag.ChunkSize <= 0 {
		return &ConfigurationError{Field: "rag.chunkSize", Reason: "must be greater than zero"}
	}
	if c.Rag.ChunkOverlap < 0 || c.Rag.ChunkOverlap >= c.Rag.ChunkSize {
		return &ConfigurationError{Field: "rag.chunkOverlap", Reason: "must be zero or greater and smaller than rag.chunkSize"}
	}
	if c.Rag.TopK <= 0 {
		return &ConfigurationError{Field: "rag.topK", Reason: "must be greater than zero"}
	}
	if c.Rag.SimilarityThreshold < 0 || c.Rag.SimilarityThreshold > 1 {
		return &ConfigurationError{Field: "rag.similarityThreshold", Reason: "must be within [0, 1]"}
	}
	if c.Rag.HistoryTurns < 0 {
		return &ConfigurationError{Field: "rag.historyTurns", Reason: "must be zero or greater"}
	}
	if err := validateStore("rag.store", c.Rag.Store); err != nil {
		return err
	}
	if err := validateStore("conversation.store", c.Conversation.Store); err != nil {
		return err
	}

	if c.Guardrails.MaxInputLength <= 0 {
		return &ConfigurationError{Field: "guardrails.maxInputLength", Reason: "must be greater than zero"}
	}
	switch strings.ToLower(strings.TrimSpace(c.Guardrails.Profile)) {
	case "", "general", "medical":
	default:
		return &ConfigurationError{Field: "guardrails.profile", Reason: fmt.Sprintf("unknown profile %q", c.Guardrails.Profile)}
	}

	switch strings.ToLower(strings.TrimSpace(c.Evaluation.Strategy)) {
	case "", "heuristic", "model":
	default:
		return &ConfigurationError{Field: "evaluation.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Evaluation.Strategy)}
	}
	return ValidateWeights(c.Evaluation.Weights)
}

// ValidateWeights enforces that every weight is within [0, 1] and that they sum to 1.0.
func ValidateWeights(w Weights) error {
	for name, val := range map[string]float64{
		"relevance":          w.Relevance,
		"accuracy":           w.Accuracy,
		"completeness":       w.Completeness,
		"safety":             w.Safety,
		"contextUtilization": w.ContextUtilization,
	} {
		if val < 0 || val > 1 {
			return &ConfigurationError{Field: "evaluation.weights." + name, Reason: "must be within [0, 1]"}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return &ConfigurationError{Field: "evaluation.weights", Reason: fmt.Sprintf("must sum to 1.0, got %.3f", sum)}
	}
	return nil
}

func validateStore(field, value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case StoreMemory, StoreSQLite:
		return nil
	default:
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("unsupported store %q", value)}
	}
}
