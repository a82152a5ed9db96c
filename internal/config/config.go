// Package config handles meAI backend configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/meai/config.yaml, /etc/meai/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "meai", "config.yaml"))
	}

	paths = append(paths, "/etc/meai/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all meAI backend configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Context    ContextConfig    `yaml:"context"`
	Summary    SummaryConfig    `yaml:"summary"`
	Agent      AgentConfig      `yaml:"agent"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8080
}

// LLMConfig selects and configures the generative model provider.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // "anthropic" or "ollama"
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaURL       string `yaml:"ollama_url"`
	TimeoutSec      int    `yaml:"timeout_sec"` // per model call (default 120)
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"` // "gemini" or "ollama"
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`    // Gemini API key
	OllamaURL string `yaml:"ollama_url"` // defaults to llm.ollama_url
}

// GatewayConfig defines the external tool-execution gateway.
type GatewayConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"` // per tool execution (default 60)
}

// ContextConfig tunes prompt context assembly.
type ContextConfig struct {
	WindowSize          int     `yaml:"window_size"`           // recent Human/AI messages (default 15)
	SemanticK           int     `yaml:"semantic_k"`            // semantic matches (default 5)
	MinSimilarity       float32 `yaml:"min_similarity"`        // cosine similarity cutoff (default 0.35)
	ClassifierWindow    int     `yaml:"classifier_window"`     // recent messages for intent classification (default 4)
	ClassifierSemanticK int     `yaml:"classifier_semantic_k"` // semantic matches for classification (default 3)
}

// SummaryConfig tunes rolling summarization.
type SummaryConfig struct {
	Interval   int `yaml:"interval"`    // regenerate every N persisted messages (default 1)
	MaxWords   int `yaml:"max_words"`   // summary word bound (default 175)
	TimeoutSec int `yaml:"timeout_sec"` // per summarization call (default 60)
}

// AgentConfig tunes the tool-orchestration loop.
type AgentConfig struct {
	MaxCycles int `yaml:"max_cycles"` // model/tool cycles per turn (default 5)
}

// Load reads and parses the config file at path, then applies defaults
// and validates. Validation failures are fatal at startup by design:
// a misconfigured provider must never surface at request time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = "http://localhost:11434"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "gemini"
	}
	if c.Embeddings.OllamaURL == "" {
		c.Embeddings.OllamaURL = c.LLM.OllamaURL
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = 60
	}
	if c.Context.WindowSize <= 0 {
		c.Context.WindowSize = 15
	}
	if c.Context.SemanticK <= 0 {
		c.Context.SemanticK = 5
	}
	if c.Context.MinSimilarity <= 0 {
		c.Context.MinSimilarity = 0.35
	}
	if c.Context.ClassifierWindow <= 0 {
		c.Context.ClassifierWindow = 4
	}
	if c.Context.ClassifierSemanticK <= 0 {
		c.Context.ClassifierSemanticK = 3
	}
	if c.Summary.Interval <= 0 {
		c.Summary.Interval = 1
	}
	if c.Summary.MaxWords <= 0 {
		c.Summary.MaxWords = 175
	}
	if c.Summary.TimeoutSec <= 0 {
		c.Summary.TimeoutSec = 60
	}
	if c.Agent.MaxCycles <= 0 {
		c.Agent.MaxCycles = 5
	}
}

// Validate checks configuration invariants that must hold before the
// server starts serving requests.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("llm: anthropic provider requires anthropic_api_key")
		}
	case "ollama":
		// Ollama needs no credentials.
	default:
		return fmt.Errorf("llm: unsupported provider %q (valid: anthropic, ollama)", c.LLM.Provider)
	}

	switch c.Embeddings.Provider {
	case "gemini":
		if c.Embeddings.APIKey == "" {
			return fmt.Errorf("embeddings: gemini provider requires api_key")
		}
	case "ollama":
	default:
		return fmt.Errorf("embeddings: unsupported provider %q (valid: gemini, ollama)", c.Embeddings.Provider)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm: model is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway: base_url is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ModelTimeout returns the per-model-call timeout as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool-execution timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSec) * time.Second
}

// SummaryTimeout returns the per-summarization-call timeout as a duration.
func (c *Config) SummaryTimeout() time.Duration {
	return time.Duration(c.Summary.TimeoutSec) * time.Second
}
