// Package config handles Charmbot configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/charmbot/internal/email"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/charmbot/config.yaml, /etc/charmbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "charmbot", "config.yaml"))
	}

	paths = append(paths, "/etc/charmbot/config.yaml")
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

// Config holds all Charmbot configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Orders     OrdersConfig     `yaml:"orders"`
	Email      email.Config     `yaml:"email"`
	Agent      AgentConfig      `yaml:"agent"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	API        APIConfig        `yaml:"api"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig defines settings for any OpenAI-compatible endpoint.
// Point BaseURL at https://api.groq.com/openai/v1 to use Groq.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// OrdersConfig selects the order store backend.
type OrdersConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. Defaults to data_dir/orders.db.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string, used when driver is postgres.
	DSN string `yaml:"dsn"`
}

// AgentConfig tunes the agent control loop.
type AgentConfig struct {
	// MaxIterations bounds reasoning steps per customer turn.
	MaxIterations int `yaml:"max_iterations"`
	// CallTimeout bounds every completion, retrieval, and tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// HistoryTurns is how many earlier customer turns, with their
	// replies, are shown to the model.
	HistoryTurns int `yaml:"history_turns"`
	// RequireRetrieval makes a retrieval failure fatal to the turn
	// instead of continuing with an empty passage.
	RequireRetrieval bool `yaml:"require_retrieval"`
	// FallbackReply overrides the apology sent when a turn cannot finish.
	FallbackReply string `yaml:"fallback_reply"`
	// PolicyFile optionally replaces the built-in system policy text.
	PolicyFile string `yaml:"policy_file"`
}

// KnowledgeConfig defines the rulebook index.
type KnowledgeConfig struct {
	// Rulebook is the document ingested by "charmbot ingest" when no
	// path argument is given (.md, .txt, or .pdf).
	Rulebook string `yaml:"rulebook"`
	// IndexPath is the SQLite vector index. Defaults to data_dir/knowledge.db.
	IndexPath    string `yaml:"index_path"`
	ChunkSize    int    `yaml:"chunk_size"`    // tokens per chunk
	ChunkOverlap int    `yaml:"chunk_overlap"` // tokens shared between neighbors; -1 for none
}

// APIConfig defines HTTP surface limits.
type APIConfig struct {
	// RatePerSecond limits chat requests per client IP. Zero disables.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// AllowedOrigins lists CORS origins for a browser chat UI.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SessionIdle discards conversations unused for this long.
	SessionIdle time.Duration `yaml:"session_idle"`
}

// Load reads configuration from a YAML file. A .env file in the same
// directory, if present, is loaded into the process environment first so
// that ${VAR} references in the YAML can resolve secrets kept out of it.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for a local Ollama install.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Models.Default == "" {
		c.Models.Default = "llama3.2"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Orders.Driver == "" {
		c.Orders.Driver = "sqlite"
	}
	if c.Orders.Driver == "sqlite" && c.Orders.Path == "" {
		c.Orders.Path = filepath.Join(c.DataDir, "orders.db")
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 100
	}
	if c.Agent.CallTimeout == 0 {
		c.Agent.CallTimeout = 60 * time.Second
	}
	if c.Agent.HistoryTurns == 0 {
		c.Agent.HistoryTurns = 20
	}
	if c.Knowledge.IndexPath == "" {
		c.Knowledge.IndexPath = filepath.Join(c.DataDir, "knowledge.db")
	}
	if c.Knowledge.ChunkSize == 0 {
		c.Knowledge.ChunkSize = 150
	}
	if c.Knowledge.ChunkOverlap == 0 {
		c.Knowledge.ChunkOverlap = 30
	}
	if c.API.RatePerSecond > 0 && c.API.Burst == 0 {
		c.API.Burst = 5
	}
	if c.API.SessionIdle == 0 {
		c.API.SessionIdle = 30 * time.Minute
	}
	c.Email.ApplyDefaults()
}

// Validate checks that the configuration is internally consistent.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port))
	}

	switch c.Orders.Driver {
	case "sqlite":
	case "postgres":
		if c.Orders.DSN == "" {
			errs = append(errs, errors.New("orders.dsn is required when orders.driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("orders.driver %q must be sqlite or postgres", c.Orders.Driver))
	}

	for i, m := range c.Models.Available {
		switch m.Provider {
		case "ollama":
		case "anthropic":
			if !c.Anthropic.Configured() {
				errs = append(errs, fmt.Errorf("models.available[%d] (%s) uses anthropic but anthropic.api_key is empty", i, m.Name))
			}
		case "openai":
			if !c.OpenAI.Configured() {
				errs = append(errs, fmt.Errorf("models.available[%d] (%s) uses openai but openai.api_key is empty", i, m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("models.available[%d] (%s): unknown provider %q", i, m.Name, m.Provider))
		}
	}

	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations %d must be positive", c.Agent.MaxIterations))
	}
	if c.Agent.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.call_timeout %s must not be negative", c.Agent.CallTimeout))
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		errs = append(errs, fmt.Errorf("knowledge.chunk_overlap %d must be smaller than chunk_size %d",
			c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize))
	}
	if err := c.Email.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ProviderFor returns the provider configured for a model name, or
// "ollama" when the model is not listed.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if strings.EqualFold(m.Name, model) {
			return m.Provider
		}
	}
	return "ollama"
}
