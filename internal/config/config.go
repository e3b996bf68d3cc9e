// Package config handles Buddy configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/buddy/config.yaml, /etc/buddy/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "buddy", "config.yaml"))
	}

	paths = append(paths, "/etc/buddy/config.yaml")
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

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Provider   ProviderConfig   `yaml:"provider"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Memory     MemoryConfig     `yaml:"memory"`
	Agent      AgentConfig      `yaml:"agent"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ProviderConfig selects and configures the language model provider.
type ProviderConfig struct {
	Kind    string `yaml:"kind"`     // "ollama" or "anthropic"
	BaseURL string `yaml:"base_url"` // Ollama base URL
	APIKey  string `yaml:"api_key"`  // Anthropic API key; supports ${ENV} expansion
	Model   string `yaml:"model"`
}

// EmbeddingsConfig configures the embedding client used for vector search.
type EmbeddingsConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// RetrievalConfig configures the evidence gateway.
type RetrievalConfig struct {
	IndexPath      string `yaml:"index_path"` // SQLite document index
	TopK           int    `yaml:"top_k"`
	SearXNGURL     string `yaml:"searxng_url"`
	FetchPages     bool   `yaml:"fetch_pages"` // enrich web results with page text
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CheckpointConfig selects the thread checkpoint backend.
type CheckpointConfig struct {
	Backend  string `yaml:"backend"` // "sqlite", "redis", or "memory"
	Path     string `yaml:"path"`    // SQLite database path
	RedisURL string `yaml:"redis_url"`
	TTLHours int    `yaml:"ttl_hours"` // Redis key TTL; 0 = no expiry
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // "sqlite" or "postgres"
	Path        string `yaml:"path"`    // SQLite database path
	PostgresURL string `yaml:"postgres_url"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	LoopCeiling      int      `yaml:"loop_ceiling"`      // max rewrite cycles per turn
	ToolBudget       int      `yaml:"tool_budget"`       // max tool executions per turn
	ApprovalRequired []string `yaml:"approval_required"` // tool names gated on human approval
}

// Load reads and parses a config file, expanding ${ENV} references in
// string values and applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment references before parsing so secrets never
	// need to live in the file itself.
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = "ollama"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://localhost:11434"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "qwen3:8b"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Provider.BaseURL
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Retrieval.IndexPath == "" {
		c.Retrieval.IndexPath = "buddy-index.db"
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 2
	}
	if c.Retrieval.TimeoutSeconds <= 0 {
		c.Retrieval.TimeoutSeconds = 15
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "sqlite"
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "buddy-threads.db"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "buddy-memory.db"
	}
	if c.Agent.LoopCeiling <= 0 {
		c.Agent.LoopCeiling = 3
	}
	if c.Agent.ToolBudget <= 0 {
		c.Agent.ToolBudget = 16
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "ollama":
	case "anthropic":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for anthropic")
		}
	default:
		return fmt.Errorf("unknown provider.kind: %q", c.Provider.Kind)
	}

	switch c.Checkpoint.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Checkpoint.RedisURL == "" {
			return fmt.Errorf("checkpoint.redis_url is required for redis backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend: %q", c.Checkpoint.Backend)
	}

	switch c.Memory.Backend {
	case "sqlite":
	case "postgres":
		if c.Memory.PostgresURL == "" {
			return fmt.Errorf("memory.postgres_url is required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown memory.backend: %q", c.Memory.Backend)
	}

	return nil
}
