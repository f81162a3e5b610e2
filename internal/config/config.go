// ABOUTME: Configuration loading and parsing for mentor-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported model providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents the complete mentor-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// AuthConfig holds authentication configuration.
// API auth is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTPS on :443 with tailnet certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the external URL used in solution page links.
	// If not set, it's derived from http_addr.
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the hosted model used by every pipeline agent.
type LLMConfig struct {
	Provider           string `yaml:"provider"` // openai, gemini
	Endpoint           string `yaml:"endpoint"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	VisionModel        string `yaml:"vision_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	MaxRetries         int    `yaml:"max_retries"`

	Timeout      time.Duration `yaml:"-"`
	RetryBackoff time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw      string `yaml:"timeout"`
	RetryBackoffRaw string `yaml:"retry_backoff"`
}

// EmbeddingConfig selects the embedding model backing knowledge retrieval.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// KnowledgeConfig holds knowledge base settings
type KnowledgeConfig struct {
	// SeedFile is an optional TOML knowledge base loaded when the store is empty.
	SeedFile    string `yaml:"seed_file"`
	TopK        int    `yaml:"top_k"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

// PipelineConfig holds tutoring pipeline limits
type PipelineConfig struct {
	StepLimit int `yaml:"step_limit"`

	RunTimeout   time.Duration `yaml:"-"`
	DedupeWindow time.Duration `yaml:"-"`

	RunTimeoutRaw   string `yaml:"run_timeout"`
	DedupeWindowRaw string `yaml:"dedupe_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig enables the Model Context Protocol endpoint at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ExpandEnv replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func ExpandEnv(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields. API keys fall back to the provider's
// conventional environment variable so a key exported after the config file
// was written is still picked up.
func (c *Config) ApplyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultChatModel(c.LLM.Provider)
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.LLM.Model
	}
	if c.LLM.TranscriptionModel == "" && c.LLM.Provider == ProviderOpenAI {
		c.LLM.TranscriptionModel = "gpt-4o-transcribe"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = apiKeyFromEnv(c.LLM.Provider)
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryBackoff == 0 {
		c.LLM.RetryBackoff = time.Second
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = c.LLM.Provider
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel(c.Embedding.Provider)
	}
	if c.Embedding.APIKey == "" {
		if c.Embedding.Provider == c.LLM.Provider {
			c.Embedding.APIKey = c.LLM.APIKey
		} else {
			c.Embedding.APIKey = apiKeyFromEnv(c.Embedding.Provider)
		}
	}

	if c.Knowledge.TopK == 0 {
		c.Knowledge.TopK = 3
	}
	if c.Knowledge.BatchSize == 0 {
		c.Knowledge.BatchSize = 5
	}
	if c.Knowledge.Concurrency == 0 {
		c.Knowledge.Concurrency = 2
	}

	if c.Pipeline.StepLimit == 0 {
		c.Pipeline.StepLimit = 25
	}
	if c.Pipeline.RunTimeout == 0 {
		c.Pipeline.RunTimeout = 5 * time.Minute
	}
	if c.Pipeline.DedupeWindow == 0 {
		c.Pipeline.DedupeWindow = 2 * time.Minute
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func defaultChatModel(provider string) string {
	if provider == ProviderGemini {
		return "gemini-2.5-flash"
	}
	return "gpt-4o"
}

func defaultEmbeddingModel(provider string) string {
	if provider == ProviderGemini {
		return "gemini-embedding-001"
	}
	return "text-embedding-3-small"
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !validProvider(c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q is not supported (use openai or gemini)", c.LLM.Provider)
	}
	if !validProvider(c.Embedding.Provider) {
		return fmt.Errorf("embedding.provider %q is not supported (use openai or gemini)", c.Embedding.Provider)
	}

	if c.Knowledge.TopK < 1 {
		return fmt.Errorf("knowledge.top_k must be at least 1")
	}
	if c.Knowledge.BatchSize < 1 {
		return fmt.Errorf("knowledge.batch_size must be at least 1")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}

	return nil
}

func validProvider(name string) bool {
	return name == ProviderOpenAI || name == ProviderGemini
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"llm.retry_backoff", cfg.LLM.RetryBackoffRaw, &cfg.LLM.RetryBackoff},
		{"pipeline.run_timeout", cfg.Pipeline.RunTimeoutRaw, &cfg.Pipeline.RunTimeout},
		{"pipeline.dedupe_window", cfg.Pipeline.DedupeWindowRaw, &cfg.Pipeline.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
