// Package config handles AutoProfiler configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/autoprofiler/config.yaml,
// /etc/autoprofiler/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "autoprofiler", "config.yaml"))
	}

	paths = append(paths, "/etc/autoprofiler/config.yaml")
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

// Config holds all AutoProfiler configuration.
type Config struct {
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text or json
	DataDir    string                  `yaml:"data_dir"`
	Models     ModelsConfig            `yaml:"models"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	OpenAI     OpenAIConfig            `yaml:"openai"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Search     SearchConfig            `yaml:"search"`
	Agents     AgentsConfig            `yaml:"agents"`
	Store      StoreConfig             `yaml:"store"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Metrics    MetricsConfig           `yaml:"metrics"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
}

// ModelsConfig defines model routing.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`

	// MaxAttempts bounds each model call; exceeding it is fatal for the
	// session.
	MaxAttempts int `yaml:"max_attempts"`

	// OllamaNumCtx is the context window requested from Ollama, in
	// tokens. Zero keeps the server's default.
	OllamaNumCtx int `yaml:"ollama_num_ctx"`
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

// OpenAIConfig defines settings for any OpenAI-compatible chat endpoint
// (OpenAI itself, vLLM, FastChat, OpenRouter).
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the endpoint can be used.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" || c.BaseURL != "" }

// EmbeddingsConfig defines embedding generation for related-history lookup.
type EmbeddingsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"baseurl"` // defaults to models.ollama_url
	Concurrency int    `yaml:"concurrency"`
}

// SearchConfig selects and configures the web search backend.
type SearchConfig struct {
	Provider string        `yaml:"provider"` // brave or searxng
	Brave    BraveConfig   `yaml:"brave"`
	SearXNG  SearXNGConfig `yaml:"searxng"`
}

// BraveConfig holds the Brave Search API key.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// DefaultCycleInterval spaces THINK cycles when the config does not say
// otherwise.
const DefaultCycleInterval = 5 * time.Second

// AgentsConfig tunes the profiling loop.
type AgentsConfig struct {
	RetrieverMaxIters int           `yaml:"retriever_max_iters"`
	ChunkSize         int           `yaml:"chunk_size"`
	RelatedTopK       int           `yaml:"related_top_k"`
	CycleInterval     time.Duration `yaml:"cycle_interval"`
	MaxCycles         int           `yaml:"max_cycles"` // 0 = unlimited
	CountTokens       bool          `yaml:"count_tokens"`
}

// StoreConfig selects the SQLite database for run and usage records.
type StoreConfig struct {
	// Driver is "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go).
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// MQTTConfig enables the progress event bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// PricingEntry is the USD cost per million tokens for a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	// Preset values survive keys absent from the file; an explicit
	// cycle_interval: 0 still disables pacing.
	cfg := &Config{Agents: AgentsConfig{CycleInterval: DefaultCycleInterval}}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default: "qwen2.5:72b",
			Available: []ModelConfig{
				{Name: "qwen2.5:72b", Provider: "ollama"},
			},
		},
		Agents: AgentsConfig{CycleInterval: DefaultCycleInterval},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DataDir == "" {
		c.DataDir = "./dataset"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.MaxAttempts <= 0 {
		c.Models.MaxAttempts = 20
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Embeddings.Concurrency <= 0 {
		c.Embeddings.Concurrency = 4
	}
	if c.Search.Provider == "" {
		if c.Search.SearXNG.URL != "" {
			c.Search.Provider = "searxng"
		} else {
			c.Search.Provider = "brave"
		}
	}
	if c.Agents.RetrieverMaxIters <= 0 {
		c.Agents.RetrieverMaxIters = 20
	}
	if c.Agents.ChunkSize <= 0 {
		c.Agents.ChunkSize = 5
	}
	if c.Agents.RelatedTopK <= 0 {
		c.Agents.RelatedTopK = 5
	}
	if c.Agents.CycleInterval < 0 {
		c.Agents.CycleInterval = 0
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "autoprofiler.db")
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "autoprofiler"
	}
}

// Validate reports configuration errors that would only surface mid-session.
func (c *Config) Validate() error {
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	switch c.Store.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("store.driver %q is not supported (valid: sqlite3, sqlite)", c.Store.Driver)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat)
	}
	if c.Models.OllamaNumCtx < 0 {
		return fmt.Errorf("models.ollama_num_ctx must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
