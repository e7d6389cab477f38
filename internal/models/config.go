package models

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// Extraction pipeline defaults
	Extraction ExtractionConfig `yaml:"extraction"`

	// Fallback spend limits and pricing
	Cost CostConfig `yaml:"cost"`

	// AI config
	AI AIConfig `yaml:"ai"`

	// JWT auth
	Auth AuthConfig `yaml:"auth"`

	// Source document archive (MinIO)
	Storage StorageConfig `yaml:"storage"`

	// Batch processing
	Batch BatchConfig `yaml:"batch"`

	// Optional YAML file of custom rule definitions
	RulesFile string `yaml:"rules_file"`
}

// ExtractionConfig holds orchestrator defaults
type ExtractionConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // Default: 0.6
	FallbackEnabled     *bool   `yaml:"fallback_enabled"`     // Default: true
	MergeCap            int     `yaml:"merge_cap"`            // Default: 3
	KeepNonGapFallback  bool    `yaml:"keep_non_gap_fallback"`
	MaxInputTokens      int     `yaml:"max_input_tokens"` // Default: 3000
	DateLayout          string  `yaml:"date_layout"`      // Default: "1/2/2006"
}

// FallbackOn reports the configured fallback default
func (c ExtractionConfig) FallbackOn() bool {
	return c.FallbackEnabled == nil || *c.FallbackEnabled
}

// CostConfig holds fallback spend limits
type CostConfig struct {
	PerRequestCap float64              `yaml:"per_request_cap"` // Default: 0.05 USD
	DailyCap      float64              `yaml:"daily_cap"`       // 0 disables the daily cap
	Timezone      string               `yaml:"timezone"`        // Default: "UTC"
	Pricing       map[string]PriceFile `yaml:"pricing,omitempty"`
}

// PriceFile is a per-model price override, USD per 1K tokens
type PriceFile struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Location resolves the configured time zone
func (c CostConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local)
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider
	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "ollama", "none"

	// Provider call timeout
	Timeout time.Duration `yaml:"timeout"` // Default: 60s
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "mistral", "llama3.2"
}

// AuthConfig controls JWT authentication of the API
type AuthConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Secret   string         `yaml:"secret"`
	TokenTTL time.Duration  `yaml:"token_ttl"` // Default: 24h
	Clients  []ClientConfig `yaml:"clients"`
}

// ClientConfig is an API client allowed to request tokens
type ClientConfig struct {
	ID      string `yaml:"id"`
	KeyHash string `yaml:"key_hash"` // bcrypt hash of the client's API key
}

// StorageConfig for the MinIO document archive
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BatchConfig bounds batch processing
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"` // Default: 4
}

// LoadConfig reads a YAML config file, applies defaults and environment overrides.
// A missing file is not an error: defaults and environment provide everything.
func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Extraction.ConfidenceThreshold == 0 {
		c.Extraction.ConfidenceThreshold = 0.6
	}
	if c.Extraction.MergeCap == 0 {
		c.Extraction.MergeCap = 3
	}
	if c.Extraction.MaxInputTokens == 0 {
		c.Extraction.MaxInputTokens = 3000
	}
	if c.Extraction.DateLayout == "" {
		c.Extraction.DateLayout = "1/2/2006"
	}
	if c.Cost.PerRequestCap == 0 {
		c.Cost.PerRequestCap = 0.05
	}
	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = "ollama"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-4o-mini"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.AI.Ollama.BaseURL == "" {
		c.AI.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.AI.Ollama.Model == "" {
		c.AI.Ollama.Model = "llama3.2"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Storage.Endpoint == "" {
		c.Storage.Endpoint = "minio:9000"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "documents"
	}
	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = 4
	}
}

// Override with environment variables if present
func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Host = host
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.AI.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		c.AI.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		c.AI.Gemini.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		c.AI.Ollama.BaseURL = baseURL
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.AI.Ollama.Model = model
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		c.AI.DefaultProvider = provider
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.Secret = secret
	}
	if v := os.Getenv("DAILY_COST_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cost.DailyCap = f
		}
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		c.Storage.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		c.Storage.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		c.Storage.SecretKey = secretKey
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if os.Getenv("MINIO_USE_SSL") == "true" {
		c.Storage.UseSSL = true
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if t := c.Extraction.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("extraction.confidence_threshold must be in [0,1], got %v", t)
	}
	if c.Extraction.MergeCap < 1 {
		return fmt.Errorf("extraction.merge_cap must be positive, got %d", c.Extraction.MergeCap)
	}
	if c.Cost.PerRequestCap < 0 || c.Cost.DailyCap < 0 {
		return fmt.Errorf("cost caps must not be negative")
	}
	if _, err := c.Cost.Location(); err != nil {
		return fmt.Errorf("invalid cost.timezone: %w", err)
	}
	switch c.AI.DefaultProvider {
	case "openai", "gemini", "ollama", "none":
	default:
		return fmt.Errorf("unknown ai.default_provider %q", c.AI.DefaultProvider)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret required when auth is enabled")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	return nil
}
