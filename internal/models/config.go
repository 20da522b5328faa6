package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/finguru/finguru-service/internal/common"
)

// Config represents the service configuration (config.yaml)
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Logging       LoggingConfig       `yaml:"logging"`
	Policy        PolicyConfig        `yaml:"policy"`
	AI            AIConfig            `yaml:"ai"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Vision        VisionConfig        `yaml:"vision"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
}

// LoggingConfig controls the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// PolicyConfig points at the accounting policy document
type PolicyConfig struct {
	Path string `yaml:"path"` // Empty uses the built-in policy
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
	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "ollama"
}

// OpenAIConfig for OpenAI or compatible endpoints
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints (OpenRouter, Azure)
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
	Model   string `yaml:"model"`    // e.g., "llama3.1", "mistral"
}

// ReasoningConfig controls the primary reasoner
type ReasoningConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // Empty uses ai.default_provider
	Model     string        `yaml:"model"`    // Empty uses the provider model
	Timeout   time.Duration `yaml:"timeout"`  // Always bounded; defaults to 15s
	MaxTokens int           `yaml:"max_tokens"`
}

// VisionConfig controls receipt text extraction
type VisionConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	Preprocess  bool   `yaml:"preprocess"`    // Run ImageMagick before the vision call
	MaxUploadMB int    `yaml:"max_upload_mb"` // Default: 10
}

// TranscriptionConfig controls speech-to-text
type TranscriptionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Model    string `yaml:"model"`    // Default: "whisper-1"
	Language string `yaml:"language"` // ISO-639-1 hint, e.g. "hi"
}

// LedgerConfig selects the ledger store
type LedgerConfig struct {
	Driver string `yaml:"driver"` // postgres, sqlite or none
	DSN    string `yaml:"dsn"`
}

// StorageConfig for MinIO / S3 compatible object storage
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// AuthConfig controls JWT authentication
type AuthConfig struct {
	Required  bool          `yaml:"required"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"` // Default: 7 days
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = "openai"
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
		c.AI.Ollama.Model = "llama3.1"
	}
	if c.Reasoning.Timeout <= 0 {
		c.Reasoning.Timeout = 15 * time.Second
	}
	if c.Reasoning.MaxTokens <= 0 {
		c.Reasoning.MaxTokens = 500
	}
	if c.Vision.MaxUploadMB <= 0 {
		c.Vision.MaxUploadMB = 10
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "none"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "finguru-media"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
}

// ApplyEnv overrides values with environment variables if present
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Host = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("POLICY_PATH"); path != "" {
		c.Policy.Path = path
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
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		c.AI.DefaultProvider = provider
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Ledger.DSN = dsn
		if c.Ledger.Driver == "" || c.Ledger.Driver == "none" {
			c.Ledger.Driver = "postgres"
		}
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		c.Storage.Endpoint = endpoint
		c.Storage.Enabled = true
	}
	if key := os.Getenv("MINIO_ACCESS_KEY"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := os.Getenv("MINIO_SECRET_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if ssl := os.Getenv("MINIO_USE_SSL"); ssl != "" {
		c.Storage.UseSSL = strings.EqualFold(ssl, "true")
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}

// Validate checks cross-field consistency
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "postgres", "sqlite":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger.dsn is required for driver %q", common.ErrInvalidConfig, c.Ledger.Driver)
		}
	case "none":
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", common.ErrInvalidConfig, c.Ledger.Driver)
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret (or JWT_SECRET) is required when auth is required", common.ErrInvalidConfig)
	}
	if c.Auth.Required && c.Ledger.Driver == "none" {
		return fmt.Errorf("%w: auth requires a ledger store for user accounts", common.ErrInvalidConfig)
	}
	return nil
}

// ProviderFor returns the provider name for a component, falling back to the default
func (c *Config) ProviderFor(name string) string {
	if name != "" {
		return name
	}
	return c.AI.DefaultProvider
}
