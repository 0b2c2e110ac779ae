// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docchat/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - OpenAI: API key, chat model, embedding model and dimension
//   - Storage: PostgreSQL connection for the pgvector fragment store
//   - Retrieval: top-K, similarity threshold, conversation history window
//   - Ingestion: documents directory, chunk size
//   - HTTP: listen address, CORS origins, rate limiting
//
// Security: sensitive values (API key, database password) are masked in
// MarshalJSON and String. Validation is fail-fast with sentinel errors that
// callers check via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the OpenAI API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModel indicates a model name is empty or malformed.
	ErrInvalidModel = errors.New("invalid model name")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunkSize indicates the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidThreshold indicates the similarity threshold is outside the
	// cosine similarity range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidHistoryWindow indicates the history window is negative.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidTemperature indicates the sampling temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the answer token budget is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max answer tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is unknown.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidDatabaseURL indicates DATABASE_URL could not be parsed.
	ErrInvalidDatabaseURL = errors.New("invalid DATABASE_URL")
)

// Defaults matching the hosted OpenAI models this service ships with.
const (
	// DefaultEmbeddingModel produces 1536-dimension vectors.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimension is the native output size of
	// text-embedding-3-small. The fragments table is provisioned with this
	// dimension; changing it requires re-ingesting every document.
	DefaultEmbeddingDimension = 1536

	// DefaultChatModel is the answer-generation model.
	DefaultChatModel = "gpt-4o-mini"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// OpenAI configuration
	OpenAIAPIKey    string  `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	ChatModel       string  `mapstructure:"chat_model" json:"chat_model"`
	EmbeddingModel  string  `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDim    int     `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
	MaxAnswerTokens int     `mapstructure:"max_answer_tokens" json:"max_answer_tokens"`

	// Retrieval configuration. Threshold and window are product knobs, not
	// constants: the right values depend on corpus shape.
	TopK                int     `mapstructure:"top_k" json:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	HistoryWindow       int     `mapstructure:"history_window" json:"history_window"`

	// Ingestion configuration
	DocumentsDir string `mapstructure:"documents_dir" json:"documents_dir"`
	ChunkSize    int    `mapstructure:"chunk_size" json:"chunk_size"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// External call budgets, in seconds (embed, search, generate).
	EmbedTimeoutSec    int `mapstructure:"embed_timeout_sec" json:"embed_timeout_sec"`
	SearchTimeoutSec   int `mapstructure:"search_timeout_sec" json:"search_timeout_sec"`
	GenerateTimeoutSec int `mapstructure:"generate_timeout_sec" json:"generate_timeout_sec"`

	// HTTP configuration
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Tracing configuration. An empty endpoint leaves trace export off.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* fields.
	if err := cfg.applyDatabaseURL(v.GetString("database_url")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// OpenAI defaults
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("embedding_model", DefaultEmbeddingModel)
	v.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_answer_tokens", 1000)

	// Retrieval defaults. The 0.25 threshold is deliberately low: the corpus
	// may store whole documents as single large fragments, which depresses
	// cosine scores of otherwise-relevant matches.
	v.SetDefault("top_k", 5)
	v.SetDefault("similarity_threshold", 0.25)
	v.SetDefault("history_window", 3)

	// Ingestion defaults
	v.SetDefault("documents_dir", "./documents")
	v.SetDefault("chunk_size", 512)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docchat")
	v.SetDefault("postgres_password", "docchat_dev_password")
	v.SetDefault("postgres_db_name", "docchat")
	v.SetDefault("postgres_ssl_mode", "disable")

	// External call budgets
	v.SetDefault("embed_timeout_sec", 15)
	v.SetDefault("search_timeout_sec", 10)
	v.SetDefault("generate_timeout_sec", 60)

	// HTTP defaults
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// Tracing defaults
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("database_url", "DATABASE_URL")
	mustBind("http_addr", "DOCCHAT_HTTP_ADDR")
	mustBind("cors_origins", "DOCCHAT_CORS_ORIGINS")
	mustBind("trust_proxy", "DOCCHAT_TRUST_PROXY")
	mustBind("rate_burst", "DOCCHAT_RATE_BURST")
	mustBind("chat_model", "DOCCHAT_CHAT_MODEL")
	mustBind("embedding_model", "DOCCHAT_EMBEDDING_MODEL")
	mustBind("documents_dir", "DOCCHAT_DOCUMENTS_DIR")
	mustBind("log_level", "DOCCHAT_LOG_LEVEL")
	mustBind("log_json", "DOCCHAT_LOG_JSON")
	mustBind("otlp_endpoint", "DOCCHAT_OTLP_ENDPOINT")
	mustBind("environment", "DOCCHAT_ENVIRONMENT")
}

// applyDatabaseURL parses a postgres:// URL into the individual fields.
// An empty rawURL leaves the configuration untouched.
func (c *Config) applyDatabaseURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDatabaseURL, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDatabaseURL, u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: bad port %q", ErrInvalidDatabaseURL, port)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}

	return nil
}

// DSN returns the PostgreSQL connection string for pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// EmbedTimeout returns the embedding call budget.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

// SearchTimeout returns the vector search call budget.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSec) * time.Second
}

// GenerateTimeout returns the answer generation call budget.
func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSec) * time.Second
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
