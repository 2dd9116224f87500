// Package config provides configuration for the corpus core with multi-source
// priority:
//
//  1. Environment variables (CORPUS_ prefix, runtime override)
//  2. Config file (corpus.yaml in the working directory or /etc/corpus)
//  3. Defaults
//
// Categories:
//   - Storage: PostgreSQL connection (storage.go)
//   - Embedding: provider selection, model, dimension, request limits
//   - Retrieval: per-tier limits, trivial-query threshold, query timeout
//   - Indexing: queue depth
//
// Sensitive values (password, API keys) are masked in MarshalJSON and must
// never be logged.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid embedding provider")

	// ErrInvalidDimension indicates the embedding dimension does not match the schema.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is unknown.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidLimit indicates a retrieval limit is out of range.
	ErrInvalidLimit = errors.New("invalid retrieval limit")
)

// Embedding provider identifiers used in Config.EmbeddingProvider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// VectorDimension is the embedding dimension of the knowledge_search_index
// schema. gemini-embedding-001 emits 3072 dimensions by default and supports
// truncation to 768 via OutputDimensionality; the OpenAI path requests the
// same width so both providers stay schema-compatible.
const VectorDimension = 768

// Config stores the core's configuration.
type Config struct {
	// PostgreSQL connection.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// Embedding provider.
	EmbeddingProvider string        `mapstructure:"embedding_provider" json:"embedding_provider"` // "gemini" (default), "openai"
	EmbeddingModel    string        `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingBaseURL  string        `mapstructure:"embedding_base_url" json:"embedding_base_url"` // openai-compatible endpoint
	EmbeddingAPIKey   string        `mapstructure:"-" json:"-"`                                    // env only, never from file
	EmbeddingMaxChars int           `mapstructure:"embedding_max_chars" json:"embedding_max_chars"`
	EmbeddingTimeout  time.Duration `mapstructure:"embedding_timeout" json:"embedding_timeout"`
	EmbeddingRPS      float64       `mapstructure:"embedding_rps" json:"embedding_rps"`

	// Retrieval.
	PerTierLimit   int           `mapstructure:"per_tier_limit" json:"per_tier_limit"`
	MinQueryLength int           `mapstructure:"min_query_length" json:"min_query_length"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout" json:"query_timeout"`

	// Indexing.
	IndexQueueSize int `mapstructure:"index_queue_size" json:"index_queue_size"`
}

// Load reads configuration from file and environment.
//
// Search order for the optional config file: ./corpus.yaml, /etc/corpus/.
// Environment variables use the CORPUS_ prefix (CORPUS_POSTGRES_HOST, ...).
// DATABASE_URL, when set, overrides the individual postgres_* values.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("corpus")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/corpus")

	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Missing config file is fine; defaults plus env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}
	cfg.resolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "corpus")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "corpus")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("embedding_provider", ProviderGemini)
	v.SetDefault("embedding_model", "gemini-embedding-001")
	v.SetDefault("embedding_base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding_max_chars", 8000)
	v.SetDefault("embedding_timeout", 10*time.Second)
	v.SetDefault("embedding_rps", 5.0)

	v.SetDefault("per_tier_limit", 3)
	v.SetDefault("min_query_length", 3)
	v.SetDefault("query_timeout", 10*time.Second)

	v.SetDefault("index_queue_size", 256)
}

// resolveAPIKey picks the provider credential from the environment.
// Missing credentials are not an error here: the embedding client reports
// ErrUnavailable at call time and retrieval degrades to lexical search.
func (c *Config) resolveAPIKey() {
	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		c.EmbeddingAPIKey = os.Getenv("OPENAI_API_KEY")
	default:
		c.EmbeddingAPIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// MarshalJSON masks credentials so configs can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.EmbeddingAPIKey != "" {
		masked.EmbeddingAPIKey = "***"
	}
	return json.Marshal(masked)
}
