package config

import "fmt"

var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for values that would fail at runtime.
// Returns sentinel errors wrapped with detail so callers can errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini or openai)", ErrInvalidProvider, c.EmbeddingProvider)
	}
	if c.EmbeddingMaxChars < 1 {
		return fmt.Errorf("%w: embedding_max_chars must be positive, got %d", ErrInvalidDimension, c.EmbeddingMaxChars)
	}

	if c.PerTierLimit < 1 || c.PerTierLimit > 100 {
		return fmt.Errorf("%w: per_tier_limit %d out of range 1-100", ErrInvalidLimit, c.PerTierLimit)
	}
	if c.MinQueryLength < 0 {
		return fmt.Errorf("%w: min_query_length must not be negative, got %d", ErrInvalidLimit, c.MinQueryLength)
	}
	if c.IndexQueueSize < 1 {
		return fmt.Errorf("%w: index_queue_size must be positive, got %d", ErrInvalidLimit, c.IndexQueueSize)
	}

	return nil
}
