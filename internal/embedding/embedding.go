// Package embedding generates vector embeddings for knowledge indexing and
// retrieval. Two providers are supported: Gemini through the genai SDK and
// any OpenAI-compatible embeddings endpoint over HTTP.
//
// Failures are classified so callers can degrade instead of failing: a
// document whose embedding call returns ErrUnavailable or ErrProvider is
// still stored and lexically searchable, and picks up its vector on the
// next indexing pass.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/contentforge/corpus/internal/config"
)

var (
	// ErrUnavailable means no usable provider is configured: missing
	// credential or an unknown provider name. Cleared by configuration,
	// not by retrying.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrProvider marks a failed provider call: transport error, non-2xx
	// status, malformed or mis-sized response. Usually transient.
	ErrProvider = errors.New("embedding provider error")

	// ErrEmptyInput is returned for input with no embeddable text.
	ErrEmptyInput = errors.New("empty embedding input")
)

// Client generates embeddings. Implementations are safe for concurrent use.
type Client interface {
	// Embed returns the embedding vector for text, truncated to the
	// configured input size before the provider call. The returned slice
	// always has config.VectorDimension elements.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the Client selected by cfg.EmbeddingProvider.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		return newGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return newOpenAIClient(cfg, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, cfg.EmbeddingProvider)
}

// newLimiter builds the provider rate limiter. rps <= 0 disables limiting.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// truncate cuts text to at most maxChars bytes without splitting a rune.
// Provider token limits make oversized inputs hard errors otherwise; the
// head of a document carries most of its retrieval signal.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// checkDimension validates the provider returned the expected vector size.
func checkDimension(vec []float32) error {
	if len(vec) != config.VectorDimension {
		return fmt.Errorf("%w: expected %d dimensions, got %d",
			ErrProvider, config.VectorDimension, len(vec))
	}
	return nil
}
