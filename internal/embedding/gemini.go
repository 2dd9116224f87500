package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/contentforge/corpus/internal/config"
)

// geminiClient embeds through the Gemini API with a fixed output
// dimensionality so vectors fit the pgvector column regardless of the
// model's native size.
type geminiClient struct {
	client   *genai.Client
	model    string
	maxChars int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func newGeminiClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*geminiClient, error) {
	if cfg.EmbeddingAPIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not configured", ErrUnavailable)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.EmbeddingAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing gemini client: %v", ErrUnavailable, err)
	}

	return &geminiClient{
		client:   client,
		model:    cfg.EmbeddingModel,
		maxChars: cfg.EmbeddingMaxChars,
		limiter:  newLimiter(cfg.EmbeddingRPS),
		logger:   logger,
	}, nil
}

func (c *geminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text, c.maxChars)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	dim := int32(config.VectorDimension)
	resp, err := c.client.Models.EmbedContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &dim},
	)
	if err != nil {
		// The SDK does not expose a stable error taxonomy; classify
		// every call failure as a provider error so indexing degrades
		// to lexical-only and retries later.
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProvider)
	}

	vec := resp.Embeddings[0].Values
	if err := checkDimension(vec); err != nil {
		return nil, err
	}

	c.logger.Debug("embedding generated", "provider", "gemini", "chars", len(text))
	return vec, nil
}
