package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/contentforge/corpus/internal/config"
)

// openaiClient embeds through any OpenAI-compatible /embeddings endpoint.
type openaiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxChars   int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func newOpenAIClient(cfg *config.Config, logger *slog.Logger) *openaiClient {
	return &openaiClient{
		httpClient: &http.Client{Timeout: cfg.EmbeddingTimeout},
		baseURL:    strings.TrimRight(cfg.EmbeddingBaseURL, "/"),
		apiKey:     cfg.EmbeddingAPIKey,
		model:      cfg.EmbeddingModel,
		maxChars:   cfg.EmbeddingMaxChars,
		limiter:    newLimiter(cfg.EmbeddingRPS),
		logger:     logger,
	}
}

type embeddingsRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openaiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text, c.maxChars)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not configured", ErrUnavailable)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	body, err := json.Marshal(embeddingsRequest{
		Input:      text,
		Model:      c.model,
		Dimensions: config.VectorDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrProvider, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProvider)
	}

	vec := parsed.Data[0].Embedding
	if err := checkDimension(vec); err != nil {
		return nil, err
	}

	c.logger.Debug("embedding generated", "provider", "openai", "chars", len(text))
	return vec, nil
}

// statusError turns a non-2xx response into an ErrProvider, surfacing the
// provider's error message when the body carries one.
func statusError(status int, body []byte) error {
	message := string(body)
	var parsed embeddingsResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}
	return fmt.Errorf("%w: status %d: %s", ErrProvider, status, message)
}
