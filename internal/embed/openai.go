package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIDims    = 1536
	defaultOpenAITimeout = 60 * time.Second
	openAIMaxBatchSize   = 2048
	openAIMaxRetries     = 3
	openAIRetryDelay     = time.Second
)

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string
	Timeout    time.Duration
}

// OpenAIProvider implements Provider using OpenAI's embeddings API.
type OpenAIProvider struct {
	config OpenAIConfig
	client *http.Client
}

type openaiEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      any    `json:"input"` // string or []string
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIProvider creates an OpenAI embedding provider. A missing API
// key falls back to OPENAI_API_KEY or VIDEX_OPENAI_API_KEY; construction
// fails without one (configuration errors are fatal up front).
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("VIDEX_OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, NewProviderError("openai", "init", fmt.Errorf("API key not configured"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultOpenAIDims
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	embeddings, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in input order,
// splitting into API-sized sub-batches as needed.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, NewProviderError("openai", "embedBatch", fmt.Errorf("text %d: %w", i, ErrEmptyText))
		}
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatchSize {
		end := min(start+openAIMaxBatchSize, len(texts))
		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(results[start:end], batch)
	}
	return results, nil
}

// embedBatch performs one request with retry on rate limits.
func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < openAIMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewProviderError("openai", "embed", ErrContextCanceled)
			case <-time.After(openAIRetryDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		embeddings, err := p.doEmbed(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "rate_limit") {
			break
		}
	}
	return nil, NewProviderError("openai", "embed", lastErr)
}

func (p *OpenAIProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := openaiEmbeddingRequest{
		Model: p.config.Model,
		Input: texts,
	}
	// Only text-embedding-3-* models accept a dimensions override.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") {
		reqBody.Dimensions = p.config.Dimensions
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrContextCanceled
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openaiErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("rate_limit: %s", errResp.Error.Message)
			}
			return nil, fmt.Errorf("openai error (%s): %s", errResp.Error.Type, errResp.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var embResp openaiEmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		embeddings[data.Index] = vec
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
		// When a dimensions override was requested, the API must honor it.
		if reqBody.Dimensions > 0 && len(emb) != reqBody.Dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), reqBody.Dimensions)
		}
	}
	return embeddings, nil
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OpenAIProvider) Dimensions() int {
	return p.config.Dimensions
}

var _ Provider = (*OpenAIProvider)(nil)
