package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaModel   = "nomic-embed-text"
	defaultOllamaDims    = 768
	defaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig holds configuration for the Ollama embedding provider.
type OllamaConfig struct {
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OllamaProvider implements Provider using a local Ollama server.
type OllamaProvider struct {
	config OllamaConfig
	client *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates an Ollama embedding provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.URL == "" {
		cfg.URL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultOllamaDims
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed generates an embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	reqBody, err := json.Marshal(ollamaEmbeddingRequest{Model: p.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewProviderError("ollama", "embed", ErrContextCanceled)
		}
		return nil, NewProviderError("ollama", "embed", fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ollamaErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return nil, NewProviderError("ollama", "embed", fmt.Errorf("%s", errResp.Error))
		}
		return nil, NewProviderError("ollama", "embed", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var embResp ollamaEmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch generates embeddings sequentially; Ollama's embeddings
// endpoint accepts one prompt per request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

// Model returns the embedding model name.
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *OllamaProvider) Dimensions() int {
	return p.config.Dimensions
}

var _ Provider = (*OllamaProvider)(nil)
