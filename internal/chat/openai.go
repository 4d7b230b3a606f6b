package chat

import (
	"bufio"
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
	defaultChatURL     = "https://api.openai.com/v1"
	defaultChatModel   = "gpt-4o-mini"
	defaultChatTimeout = 120 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements LLM against an OpenAI-compatible chat
// completions endpoint.
type OpenAIClient struct {
	config OpenAIConfig
	client *http.Client
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatCompletionStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a chat client. A missing API key falls back to
// OPENAI_API_KEY or VIDEX_OPENAI_API_KEY; construction fails without one.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("VIDEX_OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChatURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultChatTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Chat performs a single full completion.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("chat error (%s): %s", completion.Error.Type, completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}
	return &Response{Content: completion.Choices[0].Message.Content}, nil
}

// ChatStream performs a streamed completion, invoking onChunk per delta
// and returning the reconstructed full response once the stream ends.
func (c *OpenAIClient) ChatStream(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Response, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var event chatCompletionStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("unmarshal stream event: %w", err)
		}
		if len(event.Choices) == 0 {
			continue
		}
		if delta := event.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return &Response{Content: full.String()}, nil
}

func (c *OpenAIClient) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}

var _ LLM = (*OpenAIClient)(nil)
