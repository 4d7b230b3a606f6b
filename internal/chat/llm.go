// Package chat maintains a bounded conversation over retrieved context,
// optionally forwarding to an LLM boundary.
package chat

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is a complete chat completion.
type Response struct {
	Content string `json:"content"`
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Content string
	Done    bool
}

// LLM is the chat completion boundary. ChatStream reconstructs and
// returns the full response after the stream completes.
type LLM interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	ChatStream(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Response, error)
}
