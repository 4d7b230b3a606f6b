package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const contextSeparator = "\n\n"

// ContextSource supplies retrieved context for a query; the retriever
// satisfies this.
type ContextSource interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// Config controls a chat session.
type Config struct {
	// SystemPrompt is prepended fresh on every turn and excluded from
	// the history cap.
	SystemPrompt string
	// ContextChunks is the number of chunks retrieved per user turn.
	ContextChunks int
	// MaxHistory is the maximum retained non-system messages; it is kept
	// even to pair user/assistant turns.
	MaxHistory int
	// MaxContextChars bounds the concatenated context; truncation drops
	// whole chunks, never part of one.
	MaxContextChars int
	// Model overrides the LLM client's default model.
	Model string
}

// DefaultConfig returns chat session defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:    "You are a helpful assistant. Answer using the provided context.",
		ContextChunks:   5,
		MaxHistory:      10,
		MaxContextChars: 8000,
	}
}

// Session holds a bounded ordered history and answers user turns from
// retrieved context, with or without an LLM behind it. It is safe for
// concurrent use; the web layer shares one session across requests.
type Session struct {
	config Config
	source ContextSource
	llm    LLM // nil means context-only mode
	log    *slog.Logger

	mu      sync.Mutex
	history []Message
}

// NewSession creates a chat session. A nil llm puts the session in
// context-only mode: each turn returns the retrieved context directly.
func NewSession(cfg Config, source ContextSource, llm LLM, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")

	if source == nil {
		return nil, fmt.Errorf("chat: context source is required")
	}
	if cfg.ContextChunks <= 0 {
		cfg.ContextChunks = DefaultConfig().ContextChunks
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultConfig().MaxContextChars
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	if cfg.MaxHistory%2 != 0 {
		cfg.MaxHistory--
		logger.Warn("rounding max history down to pair turns", "max_history", cfg.MaxHistory)
	}

	return &Session{config: cfg, source: source, llm: llm, log: logger}, nil
}

// Ask handles one user turn: retrieve context, then either return it
// directly (context-only mode) or forward the assembled prompt to the LLM.
func (s *Session) Ask(ctx context.Context, message string) (string, error) {
	ragContext, err := s.buildContext(ctx, message)
	if err != nil {
		return "", err
	}

	if s.llm == nil {
		s.record(message, ragContext)
		return ragContext, nil
	}

	resp, err := s.llm.Chat(ctx, Request{
		Model:    s.config.Model,
		Messages: s.assemble(message, ragContext),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	s.record(message, resp.Content)
	return resp.Content, nil
}

// AskStream is Ask with incremental delivery. The full response is
// appended to history only once the stream completes.
func (s *Session) AskStream(ctx context.Context, message string, onChunk func(string)) (string, error) {
	if s.llm == nil {
		return s.Ask(ctx, message)
	}

	ragContext, err := s.buildContext(ctx, message)
	if err != nil {
		return "", err
	}

	resp, err := s.llm.ChatStream(ctx, Request{
		Model:    s.config.Model,
		Messages: s.assemble(message, ragContext),
	}, func(chunk StreamChunk) {
		if chunk.Content != "" && onChunk != nil {
			onChunk(chunk.Content)
		}
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	s.record(message, resp.Content)
	return resp.Content, nil
}

// History returns a copy of the retained conversation.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Reset clears the conversation history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// buildContext retrieves and concatenates context chunks up to the
// character budget, dropping whole chunks once the running length would
// exceed it.
func (s *Session) buildContext(ctx context.Context, message string) (string, error) {
	chunks, err := s.source.Search(ctx, message, s.config.ContextChunks)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	var parts []string
	total := 0
	for _, chunk := range chunks {
		cost := len(chunk)
		if len(parts) > 0 {
			cost += len(contextSeparator)
		}
		if total+cost > s.config.MaxContextChars {
			break
		}
		parts = append(parts, chunk)
		total += cost
	}
	return strings.Join(parts, contextSeparator), nil
}

// assemble builds the prompt: fresh system message, bounded history, then
// the user message with injected context.
func (s *Session) assemble(message, ragContext string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, 0, len(s.history)+2)
	if s.config.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: s.config.SystemPrompt})
	}
	messages = append(messages, s.history...)

	content := message
	if ragContext != "" {
		content = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", ragContext, message)
	}
	return append(messages, Message{Role: RoleUser, Content: content})
}

// record appends the completed turn and trims history to the most recent
// MaxHistory messages.
func (s *Session) record(userMessage, assistantReply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		Message{Role: RoleUser, Content: userMessage},
		Message{Role: RoleAssistant, Content: assistantReply},
	)
	if excess := len(s.history) - s.config.MaxHistory; excess > 0 {
		s.history = append([]Message(nil), s.history[excess:]...)
	}
}
