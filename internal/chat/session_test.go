package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeSource struct {
	chunks []string
	err    error
}

func (f *fakeSource) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.chunks) {
		return f.chunks[:topK], nil
	}
	return f.chunks, nil
}

type fakeLLM struct {
	reply    string
	err      error
	streamed []string

	mu      sync.Mutex
	lastReq Request
}

func (f *fakeLLM) Chat(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: f.reply}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Response, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, part := range f.streamed {
		onChunk(StreamChunk{Content: part})
	}
	onChunk(StreamChunk{Done: true})
	return &Response{Content: strings.Join(f.streamed, "")}, nil
}

func TestNewSessionRequiresSource(t *testing.T) {
	if _, err := NewSession(DefaultConfig(), nil, nil, nil); err == nil {
		t.Error("Expected error for nil context source")
	}
}

func TestNewSessionRoundsOddHistoryDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 7
	s, err := NewSession(cfg, &fakeSource{}, nil, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.config.MaxHistory != 6 {
		t.Errorf("Expected max history 6, got %d", s.config.MaxHistory)
	}
}

func TestAskContextOnlyMode(t *testing.T) {
	source := &fakeSource{chunks: []string{"first chunk", "second chunk"}}
	s, err := NewSession(DefaultConfig(), source, nil, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	reply, err := s.Ask(context.Background(), "what do you know")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "first chunk\n\nsecond chunk" {
		t.Errorf("Expected joined context, got %q", reply)
	}
	if len(s.History()) != 2 {
		t.Errorf("Expected user+assistant recorded, got %d messages", len(s.History()))
	}
}

func TestAskAssemblesPrompt(t *testing.T) {
	source := &fakeSource{chunks: []string{"relevant fact"}}
	llm := &fakeLLM{reply: "the answer"}
	s, err := NewSession(DefaultConfig(), source, llm, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	reply, err := s.Ask(context.Background(), "question one")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "the answer" {
		t.Errorf("Expected LLM reply, got %q", reply)
	}

	msgs := llm.lastReq.Messages
	if len(msgs) != 2 {
		t.Fatalf("Expected system + user message, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("Expected system message first, got role %q", msgs[0].Role)
	}
	if !strings.Contains(msgs[1].Content, "relevant fact") {
		t.Errorf("Expected context injected into user message, got %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, "question one") {
		t.Errorf("Expected question in user message, got %q", msgs[1].Content)
	}

	// Second turn carries prior history between system and new user message.
	if _, err := s.Ask(context.Background(), "question two"); err != nil {
		t.Fatalf("Second Ask failed: %v", err)
	}
	msgs = llm.lastReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("Expected system + 2 history + user, got %d", len(msgs))
	}
	if msgs[1].Content != "question one" || msgs[2].Content != "the answer" {
		t.Errorf("Expected prior turn in history, got %q / %q", msgs[1].Content, msgs[2].Content)
	}
}

func TestHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 4
	llm := &fakeLLM{reply: "ok"}
	s, err := NewSession(cfg, &fakeSource{}, llm, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Ask(context.Background(), "turn"); err != nil {
			t.Fatalf("Ask %d failed: %v", i, err)
		}
	}

	history := s.History()
	if len(history) != 4 {
		t.Fatalf("Expected history capped at 4, got %d", len(history))
	}
	// Oldest pairs are dropped whole; the cap never splits a turn.
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Errorf("Expected paired turns, got roles %q, %q", history[0].Role, history[1].Role)
	}
}

func TestContextTruncationDropsWholeChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextChars = 25
	source := &fakeSource{chunks: []string{
		"ten chars!",     // 10
		"ten more__",     // +2 separator +10 = 22
		"one too many now", // would push past 25, dropped whole
	}}
	s, err := NewSession(cfg, source, nil, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	reply, err := s.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "ten chars!\n\nten more__" {
		t.Errorf("Expected third chunk dropped whole, got %q", reply)
	}
}

func TestAskStreamRecordsAfterCompletion(t *testing.T) {
	llm := &fakeLLM{streamed: []string{"hel", "lo ", "there"}}
	s, err := NewSession(DefaultConfig(), &fakeSource{chunks: []string{"ctx"}}, llm, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	var got []string
	reply, err := s.AskStream(context.Background(), "hi", func(chunk string) {
		got = append(got, chunk)
		if len(s.History()) != 0 {
			t.Error("History must not grow until the stream completes")
		}
	})
	if err != nil {
		t.Fatalf("AskStream failed: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("Expected reconstructed reply, got %q", reply)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 chunks delivered, got %d", len(got))
	}

	history := s.History()
	if len(history) != 2 || history[1].Content != "hello there" {
		t.Errorf("Expected full reply recorded after stream, got %+v", history)
	}
}

func TestAskStreamFailureLeavesHistoryUntouched(t *testing.T) {
	llm := &fakeLLM{err: errors.New("stream broke")}
	s, err := NewSession(DefaultConfig(), &fakeSource{}, llm, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if _, err := s.AskStream(context.Background(), "hi", nil); err == nil {
		t.Fatal("Expected stream error")
	}
	if len(s.History()) != 0 {
		t.Errorf("Expected empty history after failure, got %d messages", len(s.History()))
	}
}

func TestSourceFailurePropagates(t *testing.T) {
	s, err := NewSession(DefaultConfig(), &fakeSource{err: errors.New("index gone")}, nil, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if _, err := s.Ask(context.Background(), "q"); err == nil {
		t.Error("Expected retrieval error to propagate")
	}
}

func TestConcurrentAsksKeepHistoryConsistent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistory = 8
	llm := &fakeLLM{reply: "ok"}
	s, err := NewSession(cfg, &fakeSource{chunks: []string{"ctx"}}, llm, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	// One session is shared across HTTP requests; Ask must be safe to
	// call from many goroutines at once.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := s.Ask(context.Background(), "turn"); err != nil {
					t.Errorf("Ask failed: %v", err)
				}
				s.History()
			}
		}()
	}
	wg.Wait()

	history := s.History()
	if len(history) != 8 {
		t.Fatalf("Expected history capped at 8, got %d", len(history))
	}
	for i, msg := range history {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if msg.Role != want {
			t.Errorf("Message %d: expected role %q, got %q", i, want, msg.Role)
		}
	}
}

func TestReset(t *testing.T) {
	s, err := NewSession(DefaultConfig(), &fakeSource{chunks: []string{"x"}}, nil, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if _, err := s.Ask(context.Background(), "q"); err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	s.Reset()
	if len(s.History()) != 0 {
		t.Errorf("Expected empty history after reset, got %d", len(s.History()))
	}
}
