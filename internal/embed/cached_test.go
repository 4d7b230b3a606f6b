package embed

import (
	"context"
	"sync"
	"testing"
)

// countingProvider returns a fixed vector and counts embed calls.
type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return []float32{1, 2, 3}, nil
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, _ := p.Embed(ctx, texts[i])
		out[i] = v
	}
	return out, nil
}

func (p *countingProvider) Model() string   { return "counting" }
func (p *countingProvider) Dimensions() int { return 3 }

func TestCachedProviderHitsSkipUpstream(t *testing.T) {
	upstream := &countingProvider{}
	cached, err := WithCache(upstream, 16)
	if err != nil {
		t.Fatalf("WithCache failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		v, err := cached.Embed(context.Background(), "same text")
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(v) != 3 {
			t.Fatalf("Unexpected vector %v", v)
		}
	}
	if upstream.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", upstream.calls)
	}
	if cached.Len() != 1 {
		t.Errorf("Expected 1 cached entry, got %d", cached.Len())
	}

	if _, err := cached.Embed(context.Background(), "different text"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", upstream.calls)
	}
}

func TestCachedProviderReturnsCopies(t *testing.T) {
	cached, err := WithCache(&countingProvider{}, 16)
	if err != nil {
		t.Fatalf("WithCache failed: %v", err)
	}

	v1, err := cached.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	v1[0] = 999

	v2, err := cached.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if v2[0] == 999 {
		t.Error("Expected cached vector isolated from caller mutation")
	}
}

// overReturningProvider hands back more vectors than texts requested.
type overReturningProvider struct{ countingProvider }

func (p *overReturningProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts)+1)
	for i := range out {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func TestCachedProviderBatchRejectsWrongVectorCount(t *testing.T) {
	cached, err := WithCache(&overReturningProvider{}, 16)
	if err != nil {
		t.Fatalf("WithCache failed: %v", err)
	}

	if _, err := cached.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("Expected error when inner provider returns extra vectors")
	}
	if cached.Len() != 0 {
		t.Errorf("Expected nothing cached on count mismatch, got %d", cached.Len())
	}
}

func TestCachedProviderBatchMixesHitsAndMisses(t *testing.T) {
	upstream := &countingProvider{}
	cached, err := WithCache(upstream, 16)
	if err != nil {
		t.Fatalf("WithCache failed: %v", err)
	}

	if _, err := cached.Embed(context.Background(), "a"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	before := upstream.calls

	vectors, err := cached.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vectors))
	}
	if got := upstream.calls - before; got != 2 {
		t.Errorf("Expected 2 new upstream calls for the misses, got %d", got)
	}
	if cached.Len() != 3 {
		t.Errorf("Expected 3 cached entries, got %d", cached.Len())
	}
}
