package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider wraps a Provider with an LRU cache keyed by the SHA-256
// of the input text, so repeated queries skip the network round trip.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// WithCache wraps a Provider with an LRU embedding cache of the given
// capacity. A non-positive size defaults to 1000 entries.
func WithCache(p Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: p, cache: cache}, nil
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Embed returns a cached vector when available.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
	return vec, nil
}

// EmbedBatch fills cache hits locally and fetches only the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			results[i] = out
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fetched, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fetched), len(missTexts))
	}
	for j, vec := range fetched {
		stored := make([]float32, len(vec))
		copy(stored, vec)
		c.cache.Add(cacheKey(missTexts[j]), stored)
		results[missIdx[j]] = vec
	}
	return results, nil
}

// Model returns the wrapped provider's model name.
func (c *CachedProvider) Model() string {
	return c.inner.Model()
}

// Dimensions returns the wrapped provider's dimensionality.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Len reports the number of cached embeddings.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

var _ Provider = (*CachedProvider)(nil)
