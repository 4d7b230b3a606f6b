// Package retrieve orchestrates semantic search over the video artifact:
// ANN lookup, frame extraction, barcode decode and a bounded cache of
// decoded frame text.
package retrieve

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Sentinel texts substituted for unrecoverable per-frame failures. They
// are cached like any decoded text so the expensive path runs once.
const (
	SentinelDecodeError = "[decode error]"
	SentinelNotReadable = "[not readable]"
)

// FrameCache is a bounded cache of decoded frame text keyed by frame
// number, with LRU eviction. Unresolvable markers are cached the same way
// as successful decodes.
type FrameCache struct {
	cache *lru.Cache[int, string]
}

// NewFrameCache creates a cache holding at most size entries. A
// non-positive size defaults to 1000.
func NewFrameCache(size int) (*FrameCache, error) {
	if size <= 0 {
		size = 1000
	}
	c, err := lru.New[int, string](size)
	if err != nil {
		return nil, err
	}
	return &FrameCache{cache: c}, nil
}

// Get returns the cached text for a frame, if present.
func (c *FrameCache) Get(frameNumber int) (string, bool) {
	return c.cache.Get(frameNumber)
}

// Set stores decoded text for a frame, evicting the least recently used
// entry when full.
func (c *FrameCache) Set(frameNumber int, text string) {
	c.cache.Add(frameNumber, text)
}

// Len reports the number of cached frames.
func (c *FrameCache) Len() int {
	return c.cache.Len()
}

// Clear removes all entries.
func (c *FrameCache) Clear() {
	c.cache.Purge()
}
