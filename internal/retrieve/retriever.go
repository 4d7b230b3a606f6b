package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/abdul-hamid-achik/videx/internal/frame"
	"github.com/abdul-hamid-achik/videx/internal/index"
	"github.com/abdul-hamid-achik/videx/internal/video"
)

// Config controls retriever behavior.
type Config struct {
	// CacheSize bounds the decoded-frame cache.
	CacheSize int
	// Workers bounds concurrent frame decodes.
	Workers int
	// DecodeBatchSize is the per-dispatch batch size.
	DecodeBatchSize int
	// PrefetchCount and TimeoutSecs are advisory hints; they are accepted
	// and logged but not enforced on any operation.
	PrefetchCount int
	TimeoutSecs   int
}

// DefaultConfig returns retriever defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize:       1000,
		Workers:         4,
		DecodeBatchSize: 16,
		PrefetchCount:   50,
		TimeoutSecs:     30,
	}
}

// Deps are the boundaries the retriever orchestrates. OpenStore and
// OpenSession run asynchronously at construction; their combined outcome
// is the retriever's readiness.
type Deps struct {
	OpenStore   func(ctx context.Context) (*index.Store, error)
	OpenSession func(ctx context.Context) (video.Session, error)
	Codec       frame.BarcodeCodec
}

// Result is a metadata-enriched search hit.
type Result struct {
	ChunkID  int64   `json:"chunk_id"`
	Frame    int     `json:"frame"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
	Score    float32 `json:"score"` // 1 / (1 + distance)
}

// Retriever answers queries by searching the index and decoding the
// original text out of the referenced video frames. The frame cache is
// exclusive to one retriever instance.
type Retriever struct {
	config Config
	codec  frame.BarcodeCodec
	cache  *FrameCache
	log    *slog.Logger

	ready   chan struct{}
	store   *index.Store
	session video.Session
	initErr error
}

// New creates a Retriever and starts its initialization (index reload and
// video session open) in the background. Every operation waits for
// readiness and surfaces the initialization error if it failed.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retriever")

	if deps.OpenStore == nil || deps.OpenSession == nil || deps.Codec == nil {
		return nil, fmt.Errorf("retriever: store, session and codec dependencies are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.DecodeBatchSize <= 0 {
		cfg.DecodeBatchSize = DefaultConfig().DecodeBatchSize
	}

	cache, err := NewFrameCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}

	r := &Retriever{
		config: cfg,
		codec:  deps.Codec,
		cache:  cache,
		log:    logger,
		ready:  make(chan struct{}),
	}
	if cfg.TimeoutSecs > 0 {
		logger.Debug("advisory timeout configured but not enforced", "timeout_secs", cfg.TimeoutSecs)
	}

	go r.initialize(deps)
	return r, nil
}

// initialize loads the index and opens the video session. There is no
// cancellation: an abandoned retriever still finishes initializing.
func (r *Retriever) initialize(deps Deps) {
	defer close(r.ready)
	ctx := context.Background()

	store, err := deps.OpenStore(ctx)
	if err != nil {
		r.initErr = fmt.Errorf("load index: %w", err)
		return
	}
	session, err := deps.OpenSession(ctx)
	if err != nil {
		r.initErr = fmt.Errorf("open video: %w", err)
		return
	}

	r.store = store
	r.session = session
	r.log.Info("retriever ready", "chunks", store.Count(), "frames", session.FrameCount())
}

// Ready blocks until initialization completes or ctx is done, returning
// the initialization error if there was one.
func (r *Retriever) Ready(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search returns the decoded text for the topK chunks nearest the query,
// one text per index hit in index order. Per-frame failures degrade to
// sentinel text rather than errors.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]string, error) {
	results, err := r.SearchWithMetadata(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Text
	}
	return texts, nil
}

// SearchWithMetadata returns full results including distance and the
// display score 1/(1+distance).
func (r *Retriever) SearchWithMetadata(ctx context.Context, query string, topK int) ([]Result, error) {
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}

	hits, err := r.store.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	frames := make([]int, 0, len(hits))
	for _, hit := range hits {
		frames = append(frames, hit.Entry.Frame)
	}
	r.decodeFrames(ctx, frames)

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			ChunkID:  hit.ChunkID,
			Frame:    hit.Entry.Frame,
			Text:     r.frameText(ctx, hit.Entry.Frame),
			Distance: hit.Distance,
			Score:    1 / (1 + hit.Distance),
		}
	}
	return results, nil
}

// PrefetchFrames decodes the given frames into the cache ahead of need.
func (r *Retriever) PrefetchFrames(ctx context.Context, frames []int) error {
	if err := r.Ready(ctx); err != nil {
		return err
	}
	r.decodeFrames(ctx, frames)
	return nil
}

// CachedFrames reports how many decoded frames are currently cached.
func (r *Retriever) CachedFrames() int {
	return r.cache.Len()
}

// ClearCache drops all cached frame text.
func (r *Retriever) ClearCache() {
	r.cache.Clear()
}

// Store exposes the underlying index store once ready; callers must have
// observed readiness first.
func (r *Retriever) Store() *index.Store {
	return r.store
}

// Close releases the video session.
func (r *Retriever) Close() error {
	<-r.ready
	if r.session != nil {
		return r.session.Close()
	}
	return nil
}

// decodeFrames decodes all uncached frames in fixed-size batches with at
// most Workers concurrent decodes. One frame's failure never cancels its
// siblings; failures are cached as sentinel text like any other result.
func (r *Retriever) decodeFrames(ctx context.Context, frames []int) {
	seen := make(map[int]bool, len(frames))
	var uncached []int
	for _, f := range frames {
		if seen[f] {
			continue
		}
		seen[f] = true
		if _, ok := r.cache.Get(f); !ok {
			uncached = append(uncached, f)
		}
	}

	for start := 0; start < len(uncached); start += r.config.DecodeBatchSize {
		end := min(start+r.config.DecodeBatchSize, len(uncached))

		var g errgroup.Group
		g.SetLimit(r.config.Workers)
		for _, f := range uncached[start:end] {
			f := f
			g.Go(func() error {
				r.cache.Set(f, r.decodeFrame(ctx, f))
				return nil
			})
		}
		_ = g.Wait() // decode errors are absorbed as sentinels
	}
}

// frameText returns the decoded text for one frame, consulting the cache
// first. Cache hits, sentinel markers included, skip extraction entirely.
func (r *Retriever) frameText(ctx context.Context, frameNumber int) string {
	if text, ok := r.cache.Get(frameNumber); ok {
		return text
	}
	text := r.decodeFrame(ctx, frameNumber)
	r.cache.Set(frameNumber, text)
	return text
}

// decodeFrame runs the expensive path: extract the still, read the
// barcode, reverse any compression and parse the payload.
func (r *Retriever) decodeFrame(ctx context.Context, frameNumber int) string {
	img, err := r.session.ExtractFrame(ctx, frameNumber)
	if err != nil {
		r.log.Warn("frame extraction failed", "frame", frameNumber, "error", err)
		return SentinelNotReadable
	}

	payload, err := r.codec.Decode(img)
	if err != nil {
		r.log.Warn("barcode read failed", "frame", frameNumber, "error", err)
		return SentinelNotReadable
	}

	p, err := frame.DecodePayload(payload)
	if err != nil {
		r.log.Warn("payload parse failed", "frame", frameNumber, "error", err)
		return SentinelDecodeError
	}
	return p.Text
}
