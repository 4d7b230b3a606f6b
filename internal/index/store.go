// Package index owns the ANN graph and the chunk metadata table: adding
// chunks, semantic search, and persist/reload of the two co-dependent
// snapshot artifacts.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/abdul-hamid-achik/veclite"

	"github.com/abdul-hamid-achik/videx/internal/embed"
)

const collectionName = "chunks"

// ErrCorruptIndex reports a broken bijection between graph ids and
// metadata entries detected on reload.
var ErrCorruptIndex = errors.New("index graph and metadata disagree")

// Entry is the stored metadata for one chunk. Text is deliberately not
// kept here; it is reconstructed by decoding the referenced frame.
type Entry struct {
	ID     int64 `json:"id"`
	Frame  int   `json:"frame"`
	Length int   `json:"length"`
}

// SearchResult is one ANN hit joined with its metadata entry. Lower
// distance means more similar.
type SearchResult struct {
	ChunkID  int64
	Entry    Entry
	Distance float32
}

// Config holds the parameters fixed for the lifetime of a Store.
type Config struct {
	// BasePath is the snapshot base; the graph lives at BasePath+".ann"
	// and the metadata table at BasePath+".json".
	BasePath string
	// Dimensions is the embedding dimensionality; every vector must match.
	Dimensions int
	// Metric is "cosine" (default) or "l2". Cosine is realized by
	// L2-normalizing all vectors and searching Euclidean in the graph,
	// which preserves the cosine ranking.
	Metric string
	// Connectivity is the HNSW M parameter.
	Connectivity int
	// EFConstruction is the HNSW construction breadth.
	EFConstruction int
	// CapacityHint pre-sizes the metadata table.
	CapacityHint int
}

// Store maps chunk ids to embeddings and frame locations. Chunk ids are
// assigned monotonically from zero and never reused, including across
// persist/reload cycles. AddChunks calls must be externally serialized.
type Store struct {
	config      Config
	provider    embed.Provider
	log         *slog.Logger
	db          *veclite.DB
	coll        *veclite.Collection
	nextID      int64
	entries     map[int64]Entry
	initialized bool
}

// New opens a Store at cfg.BasePath. When a metadata snapshot already
// exists it is reloaded (metadata first, then the graph) and subsequent
// inserts continue from the restored next id.
func New(cfg Config, provider embed.Provider, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "index")

	if cfg.BasePath == "" {
		return nil, fmt.Errorf("index: base path is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index: dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch cfg.Metric {
	case "":
		cfg.Metric = "cosine"
	case "cosine", "l2":
	default:
		return nil, fmt.Errorf("index: unknown metric %q", cfg.Metric)
	}
	if cfg.Connectivity <= 0 {
		cfg.Connectivity = 16
	}
	if cfg.EFConstruction <= 0 {
		cfg.EFConstruction = 200
	}
	if provider == nil {
		return nil, fmt.Errorf("index: embedding provider is required")
	}
	if d := provider.Dimensions(); d != 0 && d != cfg.Dimensions {
		logger.Warn("provider dimensionality differs from index; mismatched vectors will be skipped",
			"provider", d, "index", cfg.Dimensions)
	}

	s := &Store{
		config:   cfg,
		provider: provider,
		log:      logger,
		entries:  make(map[int64]Entry, max(cfg.CapacityHint, 0)),
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the graph and, when present, restores the metadata snapshot.
// Calling Init on an already initialized store is a no-op warning.
func (s *Store) Init() error {
	if s.initialized {
		s.log.Warn("store already initialized, ignoring re-init")
		return nil
	}

	restored, err := s.loadMetadata()
	if err != nil {
		return err
	}

	db, err := veclite.Open(s.graphPath())
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	s.db = db

	coll, err := db.CreateCollection(collectionName,
		veclite.WithDimension(s.config.Dimensions),
		veclite.WithDistanceType(veclite.DistanceEuclidean),
		veclite.WithHNSW(s.config.Connectivity, s.config.EFConstruction),
	)
	if err != nil {
		coll, err = db.GetCollection(collectionName)
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
	}
	s.coll = coll

	if restored {
		if err := s.verifyBijection(); err != nil {
			return err
		}
		s.log.Info("index reloaded", "chunks", len(s.entries), "next_id", s.nextID)
	}

	s.initialized = true
	return nil
}

// AddChunks embeds all texts in one call and inserts each vector with the
// next monotonic chunk id, recording its frame and length. A vector whose
// dimensionality does not match the store skips only that item; the batch
// continues. Returned ids cover successful inserts only, in input order.
func (s *Store) AddChunks(ctx context.Context, texts []string, frames []int) ([]int64, error) {
	if len(texts) != len(frames) {
		return nil, fmt.Errorf("texts and frames length mismatch: %d vs %d", len(texts), len(frames))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	ids := make([]int64, 0, len(texts))
	for i, vec := range vectors {
		if len(vec) != s.config.Dimensions {
			s.log.Warn("skipping chunk with mismatched embedding dimension",
				"position", i, "got", len(vec), "want", s.config.Dimensions)
			continue
		}
		if s.config.Metric == "cosine" {
			vec = normalized(vec)
		}

		id := s.nextID
		_, err := s.coll.Insert(vec, map[string]any{
			"chunk_id": id,
			"frame":    frames[i],
			"length":   len(texts[i]),
		})
		if err != nil {
			s.log.Warn("skipping chunk after graph insert failure", "position", i, "error", err)
			continue
		}

		s.entries[id] = Entry{ID: id, Frame: frames[i], Length: len(texts[i])}
		ids = append(ids, id)
		s.nextID++
	}
	return ids, nil
}

// Search embeds the query and returns the topK nearest chunks joined with
// their metadata, in the graph's nearest-first order. An embedding failure
// or dimension mismatch yields an empty result, not an error; graph hits
// without a metadata entry are dropped.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed, returning empty result", "error", err)
		return nil, nil
	}
	if len(vec) != s.config.Dimensions {
		s.log.Warn("query embedding dimension mismatch, returning empty result",
			"got", len(vec), "want", s.config.Dimensions)
		return nil, nil
	}
	if s.config.Metric == "cosine" {
		vec = normalized(vec)
	}

	hits, err := s.coll.Search(vec, veclite.TopK(topK))
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunkID := payloadInt64(hit.Record.Payload, "chunk_id")
		entry, ok := s.entries[chunkID]
		if !ok {
			s.log.Warn("dropping graph hit without metadata entry", "chunk_id", chunkID)
			continue
		}
		results = append(results, SearchResult{
			ChunkID:  chunkID,
			Entry:    entry,
			Distance: hit.Score,
		})
	}
	return results, nil
}

// Persist writes the two co-dependent snapshot artifacts: the metadata
// table (including the next chunk id) and the graph. The write is not
// transactionally atomic across the two.
func (s *Store) Persist() error {
	if err := s.saveMetadata(); err != nil {
		return err
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync graph: %w", err)
	}
	return nil
}

// Close releases the graph handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Count reports the number of indexed chunks.
func (s *Store) Count() int {
	return len(s.entries)
}

// NextID reports the id the next inserted chunk will receive.
func (s *Store) NextID() int64 {
	return s.nextID
}

// Entry returns the metadata entry for a chunk id.
func (s *Store) Entry(id int64) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Stats summarizes the store for status displays.
type Stats struct {
	Chunks     int    `json:"chunks"`
	NextID     int64  `json:"next_id"`
	Dimensions int    `json:"dimensions"`
	Metric     string `json:"metric"`
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Chunks:     len(s.entries),
		NextID:     s.nextID,
		Dimensions: s.config.Dimensions,
		Metric:     s.config.Metric,
	}
}

func (s *Store) graphPath() string {
	return s.config.BasePath + ".ann"
}

func (s *Store) metadataPath() string {
	return s.config.BasePath + ".json"
}

// verifyBijection checks that graph records and metadata entries map
// one-to-one. A mismatch means the two artifacts are out of step.
func (s *Store) verifyBijection() error {
	records := s.coll.All()
	if len(records) != len(s.entries) {
		return fmt.Errorf("%w: %d graph records, %d metadata entries",
			ErrCorruptIndex, len(records), len(s.entries))
	}
	for _, r := range records {
		chunkID := payloadInt64(r.Payload, "chunk_id")
		if _, ok := s.entries[chunkID]; !ok {
			return fmt.Errorf("%w: graph record %d has no metadata entry", ErrCorruptIndex, chunkID)
		}
	}
	return nil
}

// normalized returns the unit-length copy of v; zero vectors pass through.
func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// payloadInt64 extracts an integer payload field; veclite may hand back
// int64, int or float64 depending on the serialization round trip.
func payloadInt64(payload map[string]any, key string) int64 {
	switch n := payload[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
