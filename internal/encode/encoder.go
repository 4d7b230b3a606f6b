// Package encode builds the video artifact: chunked text rendered as
// barcode frames, assembled into one video, indexed and persisted.
package encode

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/abdul-hamid-achik/videx/internal/chunker"
	"github.com/abdul-hamid-achik/videx/internal/frame"
	"github.com/abdul-hamid-achik/videx/internal/index"
	"github.com/abdul-hamid-achik/videx/internal/video"
)

// FramePattern is the printf-style filename pattern for temporary frame
// images handed to the assembler.
const FramePattern = "frame_%06d.png"

// BuildStats summarizes one build.
type BuildStats struct {
	Chunks   int           `json:"chunks"`
	Frames   int           `json:"frames"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Encoder accumulates chunks and turns them into a video artifact plus a
// persisted index. A mutex guarantees a single in-flight build.
type Encoder struct {
	chunker   *chunker.Chunker
	store     *index.Store
	codec     frame.BarcodeCodec
	assembler video.Assembler
	preset    video.Preset
	log       *slog.Logger

	mu      sync.Mutex
	pending []string
}

// New creates an Encoder over the given boundaries.
func New(store *index.Store, codec frame.BarcodeCodec, assembler video.Assembler, preset video.Preset, chunkCfg chunker.Config, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "encoder")
	return &Encoder{
		chunker:   chunker.New(chunkCfg, logger),
		store:     store,
		codec:     codec,
		assembler: assembler,
		preset:    preset,
		log:       logger,
	}
}

// AddText chunks raw text and queues the chunks for the next build,
// returning how many were queued.
func (e *Encoder) AddText(text string) int {
	chunks := e.chunker.Chunk(text)
	e.mu.Lock()
	e.pending = append(e.pending, chunks...)
	e.mu.Unlock()
	return len(chunks)
}

// AddChunks queues pre-chunked text directly.
func (e *Encoder) AddChunks(chunks []string) {
	e.mu.Lock()
	for _, c := range chunks {
		if c != "" {
			e.pending = append(e.pending, c)
		}
	}
	e.mu.Unlock()
}

// Pending reports the number of queued chunks.
func (e *Encoder) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// BuildVideo renders every queued chunk as a barcode frame in a per-build
// temporary directory, assembles the frames into one artifact at
// videoPath, indexes the chunks under their frame numbers and persists
// the index. The queue is consumed exactly once per call and reset even
// on partial failure; a single frame's barcode failure is skipped with a
// warning. Building with no queued chunks yields a valid empty index and
// an empty artifact.
func (e *Encoder) BuildVideo(ctx context.Context, videoPath string) (BuildStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks := e.pending
	e.pending = nil

	start := time.Now()
	stats := BuildStats{Chunks: len(chunks)}

	tmpDir, err := os.MkdirTemp("", "videx-build-*")
	if err != nil {
		return stats, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	texts := make([]string, 0, len(chunks))
	frames := make([]int, 0, len(chunks))
	frameNumber := 0

	for i, chunk := range chunks {
		payload, err := frame.EncodePayload(frame.Payload{Text: chunk, Frame: frameNumber})
		if err != nil {
			e.log.Warn("skipping chunk, payload encode failed", "position", i, "error", err)
			stats.Skipped++
			continue
		}

		img, err := e.codec.Encode(payload)
		if err != nil {
			e.log.Warn("skipping chunk, barcode generation failed", "position", i, "error", err)
			stats.Skipped++
			continue
		}

		fitted := frame.FitToCanvas(img, e.preset.Width, e.preset.Height, color.White)
		framePath := filepath.Join(tmpDir, fmt.Sprintf(FramePattern, frameNumber))
		if err := imaging.Save(fitted, framePath); err != nil {
			e.log.Warn("skipping chunk, frame write failed", "position", i, "error", err)
			stats.Skipped++
			continue
		}

		texts = append(texts, chunk)
		frames = append(frames, frameNumber)
		frameNumber++
	}
	stats.Frames = frameNumber

	if _, err := e.store.AddChunks(ctx, texts, frames); err != nil {
		return stats, fmt.Errorf("index chunks: %w", err)
	}

	if err := e.assembler.Assemble(ctx, tmpDir, FramePattern, videoPath, e.preset); err != nil {
		return stats, fmt.Errorf("assemble video: %w", err)
	}

	if err := e.store.Persist(); err != nil {
		return stats, fmt.Errorf("persist index: %w", err)
	}

	stats.Duration = time.Since(start)
	e.log.Info("build complete",
		"chunks", stats.Chunks, "frames", stats.Frames, "skipped", stats.Skipped,
		"video", videoPath, "duration", stats.Duration)
	return stats, nil
}
