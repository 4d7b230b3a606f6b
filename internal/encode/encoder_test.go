package encode

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/videx/internal/chunker"
	"github.com/abdul-hamid-achik/videx/internal/index"
	"github.com/abdul-hamid-achik/videx/internal/video"
)

const testDims = 4

type fakeProvider struct{}

func (fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (fakeProvider) Model() string   { return "fake" }
func (fakeProvider) Dimensions() int { return testDims }

// fakeCodec renders a tiny placeholder image; payloads containing the
// trigger string fail, exercising the per-chunk skip path.
type fakeCodec struct{}

func (fakeCodec) Encode(payload string) (image.Image, error) {
	if strings.Contains(payload, "unrenderable") {
		return nil, errors.New("payload too large for barcode")
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (fakeCodec) Decode(img image.Image) (string, error) {
	return "", errors.New("not implemented")
}

// fakeAssembler records the frame files it was handed and writes an empty
// artifact.
type fakeAssembler struct {
	calls      int
	frameFiles []string
}

func (a *fakeAssembler) Assemble(ctx context.Context, frameDir, pattern, outPath string, preset video.Preset) error {
	a.calls++
	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return err
	}
	a.frameFiles = a.frameFiles[:0]
	for _, e := range entries {
		a.frameFiles = append(a.frameFiles, e.Name())
	}
	return os.WriteFile(outPath, nil, 0o644)
}

func newTestEncoder(t *testing.T) (*Encoder, *index.Store, *fakeAssembler, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := index.New(index.Config{
		BasePath:   filepath.Join(dir, "memory"),
		Dimensions: testDims,
	}, fakeProvider{}, nil)
	if err != nil {
		t.Fatalf("index.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	preset, err := video.PresetByName("mp4")
	if err != nil {
		t.Fatalf("PresetByName failed: %v", err)
	}

	assembler := &fakeAssembler{}
	enc := New(store, fakeCodec{}, assembler, preset, chunker.Config{ChunkSize: 64}, nil)
	return enc, store, assembler, filepath.Join(dir, "memory.mp4")
}

func TestAddTextQueuesChunks(t *testing.T) {
	enc, _, _, _ := newTestEncoder(t)

	n := enc.AddText("Sentence one. Sentence two. Sentence three runs a little longer than both.")
	if n < 2 {
		t.Fatalf("Expected at least 2 chunks queued, got %d", n)
	}
	if enc.Pending() != n {
		t.Errorf("Expected %d pending, got %d", n, enc.Pending())
	}

	enc.AddChunks([]string{"direct chunk", ""})
	if enc.Pending() != n+1 {
		t.Errorf("Expected empty chunk dropped, pending %d, got %d", n+1, enc.Pending())
	}
}

func TestBuildVideoEndToEnd(t *testing.T) {
	enc, store, assembler, videoPath := newTestEncoder(t)
	enc.AddChunks([]string{"chunk zero", "chunk one", "chunk two"})

	stats, err := enc.BuildVideo(context.Background(), videoPath)
	if err != nil {
		t.Fatalf("BuildVideo failed: %v", err)
	}
	if stats.Chunks != 3 || stats.Frames != 3 || stats.Skipped != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if assembler.calls != 1 {
		t.Errorf("Expected 1 assemble call, got %d", assembler.calls)
	}
	if len(assembler.frameFiles) != 3 {
		t.Errorf("Expected 3 frame files, got %v", assembler.frameFiles)
	}
	if assembler.frameFiles[0] != "frame_000000.png" {
		t.Errorf("Unexpected frame filename %q", assembler.frameFiles[0])
	}

	if store.Count() != 3 {
		t.Errorf("Expected 3 indexed chunks, got %d", store.Count())
	}
	for id := int64(0); id < 3; id++ {
		entry, ok := store.Entry(id)
		if !ok {
			t.Fatalf("Missing entry %d", id)
		}
		if entry.Frame != int(id) {
			t.Errorf("Expected chunk %d at frame %d, got %d", id, id, entry.Frame)
		}
	}

	if _, err := os.Stat(videoPath); err != nil {
		t.Errorf("Expected video artifact written: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(videoPath, ".mp4") + ".json"); err != nil {
		t.Errorf("Expected metadata snapshot persisted: %v", err)
	}

	if enc.Pending() != 0 {
		t.Errorf("Expected queue consumed, %d pending", enc.Pending())
	}
}

func TestBuildVideoSkipKeepsFramesDense(t *testing.T) {
	enc, store, _, videoPath := newTestEncoder(t)
	enc.AddChunks([]string{"good one", "unrenderable middle", "good two"})

	stats, err := enc.BuildVideo(context.Background(), videoPath)
	if err != nil {
		t.Fatalf("BuildVideo failed: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", stats.Skipped)
	}
	if stats.Frames != 2 {
		t.Errorf("Expected 2 frames, got %d", stats.Frames)
	}

	// Surviving chunks occupy consecutive frame numbers from zero.
	entry0, _ := store.Entry(0)
	entry1, _ := store.Entry(1)
	if entry0.Frame != 0 || entry1.Frame != 1 {
		t.Errorf("Expected dense frames 0,1, got %d,%d", entry0.Frame, entry1.Frame)
	}
}

func TestBuildVideoEmptyQueue(t *testing.T) {
	enc, store, assembler, videoPath := newTestEncoder(t)

	stats, err := enc.BuildVideo(context.Background(), videoPath)
	if err != nil {
		t.Fatalf("BuildVideo failed: %v", err)
	}
	if stats.Chunks != 0 || stats.Frames != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if assembler.calls != 1 {
		t.Errorf("Expected assembler invoked for empty build, got %d calls", assembler.calls)
	}
	if store.Count() != 0 {
		t.Errorf("Expected empty index, got %d", store.Count())
	}
	if _, err := os.Stat(videoPath); err != nil {
		t.Errorf("Expected empty artifact written: %v", err)
	}
}

func TestBuildVideoConsumesQueueOnce(t *testing.T) {
	enc, store, _, videoPath := newTestEncoder(t)
	enc.AddChunks([]string{"a chunk"})

	if _, err := enc.BuildVideo(context.Background(), videoPath); err != nil {
		t.Fatalf("First build failed: %v", err)
	}
	stats, err := enc.BuildVideo(context.Background(), videoPath)
	if err != nil {
		t.Fatalf("Second build failed: %v", err)
	}
	if stats.Chunks != 0 {
		t.Errorf("Expected second build to see empty queue, got %d chunks", stats.Chunks)
	}
	if store.Count() != 1 {
		t.Errorf("Expected chunk indexed once, got %d", store.Count())
	}
}
