package video

import (
	"context"
	"image"
)

// Assembler builds one video artifact from a directory of ordered frame
// images. It is invoked once per build.
type Assembler interface {
	// Assemble encodes the frames matching pattern (a printf-style
	// sequence pattern such as "frame_%06d.png") under frameDir into a
	// single artifact at outPath using the given preset.
	Assemble(ctx context.Context, frameDir, pattern, outPath string, preset Preset) error
}

// Session is a stateful handle over an existing video artifact supporting
// repeated seek+extract. ExtractFrame must be safe for concurrent calls;
// the retriever decodes frames from multiple goroutines.
type Session interface {
	// FrameCount reports the number of frames in the artifact.
	FrameCount() int

	// ExtractFrame decodes the single still image at the given frame
	// number (playback position frameNumber/FPS seconds).
	ExtractFrame(ctx context.Context, frameNumber int) (image.Image, error)

	// Close releases any resources held by the session.
	Close() error
}
