package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	ffmpegBin  = "ffmpeg"
	ffprobeBin = "ffprobe"
)

// FFmpegAssembler implements Assembler by shelling out to ffmpeg.
type FFmpegAssembler struct {
	bin string
	log *slog.Logger
}

// NewFFmpegAssembler creates an assembler using the ffmpeg binary on PATH.
func NewFFmpegAssembler(logger *slog.Logger) *FFmpegAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegAssembler{bin: ffmpegBin, log: logger}
}

// Assemble encodes the frame sequence into outPath. A build with zero
// frames produces an empty artifact rather than an error.
func (a *FFmpegAssembler) Assemble(ctx context.Context, frameDir, pattern, outPath string, preset Preset) error {
	first := filepath.Join(frameDir, fmt.Sprintf(pattern, 0))
	if _, err := os.Stat(first); os.IsNotExist(err) {
		a.log.Info("no frames to assemble, writing empty artifact", "path", outPath)
		return os.WriteFile(outPath, nil, 0o644)
	}

	args := []string{
		"-y",
		"-framerate", strconv.Itoa(preset.FPS),
		"-i", filepath.Join(frameDir, pattern),
		"-c:v", preset.Codec,
		"-pix_fmt", preset.PixelFormat,
	}
	if preset.Bitrate != "" {
		args = append(args, "-b:v", preset.Bitrate)
	} else if preset.CRF >= 0 {
		args = append(args, "-crf", strconv.Itoa(preset.CRF))
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, a.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	a.log.Debug("assembling video", "dir", frameDir, "out", outPath, "preset", preset.Name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg assemble: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// FFmpegSession implements Session by probing the artifact once and using
// ffmpeg's input seeking for each extraction, decoding the still over a
// pipe instead of a temp file.
type FFmpegSession struct {
	path       string
	fps        int
	frameCount int
	log        *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenSession probes the artifact and returns a reusable session.
func OpenSession(path string, preset Preset, logger *slog.Logger) (*FFmpegSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	if info.Size() == 0 {
		// Empty artifact from a zero-chunk build.
		return &FFmpegSession{path: path, fps: preset.FPS, frameCount: 0, log: logger}, nil
	}

	count, err := probeFrameCount(path)
	if err != nil {
		return nil, fmt.Errorf("probe video %s: %w", path, err)
	}

	return &FFmpegSession{
		path:       path,
		fps:        preset.FPS,
		frameCount: count,
		log:        logger,
	}, nil
}

// FrameCount reports the probed frame count.
func (s *FFmpegSession) FrameCount() int {
	return s.frameCount
}

// ExtractFrame decodes the still at frameNumber/fps seconds.
func (s *FFmpegSession) ExtractFrame(ctx context.Context, frameNumber int) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("session closed")
	}
	if frameNumber < 0 || frameNumber >= s.frameCount {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", frameNumber, s.frameCount)
	}

	ts := fmt.Sprintf("%.6f", float64(frameNumber)/float64(s.fps))
	cmd := exec.CommandContext(ctx, ffmpegBin,
		"-v", "error",
		"-ss", ts,
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extract frame %d: %w: %s", frameNumber, err, lastLine(stderr.String()))
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d image: %w", frameNumber, err)
	}
	return img, nil
}

// Close marks the session closed. The exec-based implementation holds no
// long-lived handles.
func (s *FFmpegSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// probeFrameCount counts frames with ffprobe.
func probeFrameCount(path string) (int, error) {
	cmd := exec.Command(ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parse frame count %q: %w", strings.TrimSpace(string(out)), err)
	}
	return count, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

var _ Assembler = (*FFmpegAssembler)(nil)
var _ Session = (*FFmpegSession)(nil)
