// Package chunker splits raw text into bounded-size units for encoding.
package chunker

import (
	"log/slog"
	"strings"
)

// Config holds chunker settings.
type Config struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// Overlap is the character overlap between adjacent windows when a
	// single sentence has to be split. Sentence-aligned chunks never share
	// sentences; overlap only applies to the fixed-window fallback.
	Overlap int
}

// DefaultConfig returns the default chunker configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 1024,
		Overlap:   32,
	}
}

// Chunker splits text into chunks on sentence boundaries where possible.
type Chunker struct {
	config Config
	log    *slog.Logger
}

// New creates a Chunker. An overlap at or above the chunk size is clamped
// to half the chunk size; a negative overlap is clamped to zero.
func New(cfg Config, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.ChunkSize > 0 && cfg.Overlap >= cfg.ChunkSize {
		clamped := cfg.ChunkSize / 2
		logger.Warn("chunk overlap >= chunk size, clamping",
			"overlap", cfg.Overlap, "chunk_size", cfg.ChunkSize, "clamped", clamped)
		cfg.Overlap = clamped
	}
	return &Chunker{config: cfg, log: logger}
}

// Chunk splits text into ordered, non-empty chunks of at most ChunkSize
// characters where sentence boundaries allow it. Sentences are accumulated
// greedily; a sentence that would overflow the running chunk starts a new
// one, and a sentence longer than ChunkSize on its own falls back to a
// fixed character window (stride = ChunkSize - Overlap, final partial
// window retained). Empty or whitespace-only input and a non-positive
// chunk size both yield no chunks.
func (c *Chunker) Chunk(text string) []string {
	if c.config.ChunkSize <= 0 {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	size := c.config.ChunkSize
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sentence := range splitSentences(text) {
		if len(sentence) > size {
			// The sentence alone overflows; window-split it by itself.
			flush()
			chunks = append(chunks, c.windowSplit(sentence)...)
			continue
		}
		switch {
		case current.Len() == 0:
			current.WriteString(sentence)
		case current.Len()+1+len(sentence) <= size:
			current.WriteByte(' ')
			current.WriteString(sentence)
		default:
			flush()
			current.WriteString(sentence)
		}
	}
	flush()

	return chunks
}

// windowSplit cuts an oversized sentence into fixed character windows.
func (c *Chunker) windowSplit(s string) []string {
	size := c.config.ChunkSize
	stride := size - c.config.Overlap
	if stride <= 0 {
		stride = size
	}

	var out []string
	for start := 0; start < len(s); start += stride {
		end := start + size
		if end >= len(s) {
			out = append(out, s[start:])
			break
		}
		out = append(out, s[start:end])
	}
	return out
}

// splitSentences splits text on sentence-ending punctuation followed by
// whitespace, and on blank-line paragraph breaks. Whitespace inside each
// sentence is normalized to single spaces.
func splitSentences(text string) []string {
	var sentences []string
	for _, para := range splitParagraphs(text) {
		start := 0
		for i := 0; i < len(para); i++ {
			if !isSentenceEnd(para[i]) {
				continue
			}
			// Swallow consecutive terminators (e.g. "?!", "...").
			j := i
			for j+1 < len(para) && isSentenceEnd(para[j+1]) {
				j++
			}
			if j+1 == len(para) || isWhitespace(para[j+1]) {
				if s := normalize(para[start : j+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = j + 1
			}
			i = j
		}
		if s := normalize(para[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// splitParagraphs splits text on blank lines.
func splitParagraphs(text string) []string {
	var paras []string
	var current []string
	blank := true
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if !blank {
				paras = append(paras, strings.Join(current, "\n"))
				current = current[:0]
				blank = true
			}
			continue
		}
		current = append(current, line)
		blank = false
	}
	if !blank {
		paras = append(paras, strings.Join(current, "\n"))
	}
	return paras
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
