package encode

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/taylorskalyo/goreader/epub"
)

// AddPDF extracts plain text from a PDF and queues it through the same
// chunking path as AddText.
func (e *Encoder) AddPDF(path string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return 0, fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return 0, fmt.Errorf("read pdf text %s: %w", path, err)
	}

	return e.AddText(string(text)), nil
}

// AddEPUB extracts plain text from an EPUB, spine order, and queues it.
// A chapter that cannot be opened is skipped with a warning.
func (e *Encoder) AddEPUB(path string) (int, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open epub %s: %w", path, err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return 0, fmt.Errorf("epub %s has no rootfile", path)
	}
	book := rc.Rootfiles[0]

	var sb strings.Builder
	for i, item := range book.Spine.Itemrefs {
		r, err := item.Open()
		if err != nil {
			e.log.Warn("skipping epub chapter", "path", path, "chapter", i, "error", err)
			continue
		}
		content, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			e.log.Warn("skipping epub chapter", "path", path, "chapter", i, "error", err)
			continue
		}
		sb.WriteString(stripHTML(string(content)))
		sb.WriteString("\n\n")
	}

	return e.AddText(sb.String()), nil
}

// AddDirectory walks root and queues every text file, honoring a
// .gitignore at the root when present. It returns the number of chunks
// queued.
func (e *Encoder) AddDirectory(root string) (int, error) {
	var matcher *gitignore.GitIgnore
	if m, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		matcher = m
	}

	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			e.log.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		if !isText(content) {
			return nil
		}

		total += e.AddText(string(content))
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("walk %s: %w", root, err)
	}
	return total, nil
}

// isText checks whether content looks like text rather than binary data.
func isText(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	sample := content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&apos;", "'",
	"&nbsp;", " ",
)

// stripHTML removes markup tags, keeping the text content. Block-level
// closings become newlines so sentence and paragraph structure survives.
func stripHTML(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inTag := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '<':
			inTag = true
			if hasTagPrefix(s[i:], "</p>") || hasTagPrefix(s[i:], "</div>") ||
				hasTagPrefix(s[i:], "<br") || hasTagPrefix(s[i:], "</h") {
				sb.WriteByte('\n')
			}
		case s[i] == '>':
			inTag = false
		case !inTag:
			sb.WriteByte(s[i])
		}
	}
	return htmlEntities.Replace(sb.String())
}

func hasTagPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
