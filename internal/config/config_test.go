package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir changes into dir for the duration of the test, mirroring t.Chdir
// (which requires Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestResolveDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no videx.yaml anywhere nearby

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	d := Default()
	if cfg.Chunking.ChunkSize != d.Chunking.ChunkSize {
		t.Errorf("Expected default chunk size %d, got %d", d.Chunking.ChunkSize, cfg.Chunking.ChunkSize)
	}
	if cfg.Index.Metric != "cosine" {
		t.Errorf("Expected default metric cosine, got %q", cfg.Index.Metric)
	}
	if cfg.Video.Preset != "mp4" {
		t.Errorf("Expected default preset mp4, got %q", cfg.Video.Preset)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestResolveConfigFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := `
chunking:
  chunk_size: 256
embedding:
  provider: openai
  dimensions: 1536
video:
  preset: webm
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Chunking.ChunkSize != 256 {
		t.Errorf("Expected chunk size 256, got %d", cfg.Chunking.ChunkSize)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("Expected openai/1536, got %s/%d", cfg.Embedding.Provider, cfg.Embedding.Dimensions)
	}
	if cfg.Video.Preset != "webm" {
		t.Errorf("Expected preset webm, got %q", cfg.Video.Preset)
	}
	// Untouched keys keep their defaults.
	if cfg.Retrieval.Workers != Default().Retrieval.Workers {
		t.Errorf("Expected default workers, got %d", cfg.Retrieval.Workers)
	}
}

func TestResolveExplicitMissingFileFails(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for explicitly named missing config file")
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("VIDEX_INDEX_METRIC", "l2")
	t.Setenv("VIDEX_RETRIEVAL_CACHE_SIZE", "42")

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Index.Metric != "l2" {
		t.Errorf("Expected env metric override l2, got %q", cfg.Index.Metric)
	}
	if cfg.Retrieval.CacheSize != 42 {
		t.Errorf("Expected env cache size 42, got %d", cfg.Retrieval.CacheSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}

	cfg = Default()
	cfg.Embedding.Dimensions = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero dimensions")
	}

	cfg = Default()
	cfg.Index.Metric = "dot"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown metric")
	}

	cfg = Default()
	cfg.Retrieval.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero workers")
	}

	cfg = Default()
	cfg.Chat.MaxHistory = 7
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for odd max history")
	}
}
