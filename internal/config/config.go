// Package config defines the videx configuration surface and its single
// resolution path: built-in defaults, then an optional videx.yaml, then
// VIDEX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile is the config filename looked up next to the artifact.
	DefaultConfigFile = "videx.yaml"
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "VIDEX"
)

// Config holds the full application configuration.
type Config struct {
	Chunking  ChunkingConfig  `mapstructure:"chunking" yaml:"chunking,omitempty"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding,omitempty"`
	Index     IndexConfig     `mapstructure:"index" yaml:"index,omitempty"`
	Video     VideoConfig     `mapstructure:"video" yaml:"video,omitempty"`
	Barcode   BarcodeConfig   `mapstructure:"barcode" yaml:"barcode,omitempty"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval,omitempty"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat,omitempty"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server,omitempty"`
}

// ChunkingConfig controls how source text is split before encoding.
type ChunkingConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
	// Overlap is the character overlap used by the fixed-window fallback.
	Overlap int `mapstructure:"overlap" yaml:"overlap,omitempty"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
	// Model is the embedding model name.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// Dimensions is the embedding vector dimensionality.
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions,omitempty"`
	// OllamaURL is the Ollama API URL.
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url,omitempty"`
	// OpenAIAPIKey can also be set via OPENAI_API_KEY or VIDEX_OPENAI_API_KEY.
	OpenAIAPIKey string `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	// OpenAIBaseURL can also be set via OPENAI_BASE_URL.
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url,omitempty"`
}

// IndexConfig holds the ANN graph parameters.
type IndexConfig struct {
	// Metric is "cosine" or "l2".
	Metric string `mapstructure:"metric" yaml:"metric,omitempty"`
	// Connectivity is the HNSW M parameter.
	Connectivity int `mapstructure:"connectivity" yaml:"connectivity,omitempty"`
	// EFConstruction is the HNSW construction breadth.
	EFConstruction int `mapstructure:"ef_construction" yaml:"ef_construction,omitempty"`
	// CapacityHint pre-sizes the metadata table; zero means no hint.
	CapacityHint int `mapstructure:"capacity_hint" yaml:"capacity_hint,omitempty"`
}

// VideoConfig selects the video codec preset.
type VideoConfig struct {
	// Preset is one of the named presets: "mp4", "mkv-lossless", "webm".
	Preset string `mapstructure:"preset" yaml:"preset,omitempty"`
}

// BarcodeConfig controls QR rendering.
type BarcodeConfig struct {
	// ErrorCorrection is "low", "medium", "high" or "highest".
	ErrorCorrection string `mapstructure:"error_correction" yaml:"error_correction,omitempty"`
	// Size is the rendered barcode edge in pixels.
	Size int `mapstructure:"size" yaml:"size,omitempty"`
	// Border is the quiet-zone width in modules.
	Border int `mapstructure:"border" yaml:"border,omitempty"`
	// Foreground and Background are hex colors, e.g. "#000000".
	Foreground string `mapstructure:"foreground" yaml:"foreground,omitempty"`
	Background string `mapstructure:"background" yaml:"background,omitempty"`
}

// RetrievalConfig controls the retriever and its frame cache.
type RetrievalConfig struct {
	// CacheSize is the maximum number of decoded frames kept (LRU).
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size,omitempty"`
	// Workers bounds concurrent frame decodes.
	Workers int `mapstructure:"workers" yaml:"workers,omitempty"`
	// DecodeBatchSize is the per-dispatch batch size for frame decoding.
	DecodeBatchSize int `mapstructure:"decode_batch_size" yaml:"decode_batch_size,omitempty"`
	// PrefetchCount is an advisory hint; accepted but not enforced.
	PrefetchCount int `mapstructure:"prefetch_count" yaml:"prefetch_count,omitempty"`
	// TimeoutSecs is an advisory per-operation timeout; accepted but not enforced.
	TimeoutSecs int `mapstructure:"timeout_secs" yaml:"timeout_secs,omitempty"`
}

// ChatConfig controls the chat session.
type ChatConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	// ContextChunks is the number of chunks retrieved per user turn.
	ContextChunks int `mapstructure:"context_chunks" yaml:"context_chunks,omitempty"`
	// MaxHistory is the maximum retained non-system messages (kept even).
	MaxHistory int `mapstructure:"max_history" yaml:"max_history,omitempty"`
	// MaxContextChars bounds the concatenated context injected per turn.
	MaxContextChars int `mapstructure:"max_context_chars" yaml:"max_context_chars,omitempty"`
	// Model is the chat completion model.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
}

// ServerConfig holds web API settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	Port int    `mapstructure:"port" yaml:"port,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			ChunkSize: 1024,
			Overlap:   32,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			OllamaURL:  "http://localhost:11434",
		},
		Index: IndexConfig{
			Metric:         "cosine",
			Connectivity:   16,
			EFConstruction: 200,
		},
		Video: VideoConfig{
			Preset: "mp4",
		},
		Barcode: BarcodeConfig{
			ErrorCorrection: "medium",
			Size:            512,
			Border:          4,
			Foreground:      "#000000",
			Background:      "#ffffff",
		},
		Retrieval: RetrievalConfig{
			CacheSize:       1000,
			Workers:         4,
			DecodeBatchSize: 16,
			PrefetchCount:   50,
			TimeoutSecs:     30,
		},
		Chat: ChatConfig{
			SystemPrompt:    "You are a helpful assistant. Answer using the provided context.",
			ContextChunks:   5,
			MaxHistory:      10,
			MaxContextChars: 8000,
			Model:           "gpt-4o-mini",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// Resolve loads the configuration in a single pass: defaults, then the
// config file at path (ignored when missing), then VIDEX_* environment
// variables. An explicit path that cannot be parsed is an error.
func Resolve(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFile, ".yaml"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || os.IsNotExist(err)
		if path != "" || !missing {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the system cannot work with.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Index.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("index.metric must be \"cosine\" or \"l2\", got %q", c.Index.Metric)
	}
	if c.Chunking.ChunkSize < 0 {
		return fmt.Errorf("chunking.chunk_size must not be negative, got %d", c.Chunking.ChunkSize)
	}
	if c.Retrieval.Workers <= 0 {
		return fmt.Errorf("retrieval.workers must be positive, got %d", c.Retrieval.Workers)
	}
	if c.Chat.MaxHistory%2 != 0 {
		return fmt.Errorf("chat.max_history must be even to pair user/assistant turns, got %d", c.Chat.MaxHistory)
	}
	return nil
}

// setDefaults registers every recognized key with its default so viper can
// report the full effective configuration.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("chunking.chunk_size", d.Chunking.ChunkSize)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.ollama_url", d.Embedding.OllamaURL)
	v.SetDefault("embedding.openai_api_key", d.Embedding.OpenAIAPIKey)
	v.SetDefault("embedding.openai_base_url", d.Embedding.OpenAIBaseURL)

	v.SetDefault("index.metric", d.Index.Metric)
	v.SetDefault("index.connectivity", d.Index.Connectivity)
	v.SetDefault("index.ef_construction", d.Index.EFConstruction)
	v.SetDefault("index.capacity_hint", d.Index.CapacityHint)

	v.SetDefault("video.preset", d.Video.Preset)

	v.SetDefault("barcode.error_correction", d.Barcode.ErrorCorrection)
	v.SetDefault("barcode.size", d.Barcode.Size)
	v.SetDefault("barcode.border", d.Barcode.Border)
	v.SetDefault("barcode.foreground", d.Barcode.Foreground)
	v.SetDefault("barcode.background", d.Barcode.Background)

	v.SetDefault("retrieval.cache_size", d.Retrieval.CacheSize)
	v.SetDefault("retrieval.workers", d.Retrieval.Workers)
	v.SetDefault("retrieval.decode_batch_size", d.Retrieval.DecodeBatchSize)
	v.SetDefault("retrieval.prefetch_count", d.Retrieval.PrefetchCount)
	v.SetDefault("retrieval.timeout_secs", d.Retrieval.TimeoutSecs)

	v.SetDefault("chat.system_prompt", d.Chat.SystemPrompt)
	v.SetDefault("chat.context_chunks", d.Chat.ContextChunks)
	v.SetDefault("chat.max_history", d.Chat.MaxHistory)
	v.SetDefault("chat.max_context_chars", d.Chat.MaxContextChars)
	v.SetDefault("chat.model", d.Chat.Model)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
}
