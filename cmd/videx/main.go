package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/videx/internal/chat"
	"github.com/abdul-hamid-achik/videx/internal/chunker"
	"github.com/abdul-hamid-achik/videx/internal/config"
	"github.com/abdul-hamid-achik/videx/internal/embed"
	"github.com/abdul-hamid-achik/videx/internal/encode"
	"github.com/abdul-hamid-achik/videx/internal/frame"
	"github.com/abdul-hamid-achik/videx/internal/index"
	"github.com/abdul-hamid-achik/videx/internal/retrieve"
	"github.com/abdul-hamid-achik/videx/internal/version"
	"github.com/abdul-hamid-achik/videx/internal/video"
	"github.com/abdul-hamid-achik/videx/internal/web"
)

const embedCacheSize = 1024

var (
	flagConfig  string
	flagVerbose bool
	flagJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "videx",
	Short:   "Encode text as barcode video, retrieve it semantically",
	Version: version.Full(),
	Long: `videx stores text knowledge as barcode frames inside a video file,
paired with an embedding index for semantic retrieval.

Encode documents into a video artifact, then search or chat over it.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("videx %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

var encodeCmd = &cobra.Command{
	Use:   "encode [paths...]",
	Short: "Encode text into a video artifact",
	Long: `Encode text sources into a barcode video plus its retrieval index.
Paths may be text files, PDFs, EPUBs or directories (directories are
walked recursively, honoring a root .gitignore). Inline text can be
added with --text.`,
	RunE: runEncode,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search an encoded video semantically",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat over an encoded video",
	Long: `Chat over the knowledge in an encoded video. With a message argument
it answers once and exits; without one it starts an interactive session.
Without an LLM API key the session runs in context-only mode and
returns the retrieved context directly.`,
	RunE: runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search and chat over HTTP",
	RunE:  runServe,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show artifact and index statistics",
	RunE:  runStats,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

var (
	flagVideo     string
	flagText      []string
	flagChunkSize int
	flagOverlap   int
	flagPreset    string
	flagTopK      int
	flagStream    bool
	flagNoLLM     bool
	flagHost      string
	flagPort      int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default videx.yaml in the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	encodeCmd.Flags().StringVarP(&flagVideo, "output", "o", "memory.mp4", "output video path")
	encodeCmd.Flags().StringArrayVar(&flagText, "text", nil, "inline text to encode (repeatable)")
	encodeCmd.Flags().IntVar(&flagChunkSize, "chunk-size", 0, "target chunk size in characters")
	encodeCmd.Flags().IntVar(&flagOverlap, "overlap", 0, "fallback window overlap in characters")
	encodeCmd.Flags().StringVar(&flagPreset, "preset", "", "video preset: "+strings.Join(video.PresetNames(), ", "))
	encodeCmd.Flags().BoolVar(&flagJSON, "json", false, "print build stats as JSON")

	searchCmd.Flags().StringVarP(&flagVideo, "video", "i", "memory.mp4", "encoded video path")
	searchCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 5, "number of results")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")

	chatCmd.Flags().StringVarP(&flagVideo, "video", "i", "memory.mp4", "encoded video path")
	chatCmd.Flags().BoolVar(&flagStream, "stream", false, "stream the response as it is generated")
	chatCmd.Flags().BoolVar(&flagNoLLM, "no-llm", false, "context-only mode, skip the LLM")

	serveCmd.Flags().StringVarP(&flagVideo, "video", "i", "memory.mp4", "encoded video path")
	serveCmd.Flags().StringVar(&flagHost, "host", "", "listen host")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "listen port")

	statsCmd.Flags().StringVarP(&flagVideo, "video", "i", "memory.mp4", "encoded video path")
	statsCmd.Flags().BoolVar(&flagJSON, "json", false, "print stats as JSON")

	rootCmd.AddCommand(versionCmd, encodeCmd, searchCmd, chatCmd, serveCmd, statsCmd, configCmd)
}

// setup resolves configuration and builds the root logger.
func setup() (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Resolve(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// indexBase derives the index snapshot base path from the video path by
// stripping its extension: memory.mp4 owns memory.ann and memory.json.
func indexBase(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
}

func newProvider(cfg *config.Config, logger *slog.Logger) (embed.Provider, error) {
	var p embed.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		op, err := embed.NewOpenAIProvider(embed.OpenAIConfig{
			APIKey:     cfg.Embedding.OpenAIAPIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			BaseURL:    cfg.Embedding.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		p = op
	case "ollama":
		p = embed.NewOllamaProvider(embed.OllamaConfig{
			URL:        cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	cached, err := embed.WithCache(p, embedCacheSize)
	if err != nil {
		return nil, err
	}
	logger.Debug("embedding provider ready", "provider", cfg.Embedding.Provider, "model", p.Model())
	return cached, nil
}

func newCodec(cfg *config.Config) (frame.BarcodeCodec, error) {
	return frame.NewQRCodec(frame.QRConfig{
		ErrorCorrection: cfg.Barcode.ErrorCorrection,
		Size:            cfg.Barcode.Size,
		Border:          cfg.Barcode.Border,
		Foreground:      cfg.Barcode.Foreground,
		Background:      cfg.Barcode.Background,
	})
}

func newStore(cfg *config.Config, basePath string, provider embed.Provider, logger *slog.Logger) (*index.Store, error) {
	return index.New(index.Config{
		BasePath:       basePath,
		Dimensions:     cfg.Embedding.Dimensions,
		Metric:         cfg.Index.Metric,
		Connectivity:   cfg.Index.Connectivity,
		EFConstruction: cfg.Index.EFConstruction,
		CapacityHint:   cfg.Index.CapacityHint,
	}, provider, logger)
}

func newRetriever(cfg *config.Config, videoPath string, logger *slog.Logger) (*retrieve.Retriever, error) {
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}
	preset, err := video.PresetByName(cfg.Video.Preset)
	if err != nil {
		return nil, err
	}

	return retrieve.New(retrieve.Config{
		CacheSize:       cfg.Retrieval.CacheSize,
		Workers:         cfg.Retrieval.Workers,
		DecodeBatchSize: cfg.Retrieval.DecodeBatchSize,
		PrefetchCount:   cfg.Retrieval.PrefetchCount,
		TimeoutSecs:     cfg.Retrieval.TimeoutSecs,
	}, retrieve.Deps{
		OpenStore: func(ctx context.Context) (*index.Store, error) {
			return newStore(cfg, indexBase(videoPath), provider, logger)
		},
		OpenSession: func(ctx context.Context) (video.Session, error) {
			return video.OpenSession(videoPath, preset, logger)
		},
		Codec: codec,
	}, logger)
}

func newChatSession(cfg *config.Config, retriever *retrieve.Retriever, logger *slog.Logger) (*chat.Session, error) {
	var llm chat.LLM
	if !flagNoLLM {
		client, err := chat.NewOpenAIClient(chat.OpenAIConfig{Model: cfg.Chat.Model})
		if err != nil {
			logger.Warn("LLM unavailable, falling back to context-only chat", "error", err)
		} else {
			llm = client
		}
	}

	return chat.NewSession(chat.Config{
		SystemPrompt:    cfg.Chat.SystemPrompt,
		ContextChunks:   cfg.Chat.ContextChunks,
		MaxHistory:      cfg.Chat.MaxHistory,
		MaxContextChars: cfg.Chat.MaxContextChars,
		Model:           cfg.Chat.Model,
	}, retriever, llm, logger)
}

func runEncode(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if len(args) == 0 && len(flagText) == 0 {
		return fmt.Errorf("nothing to encode: pass paths or --text")
	}

	if flagChunkSize > 0 {
		cfg.Chunking.ChunkSize = flagChunkSize
	}
	if cmd.Flags().Changed("overlap") {
		cfg.Chunking.Overlap = flagOverlap
	}
	if flagPreset != "" {
		cfg.Video.Preset = flagPreset
	}

	preset, err := video.PresetByName(cfg.Video.Preset)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	store, err := newStore(cfg, indexBase(flagVideo), provider, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	enc := encode.New(store, codec, video.NewFFmpegAssembler(logger), preset, chunker.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
	}, logger)

	for _, text := range flagText {
		enc.AddText(text)
	}
	for _, path := range args {
		if err := addPath(enc, path); err != nil {
			return err
		}
	}

	stats, err := enc.BuildVideo(cmd.Context(), flagVideo)
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	fmt.Printf("Encoded %d chunks into %d frames (%d skipped) in %s\n",
		stats.Chunks, stats.Frames, stats.Skipped, stats.Duration.Round(1e6))
	fmt.Printf("  video: %s\n", flagVideo)
	fmt.Printf("  index: %s.ann, %s.json\n", indexBase(flagVideo), indexBase(flagVideo))
	return nil
}

// addPath routes one CLI path argument to the matching ingest method.
func addPath(enc *encode.Encoder, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		_, err := enc.AddDirectory(path)
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		_, err := enc.AddPDF(path)
		return err
	case ".epub":
		_, err := enc.AddEPUB(path)
		return err
	default:
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		enc.AddText(string(content))
		return nil
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")

	retriever, err := newRetriever(cfg, flagVideo, logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	results, err := retriever.SearchWithMetadata(cmd.Context(), query, flagTopK)
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, res := range results {
		fmt.Printf("%d. [frame %d, score %.3f]\n", i+1, res.Frame, res.Score)
		fmt.Printf("   %s\n\n", strings.ReplaceAll(res.Text, "\n", "\n   "))
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	retriever, err := newRetriever(cfg, flagVideo, logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	session, err := newChatSession(cfg, retriever, logger)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		return chatOnce(cmd.Context(), session, strings.Join(args, " "))
	}
	return chatLoop(cmd.Context(), session)
}

func chatOnce(ctx context.Context, session *chat.Session, message string) error {
	if flagStream {
		_, err := session.AskStream(ctx, message, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		return err
	}
	reply, err := session.Ask(ctx, message)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func chatLoop(ctx context.Context, session *chat.Session) error {
	fmt.Println("Interactive chat. Type /reset to clear history, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			fmt.Println("History cleared.")
			continue
		}

		if err := chatOnce(ctx, session, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}

	retriever, err := newRetriever(cfg, flagVideo, logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	session, err := newChatSession(cfg, retriever, logger)
	if err != nil {
		return err
	}

	server := web.NewServer(web.ServerConfig{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Retriever: retriever,
		Session:   session,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	retriever, err := newRetriever(cfg, flagVideo, logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	if err := retriever.Ready(cmd.Context()); err != nil {
		return err
	}

	stats := retriever.Store().Stats()
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
