package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/planscout/research-agent/internal/api"
	"github.com/planscout/research-agent/internal/config"
	"github.com/planscout/research-agent/internal/conflict"
	"github.com/planscout/research-agent/internal/llm"
	"github.com/planscout/research-agent/internal/research"
	"github.com/planscout/research-agent/internal/store"
	"github.com/planscout/research-agent/internal/websearch"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("research-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `research-agent

Usage:
  research-agent init [flags]
  research-agent run [flags]
  research-agent version

Commands:
  init        Write a starter config file (credentials are read from env vars unless set in the file).
  run         Run the research agent HTTP server.
  version     Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Fprintf(os.Stderr, "config already exists: %s\n", *configPath)
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Save(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s. Run `research-agent run`.\n", *configPath)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	listenAddr := fs.String("listen", "", "Listen address (overrides config)")
	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error (overrides config)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*listenAddr) != "" {
		cfg.ListenAddr = *listenAddr
	}
	if strings.TrimSpace(*logLevel) != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(*logFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := llm.NewProvider(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		GeminiAPIKeys:   cfg.LLM.GeminiAPIKeys,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
	})
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	search := websearch.NewClient(cfg.Search.Provider, cfg.Search.APIKey, cfg.SearchCacheTTL(), log)

	backoff := llm.BackoffConfig{
		Throttle: llm.NewThrottler(time.Second, 2*time.Second),
		Cache:    llm.NewResponseCache(time.Hour),
	}
	seq := research.NewSequencer(provider, search, db, conflict.NewDetector(0), backoff, log)
	orch := research.NewOrchestrator(seq, db, db, cfg.SessionTTL(), log)

	// Expired sessions are dropped lazily on load; this sweep keeps the db
	// from accumulating sessions nobody revisits.
	go purgeLoop(ctx, db, cfg.SessionTTL(), log)

	srv := api.NewServer(orch, db, log)
	log.Info("research agent starting",
		"version", Version,
		"llm_provider", cfg.LLM.Provider,
		"search_provider", cfg.Search.Provider,
		"db_path", cfg.DBPath,
	)
	return srv.Start(ctx, cfg.ListenAddr)
}

func purgeLoop(ctx context.Context, db *store.Store, ttl time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpiredSessions(ctx, ttl)
			if err != nil {
				log.Warn("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged expired sessions", "count", n)
			}
		}
	}
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
