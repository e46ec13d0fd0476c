// Apex is a personal AI assistant with long-term memory.
//
// It exposes a simple chat API, an OpenAI-compatible completions
// endpoint for external integrations, and a CLI for one-shot
// questions. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	apex serve              Start the API server
//	apex ask <question>     Ask a single question (for testing)
//	apex version            Print version and build information
//	apex -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/agent"
	"github.com/SalihTalhaAydin/apex/internal/api"
	"github.com/SalihTalhaAydin/apex/internal/buildinfo"
	"github.com/SalihTalhaAydin/apex/internal/config"
	"github.com/SalihTalhaAydin/apex/internal/embeddings"
	"github.com/SalihTalhaAydin/apex/internal/events"
	"github.com/SalihTalhaAydin/apex/internal/facts"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/llm"
	"github.com/SalihTalhaAydin/apex/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the apex command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface is small enough
// that manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: apex ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Apex - Personal AI Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: apex [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk boots a minimal assistant (in-memory database, no extractor,
// no event bus) and processes a single question, printing the response
// to stdout. Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Nothing to persist for a one-shot question.
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("open in-memory database: %w", err)
	}
	defer db.Close()

	hist, factStore, err := openStores(db, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, factStore)

	llmClient := createLLMClient(cfg)
	builder := agent.NewContextBuilder(hist, factStore, cfg, logger)
	orch := agent.NewOrchestrator(hist, builder, llmClient, registry, nil, nil, cfg, logger)

	response, err := orch.Handle(ctx, question, history.DefaultSession)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, response)
	return nil
}

// runServe is the primary operating mode: loads config, opens the
// database, wires the stores, agent, extractor, and API server, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Apex", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Models.Provider,
		"model", cfg.Models.Default,
	)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	// One SQLite database holds both conversation history and facts.
	// WAL mode lets the background extractor write while a foreground
	// turn reads.
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer db.Close()

	hist, factStore, err := openStores(db, logger)
	if err != nil {
		return err
	}
	logger.Info("database opened", "path", cfg.DBPath)

	if cfg.Embeddings.Enabled {
		baseURL := cfg.Embeddings.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.OllamaURL
		}
		factStore.SetEmbedder(embeddings.New(embeddings.Config{
			BaseURL: baseURL,
			Model:   cfg.Embeddings.Model,
		}))
		logger.Info("embeddings enabled", "model", cfg.Embeddings.Model)
	} else {
		logger.Warn("embeddings disabled, fact search degrades to keyword matching")
	}

	llmClient := createLLMClient(cfg)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		logger.Warn("completion provider unreachable at startup", "error", err)
	}
	pingCancel()

	bus := events.New()
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, factStore)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor := facts.NewExtractor(factStore, llmClient, cfg.Models.Extraction, bus, logger)
	extractor.Start(ctx)

	builder := agent.NewContextBuilder(hist, factStore, cfg, logger)
	orch := agent.NewOrchestrator(hist, builder, llmClient, registry, extractor, bus, cfg, logger)
	server := api.NewServer(orch, hist, factStore, registry, bus, cfg, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Apex stopped")
	return nil
}

// openStores runs migrations and returns both stores over the shared
// database handle.
func openStores(db *sql.DB, logger *slog.Logger) (*history.Store, *facts.Store, error) {
	hist, err := history.NewStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("open conversation store: %w", err)
	}
	factStore, err := facts.NewStore(db, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open fact store: %w", err)
	}
	return hist, factStore, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// createLLMClient selects the completion provider from config. Ollama
// is the default backend; OpenAI (or any compatible endpoint) is used
// when configured.
func createLLMClient(cfg *config.Config) llm.Client {
	if cfg.Models.Provider == "openai" {
		return llm.NewOpenAIClient(cfg.Models.OpenAIBaseURL, cfg.Models.OpenAIAPIKey)
	}
	return llm.NewOllamaClient(cfg.Models.OllamaURL)
}
