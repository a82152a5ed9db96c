// meAI is a conversational personal-assistant backend.
//
// It exposes a conversation HTTP API with a WebSocket message stream,
// classifies each user message against the connected toolkits, and
// drives tool execution through an external gateway. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	meai serve               Start the API server
//	meai init [dir]          Initialize a working directory with defaults
//	meai ask <question>      Ask a single question (for testing)
//	meai version             Print version and build information
//	meai -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/meai/backend/internal/agent"
	"github.com/meai/backend/internal/assembler"
	"github.com/meai/backend/internal/buildinfo"
	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/embeddings"
	"github.com/meai/backend/internal/events"
	"github.com/meai/backend/internal/intent"
	"github.com/meai/backend/internal/llm"
	"github.com/meai/backend/internal/store"
	"github.com/meai/backend/internal/summarizer"
	"github.com/meai/backend/internal/toolkits"
	"github.com/meai/backend/internal/usage"
	"github.com/meai/backend/internal/vectorstore"
	"github.com/meai/backend/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the meai command. All OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle. We parse arguments by hand rather than using the flag
// package to avoid global state that interferes with parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
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
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: meai ask <question>")
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

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "meAI - Conversational Personal Assistant Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: meai [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/meai/config.yaml, /etc/meai/config.yaml")
	return nil
}

// runVersion prints build metadata in the requested output format.
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

// defaultConfig is written by "meai init" as a starting point.
const defaultConfig = `# meAI backend configuration
listen:
  port: 8080

llm:
  provider: anthropic # or: ollama
  model: claude-sonnet-4-20250514
  anthropic_api_key: ""
  # ollama_url: http://localhost:11434

embeddings:
  provider: gemini # or: ollama
  model: gemini-embedding-001
  api_key: ""

gateway:
  base_url: ""
  api_key: ""

data_dir: data
log_level: info
`

// runInit writes a default config.yaml into dir, refusing to overwrite.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(stdout, "Wrote %s — fill in your API keys and run: meai serve\n", path)
	return nil
}

// buildPipeline constructs the full turn pipeline from config. The
// returned cleanup closes the stores.
func buildPipeline(ctx context.Context, cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*agent.Agent, *store.Store, *vectorstore.Store, *usage.Store, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(filepath.Join(cfg.DataDir, "meai.db"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open message store: %w", err)
	}

	vectors, err := vectorstore.New(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	meter, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("open usage store: %w", err)
	}

	embedder, err := embeddings.New(ctx, embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		OllamaURL: cfg.Embeddings.OllamaURL,
	}, logger)
	if err != nil {
		st.Close()
		meter.Close()
		return nil, nil, nil, nil, nil, err
	}

	client, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OllamaURL:       cfg.LLM.OllamaURL,
	}, logger)
	if err != nil {
		st.Close()
		meter.Close()
		return nil, nil, nil, nil, nil, err
	}

	asm := assembler.New(st, vectors, embedder, cfg.Context, logger)
	classifier := intent.New(usage.Metered(client, meter, usage.PurposeClassifier, logger), logger)
	summ := summarizer.New(st, usage.Metered(client, meter, usage.PurposeSummary, logger), cfg.Summary, bus, logger)
	gateway := toolkits.NewClient(cfg.Gateway, logger)

	turnClient := usage.Metered(client, meter, usage.PurposeTurn, logger)
	ag := agent.New(st, vectors, embedder, asm, classifier, summ, gateway, turnClient, bus, cfg, logger)
	cleanup := func() {
		st.Close()
		meter.Close()
	}
	return ag, st, vectors, meter, cleanup, nil
}

// runAsk boots a minimal pipeline and processes a single question in a
// throwaway conversation, printing the streamed response to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ag, st, _, _, cleanup, err := buildPipeline(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	conv, err := st.CreateConversation(ctx, "cli", "ask")
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	err = ag.HandleMessage(ctx, conv, question, func(ev agent.TurnEvent) bool {
		switch ev.Type {
		case agent.EventAI:
			fmt.Fprint(stdout, ev.Content)
		case agent.EventToolStart, agent.EventToolSuccess, agent.EventToolError:
			fmt.Fprintf(stdout, "\n[%s] %s\n", ev.ToolName, ev.Content)
		case agent.EventLastChunk:
			fmt.Fprintln(stdout)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// runServe is the primary operating mode: load config, open stores,
// build the turn pipeline, start the API server, and block until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting meAI", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"llm_provider", cfg.LLM.Provider,
		"embeddings_provider", cfg.Embeddings.Provider,
	)

	bus := events.New()
	ag, st, vectors, meter, cleanup, err := buildPipeline(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := web.NewServer(cfg, ag, st, vectors, meter, bus, logger)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("meAI stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output in meAI goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig discovers and loads the config file.
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
