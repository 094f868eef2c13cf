// Parley is a Telegram relay for local language models.
//
// It long-polls the Telegram Bot API, keeps durable per-conversation
// history in SQLite, decides whether each group message deserves a
// reply, completes via an Ollama backend with a bounded tool-calling
// loop, and delivers long answers in sentence-aligned chunks.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley serve             Start the bot
//	parley init [dir]        Write a starter config.yaml
//	parley ask <question>    Ask a single question (for testing)
//	parley version           Print version and build information
//	parley -o json version   Output version information as JSON
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
	"time"

	"github.com/joho/godotenv"

	"github.com/parleybot/parley/internal/agent"
	"github.com/parleybot/parley/internal/buildinfo"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/events"
	"github.com/parleybot/parley/internal/gate"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/prompt"
	"github.com/parleybot/parley/internal/telegram"
	"github.com/parleybot/parley/internal/tools"
	"github.com/parleybot/parley/internal/web"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible
// to call run concurrently from tests, and the argument surface here
// is small.
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
			return fmt.Errorf("usage: parley ask <question>")
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

// runServe is the primary operating mode: loads config, opens the
// history store, wires the pipeline, starts the Telegram bridge and
// the optional web server, and blocks until a shutdown signal.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	// Secrets like BOT_TOKEN usually live in a .env file next to the
	// binary. Absence is fine.
	_ = godotenv.Load()

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("BOT_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting "+buildinfo.String(),
		"config", cfgPath,
		"chat_model", cfg.Models.Chat,
		"decision_model", cfg.DecisionModel(),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := history.Open(filepath.Join(cfg.DataDir, "parley.db"))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	llmClient := llm.New(llm.Config{
		BaseURL: cfg.Models.OllamaURL,
		Options: cfg.Models.Options,
		Stream:  cfg.Stream,
		Logger:  logger,
	})
	if err := llmClient.Ping(ctx); err != nil {
		logger.Warn("ollama backend unreachable at startup, continuing anyway",
			"url", cfg.Models.OllamaURL,
			"error", err,
		)
	}

	bus := events.New()
	registry := tools.NewRegistry()
	decisionGate := gate.New(llmClient, cfg.DecisionModel(), logger)

	tgClient := telegram.NewClient(telegram.ClientConfig{
		Token:          cfg.Telegram.Token,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
		Logger:         logger,
	})

	engine := agent.New(store, decisionGate, llmClient, registry, telegram.NewTransport(tgClient), bus, agent.Config{
		Model:         cfg.Models.Chat,
		SystemPrompt:  prompt.WithTools(cfg.SystemPrompt, registry.Describe()),
		MaxToolRounds: cfg.Tools.MaxRounds,
	}, logger)

	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Client:   tgClient,
		Runner:   engine,
		Logger:   logger,
		Bus:      bus,
		Username: cfg.Telegram.Username,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web.Address, cfg.Web.Port, store, bus, logger)
		go func() {
			if err := webServer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("web server failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		if webServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = webServer.Shutdown(shutdownCtx)
		}
	}()

	// The bridge blocks until ctx is cancelled.
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("telegram bridge failed: %w", err)
	}

	logger.Info("Parley stopped")
	return nil
}

// runAsk boots a minimal pipeline (temporary history, no transport)
// and answers a single question on stdout. Useful for smoke-testing a
// model and config without touching Telegram.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	llmClient := llm.New(llm.Config{
		BaseURL: cfg.Models.OllamaURL,
		Options: cfg.Models.Options,
		Logger:  logger,
	})

	messages := []llm.Message{
		{Role: "system", Content: cfg.SystemPrompt},
		{Role: "user", Content: question},
	}
	reply, err := llmClient.Complete(ctx, cfg.Models.Chat, messages)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply)
	return nil
}

// starterConfig is written by "parley init".
const starterConfig = `# Parley configuration.
telegram:
  # Bot token from @BotFather. ${BOT_TOKEN} is expanded from the
  # environment (or a .env file) so the secret stays out of this file.
  token: ${BOT_TOKEN}
  # Bot username without the @, for mention detection in groups.
  username: ""

models:
  chat: gemma3:4b
  # Cheaper model for the reply/observe decision; defaults to chat.
  decision: ""
  ollama_url: http://localhost:11434
  # Free-form model options passed straight to the backend.
  options: {}

tools:
  max_rounds: 3

web:
  enabled: false
  port: 8321

system_prompt: "You are a helpful assistant. Answer questions clearly and concisely."
stream: true
data_dir: data
log_level: info
log_format: text
`

// runInit writes a starter configuration into dir, refusing to
// overwrite an existing file.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(stdout, "Wrote %s\n", path)
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

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Telegram relay for local language models")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bot")
	fmt.Fprintln(w, "  init [dir]   Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml")
	return nil
}

// newLogger creates a structured logger writing to w at the given
// level and format. Format must be "text" or "json"; anything else
// falls back to text.
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
