// Command trunkline is the main entry point for the Trunkline phone gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/trunkline/internal/app"
	"github.com/MrWong99/trunkline/internal/config"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/pkg/provider/s2s"
	geminilive "github.com/MrWong99/trunkline/pkg/provider/s2s/gemini"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	validate := flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	// A .env file beside the binary supplies API keys during development.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "trunkline: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "trunkline: %v\n", err)
		}
		return 1
	}
	if *validate {
		fmt.Printf("trunkline: configuration %q is valid\n", *configPath)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	slog.Info("trunkline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Log.Level,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	registry := config.NewRegistry()
	registerBuiltinProviders(registry)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, registry,
		app.WithLogLevel(logLevel),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the AI provider factories that ship with
// Trunkline into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterAI("gemini-live", func(cfg config.AIConfig) (s2s.Provider, error) {
		var opts []geminilive.Option
		if cfg.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.BaseURL))
		}
		return geminilive.New(cfg.ResolveAPIKey(), opts...), nil
	})

	for _, name := range config.ValidProviderNames["ai"] {
		slog.Debug("registered provider", "kind", "ai", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Trunkline — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("AI provider", providerSummary(cfg.AI))
	printRow("Voice", cfg.AI.Voice)
	printRow("Greeting", string(cfg.Agent.Greeting))
	printRow("Scheduling", enabledSummary(cfg.Scheduling.BaseURL != "", cfg.Scheduling.BaseURL))
	printRow("Store", storeSummary(cfg.Store))
	printRow("Summaries", enabledSummary(cfg.Summary.Enabled, cfg.Summary.Model))
	printRow("Discord", enabledSummary(cfg.Discord.Token != "", "connected"))
	printRow("Media endpoint", cfg.Server.ListenAddr+cfg.Server.MediaPath)
	printRow("Ops endpoint", cfg.Server.OpsListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

func providerSummary(ai config.AIConfig) string {
	if ai.Model == "" {
		return ai.Provider
	}
	return ai.Provider + " / " + ai.Model
}

func storeSummary(store config.StoreConfig) string {
	if store.Driver == config.StoreNone {
		return "(disabled)"
	}
	return string(store.Driver)
}

func enabledSummary(enabled bool, detail string) string {
	if !enabled {
		return "(disabled)"
	}
	return detail
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity at runtime.
func newLogger(level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(level.Slog())

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == config.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), lvl
}
