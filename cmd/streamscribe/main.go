// Command streamscribe is the main entry point for the streaming
// transcription server.
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

	"github.com/riftcast/streamscribe/internal/app"
	"github.com/riftcast/streamscribe/internal/config"
	"github.com/riftcast/streamscribe/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	rawCfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamscribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		}
		return 1
	}
	filled := config.WithDefaults(*rawCfg)
	cfg := &filled

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("streamscribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"asr_endpoint", cfg.Asr.Endpoint,
	)

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "streamscribe",
	})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	printStartupSummary(cfg)

	// ── Application wiring ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, metrics)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config) {
		slog.SetDefault(newLogger(newCfg.Server.LogLevel))
		application.ApplyConfig(newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled: initial watch failed", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      streamscribe — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Route prefix    : %-19s ║\n", cfg.Server.RoutePrefix)
	fmt.Printf("║  ASR endpoint    : %-19s ║\n", truncate(cfg.Asr.Endpoint, 19))
	fmt.Printf("║  ASR pool size   : %-19d ║\n", cfg.Asr.PoolSize)
	fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Session.MaxSessions)
	fmt.Printf("║  Target rate     : %-15d Hz ║\n", cfg.Target.SampleRateHz)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
