// Command realtimecore is the main entry point for the realtime-core
// meeting-companion ingest/recap server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notemesh/realtime-core/internal/app"
	"github.com/notemesh/realtime-core/internal/config"
	"github.com/notemesh/realtime-core/internal/observe"
	"github.com/notemesh/realtime-core/pkg/provider/embeddings"
	embeddingsmock "github.com/notemesh/realtime-core/pkg/provider/embeddings/mock"
	embeddingsollama "github.com/notemesh/realtime-core/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/notemesh/realtime-core/pkg/provider/embeddings/openai"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
	"github.com/notemesh/realtime-core/pkg/provider/llm/anyllm"
	llmmock "github.com/notemesh/realtime-core/pkg/provider/llm/mock"
	"github.com/notemesh/realtime-core/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ─────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "realtimecore: config file %q not found — pass an existing YAML file with -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "realtimecore: %v\n", err)
		}
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("realtimecore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ─────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "realtime-core"}); err != nil {
		slog.Warn("metrics provider init failed — continuing without OTel export", "err", err)
	}

	// ── Provider registry ──────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	printStartupSummary(cfg)

	// ── Application wiring ─────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.WithRegistry(reg))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	filesDir := ""
	if cfg.ObjectStore.Backend == "" || cfg.ObjectStore.Backend == "local" {
		filesDir = cfg.ObjectStore.LocalDir
	}
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: application.Gateway().Router(filesDir)}
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ─────────────────────────────────────────────────────────

// registerBuiltinProviders registers every LLM and embeddings factory this
// binary ships with. Provider names not registered here simply fail with
// [config.ErrProviderNotRegistered] when referenced from the config file.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.New(entry.APIKey, entry.Model)
	})
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		return anyllm.New(entry.Backend, entry.Model)
	})
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(entry.APIKey, entry.Model)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsollama.New(entry.BaseURL, entry.Model)
	})
	reg.RegisterEmbeddings("mock", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embeddingsmock.Provider{}, nil
	})

	for kind, names := range map[string][]string{
		"llm":        {"openai", "anyllm", "mock"},
		"embeddings": {"openai", "ollama", "mock"},
	} {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      realtime-core — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.LLM.Name, cfg.LLM.Model)
	printProvider("Embeddings", cfg.Embeddings.Name, cfg.Embeddings.Model)
	printProvider("STT", sttName(cfg), "")
	printProvider("Object store", cfg.ObjectStore.Backend, "")
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func sttName(cfg *config.Config) string {
	if !cfg.STT.Enabled {
		return ""
	}
	return "batch-asr"
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ───────────────────────────────────────────────────────────────────

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
