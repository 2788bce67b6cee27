// Package app wires all realtime-core subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks until its context is cancelled (per-session work
// runs on the gateway's connection goroutines), and Shutdown tears
// everything down in order.
//
// For testing, inject replacement implementations via functional options
// (WithStore, WithLLM, etc.). When an option is not provided, New creates a
// real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/notemesh/realtime-core/internal/audiorotor"
	"github.com/notemesh/realtime-core/internal/bus"
	"github.com/notemesh/realtime-core/internal/capture"
	"github.com/notemesh/realtime-core/internal/config"
	"github.com/notemesh/realtime-core/internal/gateway"
	"github.com/notemesh/realtime-core/internal/objectstore"
	"github.com/notemesh/realtime-core/internal/observe"
	"github.com/notemesh/realtime-core/internal/qna"
	"github.com/notemesh/realtime-core/internal/recap"
	"github.com/notemesh/realtime-core/internal/resilience"
	"github.com/notemesh/realtime-core/internal/session"
	"github.com/notemesh/realtime-core/internal/store/postgres"
	"github.com/notemesh/realtime-core/internal/stt"
	"github.com/notemesh/realtime-core/internal/videodetect"
	"github.com/notemesh/realtime-core/internal/window"
	"github.com/notemesh/realtime-core/pkg/provider/embeddings"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

// App owns all subsystem lifetimes and orchestrates the ingest/recap pipeline.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	bus      *bus.Bus
	sessions *session.Registry
	store    *postgres.Store
	objects  objectstore.Store

	llmProvider llm.Provider
	embedder    embeddings.Provider

	sttClient gateway.Transcriber
	capturer  *capture.Capturer
	builder   *recap.Builder
	retriever *qna.Retriever
	gw        *gateway.Gateway
	metrics   *observe.Metrics

	httpServer *http.Server

	// closers are called in reverse-registration order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence adapter instead of connecting to Postgres.
func WithStore(s *postgres.Store) Option {
	return func(a *App) { a.store = s }
}

// WithObjectStore injects an object store instead of building one from config.
func WithObjectStore(s objectstore.Store) Option {
	return func(a *App) { a.objects = s }
}

// WithLLM injects an LLM provider instead of building one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llmProvider = p }
}

// WithEmbeddings injects an embeddings provider instead of building one from config.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithTranscriber injects the batch ASR dependency instead of building one from config.
func WithTranscriber(t gateway.Transcriber) Option {
	return func(a *App) { a.sttClient = t }
}

// WithRegistry supplies the provider registry used to construct the LLM and
// embeddings providers named in cfg. Callers normally build this once in
// main, registering every factory they want available, and pass it here;
// New falls back to an empty [config.NewRegistry] when omitted, which only
// works if WithLLM/WithEmbeddings are also supplied.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem; anything not injected is built
// from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, registry: config.NewRegistry()}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initObjectStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init object store: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	a.initSTT()
	a.initMetrics()

	sessCfg := session.Config{
		Audio: audioConfigFrom(cfg),
		Video: videoConfigFrom(cfg),
		Window: window.Config{
			Length:  time.Duration(cfg.Window.LengthMs) * time.Millisecond,
			Overlap: time.Duration(cfg.Window.OverlapMs) * time.Millisecond,
		},
	}
	a.sessions = session.NewRegistry(sessCfg, nil)

	a.bus = bus.New()

	captureCfg := capture.DefaultConfig()
	if cfg.Video.CaptureWidth > 0 {
		captureCfg.Width = cfg.Video.CaptureWidth
	}
	if cfg.Video.CaptureHeight > 0 {
		captureCfg.Height = cfg.Video.CaptureHeight
	}
	a.capturer = capture.New(captureCfg, a.objects)

	a.builder = recap.New(a.store, a.store, a.store, a.llmProvider, cfg.LLM.Model)

	webSearch := a.buildWebSearch()
	a.retriever = qna.New(a.store, webSearch, a.store, a.llmProvider)

	gwCfg := gateway.DefaultConfig()
	gwCfg.TokenSecret = []byte(cfg.Auth.TokenSecret)
	gwCfg.ExpectedAudio.Codec = cfg.Audio.ExpectedCodec
	gwCfg.ExpectedAudio.SampleRate = cfg.Audio.ExpectedSampleRateHz
	gwCfg.ExpectedAudio.Channels = cfg.Audio.ExpectedChannels
	gwCfg.RecordMs = cfg.Audio.RecordMs
	gwCfg.STTEnabled = cfg.STT.Enabled
	gwCfg.DetectWidth = cfg.Video.DetectWidth
	gwCfg.DetectHeight = cfg.Video.DetectHeight
	gwCfg.Session = sessCfg

	a.gw = gateway.New(gwCfg, a.sessions, a.bus, a.sttClient, a.capturer, a.builder, a.retriever, a.store, a.embedder)

	return a, nil
}

// ── Init helpers ─────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	return nil
}

func (a *App) initObjectStore(ctx context.Context) error {
	if a.objects != nil {
		return nil
	}
	os, err := config.NewObjectStore(ctx, a.cfg.ObjectStore)
	if err != nil {
		return err
	}
	a.objects = os
	return nil
}

// initProviders instantiates the LLM and embeddings providers named in cfg
// by looking up their factories in a.registry. Callers that want a secondary
// LLM backend for failover register it under its own name and wrap the
// result in a [resilience.LLMFallback] via WithLLM before calling New.
func (a *App) initProviders() error {
	if a.llmProvider == nil && a.cfg.LLM.Name != "" {
		p, err := a.registry.CreateLLM(a.cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", a.cfg.LLM.Name, err)
		}
		a.llmProvider = p
	}
	if a.embedder == nil && a.cfg.Embeddings.Name != "" {
		p, err := a.registry.CreateEmbeddings(a.cfg.Embeddings)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", a.cfg.Embeddings.Name, err)
		}
		a.embedder = p
	}
	return nil
}

// initSTT builds the batch ASR client, wrapped in a [resilience.STTFallback]
// when configured. Leaves a.sttClient nil when STT is disabled, matching
// gateway.Gateway's "nil means skip this stage" contract.
func (a *App) initSTT() {
	if a.sttClient != nil || !a.cfg.STT.Enabled {
		return
	}
	client := stt.New(a.cfg.STT.URL, &http.Client{Timeout: a.cfg.STT.Timeout})
	a.sttClient = resilience.NewSTTFallback(client, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt"},
	})
}

func (a *App) buildWebSearch() qna.WebSearch {
	if !a.cfg.WebSearch.Enabled {
		return nil
	}
	return qna.NewWebSearchClient(a.cfg.WebSearch.URL, a.cfg.WebSearch.APIKey, a.cfg.WebSearch.Timeout, nil)
}

func (a *App) initMetrics() {
	if a.metrics != nil {
		return
	}
	a.metrics = observe.DefaultMetrics()
}

func audioConfigFrom(cfg *config.Config) audiorotor.Config {
	ac := audiorotor.DefaultConfig()
	if cfg.Audio.RecordMs > 0 {
		ac.RecordLength = time.Duration(cfg.Audio.RecordMs) * time.Millisecond
	}
	return ac
}

func videoConfigFrom(cfg *config.Config) videodetect.Config {
	vc := videodetect.DefaultConfig()
	vc.HashThreshold = cfg.Video.DHashThreshold
	vc.CandidateTicks = cfg.Video.CandidateTicks
	vc.SSIMThreshold = cfg.Video.SSIMThreshold
	vc.Cooldown = time.Duration(cfg.Video.CooldownMs) * time.Millisecond
	return vc
}

// ── Accessors ────────────────────────────────────────────────────────────────

// Gateway returns the connection handler so main.go can mount it on an HTTP router.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Store returns the persistence adapter. May be nil if injected differently in tests.
func (a *App) Store() *postgres.Store { return a.store }

// ── Run ──────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled. All per-session work is already driven
// by the gateway's WebSocket connection goroutines and the session
// registry's window scheduler, so Run has nothing to poll — it exists to
// match the teacher's App.Run/Shutdown lifecycle shape.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running")
	<-ctx.Done()
	return ctx.Err()
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
