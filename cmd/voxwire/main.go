// Command voxwire runs the realtime voice gateway that bridges telephony
// media streams with a speech-to-speech AI.
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

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/notify"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/observer"
	"github.com/voxwire/voxwire/internal/registry"
	"github.com/voxwire/voxwire/internal/server"
	"github.com/voxwire/voxwire/internal/store"
	"github.com/voxwire/voxwire/internal/transcript"
	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/telephony"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"audio_mode", cfg.AI.AudioMode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Collaborators ─────────────────────────────────────────────────────────
	var callStore *store.Store
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		callStore, err = store.New(connectCtx, logger, dsn)
		cancel()
		if err != nil {
			slog.Error("failed to connect call store", "err", err)
			return 1
		}
		defer callStore.Close()
		slog.Info("call archive connected")
	}

	hub := observer.NewHub(logger)
	reg := registry.New()
	notifier := notify.New(logger, cfg.Notify.WebhookURL, cfg.Notify.Timeout())

	pipeline, err := buildPipeline(cfg, logger, metrics, hub, callStore)
	if err != nil {
		slog.Error("failed to build transcript pipeline", "err", err)
		return 1
	}

	var rest *telephony.RestClient
	if cfg.Telephony.HasCredentials() {
		rest = telephony.NewRestClient(cfg.Telephony.AccountSid, cfg.Telephony.AuthToken)
	}

	aiOpts := []realtime.Option{realtime.WithModel(cfg.AI.Model)}
	if cfg.AI.BaseURL != "" {
		aiOpts = append(aiOpts, realtime.WithBaseURL(cfg.AI.BaseURL))
	}
	ai := realtime.New(cfg.AI.APIKey, aiOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Options{
		Logger:   logger,
		Metrics:  metrics,
		Config:   cfg,
		AI:       ai,
		Rest:     rest,
		Registry: reg,
		Hub:      hub,
		Pipeline: pipeline,
		Store:    callStore,
		Notifier: notifier,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped at build time via -ldflags.
var version = "dev"

// buildPipeline assembles the transcript fan-out from configuration. The
// observer hub is always a sink; the store joins when archiving is enabled.
func buildPipeline(cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics, hub *observer.Hub, callStore *store.Store) (*transcript.Pipeline, error) {
	sinks := []transcript.Sink{hub}
	if callStore != nil {
		sinks = append(sinks, callStore)
	}

	opts := []transcript.Option{
		transcript.WithNoiseFilter(cfg.Transcript.FilterNoise),
	}
	if tl := cfg.Transcript.Transliterate; tl.Enabled {
		tr, err := transcript.NewOpenAITransliterator(cfg.AI.APIKey, tl.Model)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transcript.WithTransliterator(tr, tl.Timeout()))
	}

	return transcript.NewPipeline(logger, metrics, sinks, opts...), nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
