// Command voice-gateway is the real-time voice tutor gateway of the
// LearnSphere platform.
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
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/auth"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/bridge"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/config"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/enrollment"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/gateway"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/health"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/observe"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/resilience"
	"github.com/bad-Al-code/learnsphere-voice-gateway/internal/transcript"
	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s"
	geminilive "github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s/gemini"
	oais2s "github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s/openai"
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
			fmt.Fprintf(os.Stderr, "voice-gateway: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voice-gateway: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voice-gateway starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"upstream", cfg.Upstream.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voice-gateway",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create postgres pool", "err", err)
		return 1
	}
	defer pool.Close()

	transcripts := transcript.NewPostgresStoreFromPool(pool)
	if err := transcripts.Migrate(ctx); err != nil {
		slog.Error("failed to migrate transcript schema", "err", err)
		return 1
	}
	enrollments := enrollment.NewPostgresProvider(pool)

	// ── Upstream provider ─────────────────────────────────────────────────────
	upstream, err := buildUpstream(cfg.Upstream)
	if err != nil {
		slog.Error("failed to build upstream provider", "err", err)
		return 1
	}
	if err := checkVoice(upstream, cfg.Upstream.Voice); err != nil {
		slog.Error("invalid upstream voice", "err", err)
		return 1
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "upstream-" + cfg.Upstream.Name,
	})

	// ── Gateway ───────────────────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg.Auth.CookieName, []byte(cfg.Auth.CookieSecret), []byte(cfg.Auth.JWTSecret))
	deps := bridge.Deps{
		Enrollment:   enrollments,
		Transcripts:  transcripts,
		Upstream:     upstream,
		UpstreamName: cfg.Upstream.Name,
		Voice:        cfg.Upstream.Voice,
		Breaker:      breaker,
		Metrics:      metrics,
		Logger:       logger,
	}
	factory := func(ctx context.Context, userID, courseID string, tp bridge.Transport) (gateway.Session, error) {
		return bridge.New(ctx, userID, courseID, tp, deps)
	}
	gw := gateway.New(verifier, gateway.NewRegistry(), factory, cfg.Gateway.HeartbeatInterval, metrics, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/api/ai/voice-tutor", gw)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		gw.Registry().Len,
		health.DatabaseChecker(pool),
		health.UpstreamChecker(breaker),
	).Register(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()

	// Drain live sessions first so every transcript append settles, then close
	// the listener.
	gw.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// checkVoice rejects a configured voice the upstream does not offer, before
// the first learner pays for the mistake with a failed session.
func checkVoice(p s2s.Provider, voice string) error {
	if voice == "" {
		return nil
	}
	caps := p.Capabilities()
	if len(caps.Voices) == 0 || slices.Contains(caps.Voices, voice) {
		return nil
	}
	return fmt.Errorf("voice %q not offered by upstream (available: %s)",
		voice, strings.Join(caps.Voices, ", "))
}

// buildUpstream instantiates the configured generative speech backend.
func buildUpstream(cfg config.UpstreamConfig) (s2s.Provider, error) {
	switch cfg.Name {
	case "gemini-live":
		var opts []geminilive.Option
		if cfg.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.BaseURL))
		}
		return geminilive.New(cfg.APIKey, opts...), nil
	case "openai-realtime":
		var opts []oais2s.Option
		if cfg.Model != "" {
			opts = append(opts, oais2s.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(cfg.BaseURL))
		}
		return oais2s.New(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown upstream provider %q", cfg.Name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
