package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dannyseiner/web-tools-sub000/internal/app/storage"
	httpx "github.com/dannyseiner/web-tools-sub000/internal/http"
	"github.com/dannyseiner/web-tools-sub000/internal/service/auth"
	"github.com/dannyseiner/web-tools-sub000/internal/service/i18n"
	"github.com/dannyseiner/web-tools-sub000/internal/service/ingest"
	"github.com/dannyseiner/web-tools-sub000/internal/service/notifications"
	"github.com/dannyseiner/web-tools-sub000/internal/service/organization"
	"github.com/dannyseiner/web-tools-sub000/internal/service/presence"
	"github.com/dannyseiner/web-tools-sub000/internal/service/project"
	"github.com/dannyseiner/web-tools-sub000/internal/service/tokens"
	"github.com/dannyseiner/web-tools-sub000/internal/ws"
	"github.com/dannyseiner/web-tools-sub000/pkg/capture"
	"github.com/dannyseiner/web-tools-sub000/pkg/config"
	"github.com/dannyseiner/web-tools-sub000/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	reporter := newReporter(log)
	if reporter.Enabled() {
		slog.SetDefault(log)
		reporter.InstallGlobalHandlers()
		log = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, reporter); err != nil {
		log.Error("api server failed", "error", err)
		flush(reporter)
		os.Exit(1)
	}
	flush(reporter)
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger, reporter *capture.Client) error {
	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	handle, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer handle.Close()

	runner, err := handle.Migrator(log)
	if err != nil {
		return err
	}
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	if err := runner.Ensure(ctx); err != nil {
		return err
	}

	store := handle.Store
	hub := ws.NewHub()
	defer hub.Close()

	orgs := organization.New(store, log)
	notify := notifications.New(store, hub, log)
	resolver := tokens.NewResolver(store, cfg.TokenCacheTTL, log)
	presenceSvc := presence.New(store, log, presence.Config{
		StaleAfter:    cfg.PresenceStaleAfter,
		SweepInterval: cfg.PresenceSweepInterval,
	})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:          auth.New(store, log, cfg),
		Organizations: orgs,
		Projects:      project.New(store, orgs, log),
		Tokens:        tokens.NewService(store, resolver, log),
		Resolver:      resolver,
		Ingest:        ingest.New(store, notify, log),
		Presence:      presenceSvc,
		I18n:          i18n.New(store, log),
		Notifications: notify,
	}, limiter, httpx.Options{
		IngestRateLimitPerMin: cfg.IngestRateLimitPerMin,
		IngestMaxBodyBytes:    cfg.IngestMaxBodyBytes,
		MetricsEnabled:        cfg.MetricsEnabled,
		DBHealth:              store.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           capture.Boundary(reporter, nil)(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "store", string(handle.Dialect))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer reporter.Recover(gctx)
		return presenceSvc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	})
	return g.Wait()
}

// newReporter builds the client the API uses to report its own failures. It
// stays disabled until CAPTURE_ENDPOINT_URL is set.
func newReporter(log *slog.Logger) *capture.Client {
	cc := config.LoadCaptureConfig("lingo-api")
	return capture.New(capture.Config{
		EndpointURL:  cc.EndpointURL,
		ProjectToken: cc.ProjectToken,
		App:          cc.App,
		Env:          cc.Env,
		Release:      cc.Release,
		Tags:         cc.Tags,
	}, capture.WithLogger(log))
}

func flush(reporter *capture.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = reporter.Flush(ctx)
}
