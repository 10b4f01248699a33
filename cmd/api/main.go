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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/app/migrate"
	httpx "github.com/mike11stevens/AdoProjectManager-sub002/internal/http"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository/postgres"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/auth"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/settings"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/ws"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/config"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	progressHub := ws.NewHub()
	factory := remote.NewFactory(
		remote.WithAPIVersion(cfg.APIVersion),
		remote.WithHTTPClient(&http.Client{Timeout: cfg.RemoteTimeout}),
	)

	authSvc := auth.New(repo, log, cfg)
	settingsSvc := settings.New(repo, factory, log, cfg)
	progressSvc := progress.New(repo, repo, progressHub, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, settingsSvc, progressSvc, repo, repo, repo, factory, cfg, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
