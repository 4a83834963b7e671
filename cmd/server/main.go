package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apotek/backend/internal/cache"
	"apotek/backend/internal/config"
	"apotek/backend/internal/httpapi"
	"apotek/backend/internal/metrics"
	"apotek/backend/internal/service"
	"apotek/backend/internal/store"
	"apotek/backend/internal/store/memory"
	pgstore "apotek/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("repository unavailable", "error", err)
		os.Exit(1)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	historyCache, closeCache := openHistoryCache(ctx, cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	m := metrics.New("apotek")
	svc := service.New(repo,
		service.WithHistoryCache(historyCache, cfg.HistoryCacheTTL()),
		service.WithLogger(logger),
		service.WithMetrics(m),
	)
	api := httpapi.New(svc, cfg.AllowedOrigin, logger, m)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openRepository picks postgres when DATABASE_URL is set and refuses to fall
// back to memory if it cannot be reached.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory", "seeded", cfg.SeedDemoCatalog)
		if cfg.SeedDemoCatalog {
			return memory.NewSeeded(), nil, nil
		}
		return memory.New(), nil, nil
	}

	if cfg.RunMigrations {
		applied, err := pgstore.Migrate(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations checked", "applied", applied)
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

// openHistoryCache degrades to the noop cache when redis is not configured or
// not reachable at startup.
func openHistoryCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.SaleHistoryCache, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("cache: noop")
		return cache.NoopSaleHistoryCache{}, nil
	}

	redisCache := cache.NewRedisSaleHistoryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop cache", "error", err)
		_ = redisCache.Close()
		return cache.NoopSaleHistoryCache{}, nil
	}

	logger.Info("cache: redis", "addr", cfg.RedisAddr)
	return cache.NewBreakerSaleHistoryCache(redisCache, cache.DefaultBreakerConfig("sale-history-cache"), logger), redisCache.Close
}
