// Command server starts the print job scheduling HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/print-mes/internal/adapter/httpserver"
	"github.com/fairyhunter13/print-mes/internal/adapter/observability"
	"github.com/fairyhunter13/print-mes/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/print-mes/internal/adapter/slotlock"
	"github.com/fairyhunter13/print-mes/internal/app"
	"github.com/fairyhunter13/print-mes/internal/config"
	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

// redisPinger adapts *redis.Client to app.RedisClient.
type redisPinger struct{ c *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.c.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("db migrate failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Repositories
	jobRepo := postgres.NewJobRepo(pool)
	lookupRepo := postgres.NewLookupRepo(pool)

	seed, err := loadLookupSeed(cfg.LookupSeedPath)
	if err != nil {
		slog.Error("lookup seed read failed", slog.String("path", cfg.LookupSeedPath), slog.Any("error", err))
		os.Exit(1)
	}
	if err := usecase.NewLookupService(lookupRepo).Seed(ctx, seed); err != nil {
		slog.Error("lookup seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("lookups seeded", slog.Int("count", len(seed)), slog.String("path", cfg.LookupSeedPath))

	// Slot lock (optional)
	var locker domain.SlotLocker = slotlock.Nop{}
	var rdb app.RedisClient
	if cfg.ScheduleLockEnabled() {
		rl, err := slotlock.NewFromURL(cfg.RedisURL, cfg.ScheduleLockTTL)
		if err != nil {
			slog.Error("redis slot lock setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = rl.Client().Close() }()
		locker = rl
		rdb = redisPinger{rl.Client()}
		slog.Info("schedule slot lock enabled", slog.Duration("ttl", cfg.ScheduleLockTTL))
	}

	// Usecases
	jobSvc := usecase.NewJobService(jobRepo, lookupRepo, locker)
	importSvc := usecase.NewImportService(jobSvc, usecase.DefaultImportPolicy(cfg.MaxImportRows))

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)

	// HTTP server
	srv := httpserver.NewServer(cfg, jobSvc, importSvc, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
