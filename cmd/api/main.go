package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/app/migrate"
	httpx "github.com/raymccarthy5/multi-tenant-analytics/internal/http"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index/memory"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index/sqlite"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository/postgres"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/ingest"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/query"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/tenant"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/config"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	idx, err := openIndex(cfg)
	if err != nil {
		log.Error("failed to open aggregation index", "error", err, "driver", cfg.IndexDriver)
		os.Exit(1)
	}
	defer idx.Close()

	repo := postgres.New(pool)
	hub := ws.NewHub(log, cfg.StreamBuffer)
	defer hub.Close()

	var cache tenant.Cache = tenant.NewMemoryCache()
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using in-process cache and rate limiter", "error", err, "addr", addr)
		} else {
			cache = tenant.NewRedisCache(rdb)
			limiter.Close()
			limiter = httpx.NewRedisRateLimiter(rdb, log)
			log.Info("redis connected", "addr", addr)
		}
	}

	tenantSvc := tenant.New(repo, cache, cfg.TenantCacheTTL, log)
	ingestSvc := ingest.New(repo, idx, hub, log, ingest.Options{
		MaxBatch:     cfg.IngestMaxBatch,
		IndexTimeout: cfg.IndexWriteTimeout,
		Metrics:      ingest.NewMetrics(prometheus.DefaultRegisterer),
	})
	querySvc := query.New(idx, repo, log)

	router := httpx.NewRouter(httpx.Options{
		Logger:          log,
		Tenants:         tenantSvc,
		Ingest:          ingestSvc,
		Query:           querySvc,
		Hub:             hub,
		Limiter:         limiter,
		DBHealth:        pool.Ping,
		Heartbeat:       cfg.StreamHeartbeat,
		RateLimitIngest: cfg.RateLimitIngest,
		RateLimitQuery:  cfg.RateLimitQuery,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment, "index", cfg.IndexDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// streams block until their clients leave; closing the hub releases them
		hub.Close()
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

func openIndex(cfg config.APIConfig) (index.Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.IndexDriver)) {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.IndexPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create index directory: %w", err)
			}
		}
		idx, err := sqlite.Open(cfg.IndexPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.IndexDriver)
	}
}
