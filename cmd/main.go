package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/okian/contestboard/internal/adapters/cache"
	"github.com/okian/contestboard/internal/adapters/http/api"
	"github.com/okian/contestboard/internal/adapters/repository"
	app "github.com/okian/contestboard/internal/app"
	"github.com/okian/contestboard/internal/config"
	"github.com/okian/contestboard/internal/domain/scoring"
	"github.com/okian/contestboard/pkg/logger"
	"github.com/okian/contestboard/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	connectTimeout        = 10 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	initMetrics(cfg)

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "contestboard exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run opens the backing stores, starts the service and serves HTTP until ctx
// is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	pool, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rankCache, closeCache, err := newRankCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			log.Warn(ctx, "closing rank cache", logger.Error(err))
		}
	}()

	svc := buildService(cfg, pool, rankCache, log)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		log.Error(ctx, "HTTP server failed", logger.Error(err))
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres_dsn: %w", err)
	}
	if cfg.PostgresMaxConns > 0 {
		pcfg.MaxConns = int32(cfg.PostgresMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// newRankCache builds the configured cache backend and a function releasing it.
func newRankCache(ctx context.Context, cfg *config.Config) (cache.RankCache, func() error, error) {
	if cfg.CacheBackend == config.CacheBackendMemory {
		return cache.NewMemory(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return cache.NewRedis(client), client.Close, nil
}

// buildService wires the store, aggregator, identity resolver and cache into
// the leaderboard service.
func buildService(cfg *config.Config, db repository.DB, rankCache cache.RankCache, log logger.Logger) *app.Service {
	store := repository.NewScoreStore(db, repository.WithQueryTimeout(cfg.StoreQueryTimeout()))
	aggregator := scoring.NewAggregator(
		repository.NewSubmissionReader(db, repository.WithSubmissionQueryTimeout(cfg.StoreQueryTimeout())),
		scoring.WithTimeout(cfg.RecomputeTimeout()),
	)
	identities := repository.NewIdentityResolver(db,
		repository.WithIdentityCacheSize(cfg.IdentityCacheSize),
		repository.WithIdentityCacheTTL(cfg.IdentityCacheTTL()),
	)

	return app.New(store, aggregator, rankCache, identities,
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithWorkerRetries(cfg.WorkerMaxRetries, cfg.WorkerRetryBackoff()),
		app.WithCacheTTL(cfg.CacheTTL()),
		app.WithCacheReadTimeout(cfg.CacheReadTimeout()),
		app.WithCacheDepth(cfg.CacheDepth),
		app.WithLeaderboardLimits(cfg.LeaderboardSize, cfg.MaxLeaderboardLimit),
	)
}

func newRouter(ctx context.Context, svc *app.Service) http.Handler {
	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)
	return mux
}

// initMetrics rebuilds the metrics registry with the configured naming and
// buckets. It runs before any handler or worker records a metric.
func initMetrics(cfg *config.Config) {
	metrics.Init(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithHistogramBuckets(cfg.MetricsLatencyBucketsMS),
	)
}

// startSystemMetricsUpdater periodically refreshes process gauges.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
