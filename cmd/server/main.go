package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-hub/internal/api"
	"collab-hub/internal/auth"
	"collab-hub/internal/config"
	"collab-hub/internal/crdt"
	"collab-hub/internal/db"
	"collab-hub/internal/repository"
	"collab-hub/internal/services/collaboration"
	"collab-hub/internal/services/persistence"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

  config → logger → tracing → metrics → snapshot store → rooms → HTTP

On SIGINT/SIGTERM the order is reversed: live rooms are flushed and their
connections closed first, then the HTTP server stops, then the persistence
timers, then storage. Only failures during startup are fatal.
*/

// snapshotBackend is what every storage backend offers: the writes and
// loads rooms need plus the history the API serves.
type snapshotBackend interface {
	persistence.SnapshotStore
	api.SnapshotReader
}

func main() {
	log.Println("🚀 Starting collaboration hub...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("collab-hub", cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Warn("⚠️  Failed to initialize Jaeger, continuing without tracing", zap.Error(err))
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logger.Warn("⚠️  Failed to shutdown Jaeger", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	snapshots, closeStore, err := openSnapshotStore(cfg, logger)
	if err != nil {
		logger.Fatal("❌ Failed to open snapshot store", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer closeStore()

	var retention *repository.RetentionJob
	if pruner, ok := snapshots.(repository.Pruner); ok {
		retention = repository.NewRetentionJob(pruner, cfg.SnapshotRetention, cfg.RetentionSchedule, logger)
		if err := retention.Start(); err != nil {
			logger.Fatal("❌ Failed to schedule snapshot retention", zap.Error(err))
		}
	}

	identity, err := newIdentityService(cfg)
	if err != nil {
		logger.Fatal("❌ Failed to build identity service", zap.Error(err))
	}
	gate := auth.NewGate(identity, cfg.AuthTimeout, logger, metrics)

	registry := store.NewRegistry(func() store.Mergeable { return crdt.New() })

	coordinator := persistence.NewCoordinator(registry, snapshots, persistence.Options{
		Debounce: cfg.DebounceInterval,
		Field:    cfg.SnapshotField,
		Attempts: cfg.SaveAttempts,
		Timeout:  cfg.SaveTimeout,
		Backoff:  cfg.SaveBackoff,
	}, logger, metrics)

	lifecycle := collaboration.NewRoomLifecycle(registry, snapshots, coordinator, cfg.SnapshotField, cfg.LoadTimeout, logger, metrics)
	broadcaster := collaboration.NewBroadcaster(coordinator, logger, metrics)
	sessionManager := collaboration.NewSessionManager(gate, lifecycle, broadcaster, cfg.IdleTimeout, logger, metrics)
	wsHandler := collaboration.NewWebSocketHandler(sessionManager, logger)

	handler := api.NewHandler(lifecycle, sessionManager, snapshots, wsHandler, logger)
	router := api.SetupRoutes(handler, logger, reg)

	// WriteTimeout stays unset: upgraded connections live far longer than
	// any single HTTP response.
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 Server listening",
			zap.String("addr", cfg.ListenAddr()),
			zap.String("storage", cfg.StorageBackend),
			zap.String("auth", cfg.AuthMode),
			zap.Duration("debounce", cfg.DebounceInterval),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		logger.Fatal("❌ Server error", zap.Error(err))
	}

	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Learning: Hijacked websocket connections are invisible to
	// server.Shutdown, so rooms are flushed and sessions closed first.
	if err := sessionManager.Shutdown(ctx); err != nil {
		logger.Warn("⚠️  Sessions did not close in time", zap.Error(err))
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("⚠️  Server forced to shutdown", zap.Error(err))
	}
	coordinator.Close()
	if retention != nil {
		retention.Stop()
	}

	logger.Info("✓ Server shutdown complete")
}

// openSnapshotStore builds the backend named by STORAGE_BACKEND. The returned
// func releases whatever connection the backend holds.
func openSnapshotStore(cfg *config.Config, logger *zap.Logger) (snapshotBackend, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn("⚠️  Using in-memory snapshot store, documents are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil

	case config.StoragePostgres, config.StorageSQLite:
		database, err := db.NewGorm(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				logger.Warn("failed to close database", zap.Error(err))
			}
		}
		return repository.NewSnapshotRepository(database.DB), closeDB, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("✓ Redis connected", zap.String("addr", cfg.RedisAddr))
		return repository.NewRedisStore(rdb), func() { rdb.Close() }, nil

	case config.StorageS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3Store, err := repository.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("✓ S3 snapshot store ready", zap.String("bucket", cfg.S3Bucket), zap.String("prefix", cfg.S3Prefix))
		return s3Store, func() {}, nil
	}

	return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
}

func newIdentityService(cfg *config.Config) (auth.IdentityService, error) {
	switch cfg.AuthMode {
	case config.AuthModeHTTP:
		return auth.NewHTTPIdentity(cfg.AuthServiceURL, cfg.AuthInternalToken), nil
	case config.AuthModeJWT:
		return auth.NewJWTIdentity(cfg.JWTSecret), nil
	}
	return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
}
