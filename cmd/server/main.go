package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilkin0/chunkup/internal/api/handlers"
	"github.com/ilkin0/chunkup/internal/api/routes"
	"github.com/ilkin0/chunkup/internal/config"
	"github.com/ilkin0/chunkup/internal/database"
	"github.com/ilkin0/chunkup/internal/dedup"
	"github.com/ilkin0/chunkup/internal/logger"
	custommiddleware "github.com/ilkin0/chunkup/internal/middleware"
	"github.com/ilkin0/chunkup/internal/scheduler"
	"github.com/ilkin0/chunkup/internal/service"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// in-memory status cache capacity when Redis is not configured
const memoryCacheSessions = 10_000

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(logger.New(cfg.Env, cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting chunkup upload service",
		slog.String("env", cfg.Env),
		slog.String("uploads_dir", cfg.UploadsDir),
		slog.String("chunk_size", humanize.IBytes(uint64(cfg.ChunkSize))),
		slog.String("max_file_size", humanize.IBytes(uint64(cfg.MaxFileSize))),
	)

	// Initialize Database
	db, err := database.NewDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	runTx := database.NewTxRunner(db.Pool)

	slog.Info("database initialized successfully")

	checks := map[string]handlers.Pinger{"database": db}

	// Chunk status cache
	var cache statuscache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		cache = statuscache.NewRedisCache(rdb, cfg.StatusTTL)
		checks["redis"] = cache
		slog.Info("using redis chunk status cache", slog.String("addr", cfg.RedisAddr))
	} else {
		cache = statuscache.NewMemoryCache(memoryCacheSessions, cfg.StatusTTL)
		slog.Info("using in-memory chunk status cache")
	}

	// Storage
	sessions, err := storage.NewSessions(cfg.UploadsDir)
	if err != nil {
		return err
	}
	finalDir := filepath.Join(cfg.UploadsDir, storage.FinalDir)

	var final storage.FinalStore
	switch cfg.FinalStorage {
	case "minio":
		minioClient, err := storage.NewMinIOClient(ctx, cfg.Minio)
		if err != nil {
			return fmt.Errorf("failed to initialize MinIO: %w", err)
		}
		final = minioClient
		checks["minio"] = minioClient
		slog.Info("minio client initialized successfully",
			slog.String("bucket", minioClient.BucketName),
		)
	default:
		local, err := storage.NewLocalFinalStore(finalDir)
		if err != nil {
			return err
		}
		final = local
	}

	index, err := dedup.New(filepath.Join(cfg.UploadsDir, storage.ChecksumsDir), final)
	if err != nil {
		return err
	}

	// Initialize services
	locks := service.NewSessionLocks()
	sessionService := service.NewSessionService(db.Queries, runTx, sessions, cache, locks, service.SessionConfig{
		ChunkSize:   cfg.ChunkSize,
		MaxFileSize: cfg.MaxFileSize,
	})
	reassembler := service.NewReassembler(db.Queries, sessions, cache, final, index, locks, finalDir)
	cleanupService := service.NewCleanupService(db.Queries, sessions, cache, index, locks, cfg.RetentionPeriod)

	// Start scheduler
	sched := scheduler.New(cleanupService, cfg.CleanupInterval)
	sched.Start(ctx)
	defer sched.Stop()

	// Setup router
	r := chi.NewRouter()

	r.Use(custommiddleware.CORS(cfg.CORSOrigins))

	r.Use(logger.RequestID)
	r.Use(logger.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(custommiddleware.Metrics)

	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/health", routes.HealthRoutes(handlers.NewHealthHandler(checks)))
	r.Mount("/api/v1", routes.UploadRoutes(
		handlers.NewUploadHandler(sessionService, reassembler, cfg.ChunkSize),
		custommiddleware.NewLimiters(custommiddleware.LoadRateLimitConfig()),
	))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("address", fmt.Sprintf("http://localhost:%s", cfg.Port)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
