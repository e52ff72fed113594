// Command server starts the risk analyzer HTTP API.
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

	"github.com/univac-1/risk-analyzer/internal/adapter/blob/minio"
	"github.com/univac-1/risk-analyzer/internal/adapter/httpserver"
	"github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/adapter/progress"
	"github.com/univac-1/risk-analyzer/internal/adapter/queue/redpanda"
	"github.com/univac-1/risk-analyzer/internal/adapter/repo/postgres"
	"github.com/univac-1/risk-analyzer/internal/app"
	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/usecase"
)

// redisPinger adapts *redis.Client to the readiness check interface.
type redisPinger struct{ rdb *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.rdb.Ping(ctx) }

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

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(cfg.DBURL); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	blobStore, err := minio.NewStore(ctx, minio.Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
	})
	if err != nil {
		slog.Error("blob store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, "risk-analyzer-server-producer")
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	progressStore := progress.NewStore(rdb, cfg.ProgressTTL)

	videoRepo := postgres.NewVideoRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	exportRepo := postgres.NewExportRepo(pool)

	ingestSvc := usecase.NewIngestService(videoRepo, jobRepo, blobStore, progressStore, producer)
	jobSvc := usecase.NewJobQueryService(jobRepo, videoRepo, blobStore, progressStore)
	sessionSvc := usecase.NewEditSessionService(jobRepo, sessionRepo)
	exportSvc := usecase.NewExportService(sessionRepo, exportRepo, progressStore, producer, blobStore)

	dbCheck, redisCheck, blobCheck := app.BuildReadinessChecks(pool, redisPinger{rdb: rdb}, blobStore)

	srv := httpserver.NewServer(cfg, ingestSvc, jobSvc, sessionSvc, exportSvc, dbCheck, redisCheck, blobCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: cfg.HTTPReadTimeout,
		// Per-route timeouts guard the JSON endpoints; a server-wide write
		// timeout would cut SSE streams and long video responses.
		WriteTimeout:      0,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

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
