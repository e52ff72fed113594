// Command worker consumes analysis and export tasks from Redpanda and
// runs the media pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	analyzerstub "github.com/univac-1/risk-analyzer/internal/adapter/analyzer/stub"
	"github.com/univac-1/risk-analyzer/internal/adapter/blob/minio"
	"github.com/univac-1/risk-analyzer/internal/adapter/media"
	"github.com/univac-1/risk-analyzer/internal/adapter/observability"
	"github.com/univac-1/risk-analyzer/internal/adapter/progress"
	"github.com/univac-1/risk-analyzer/internal/adapter/queue/redpanda"
	"github.com/univac-1/risk-analyzer/internal/adapter/reasoner/openai"
	reasonerstub "github.com/univac-1/risk-analyzer/internal/adapter/reasoner/stub"
	"github.com/univac-1/risk-analyzer/internal/adapter/repo/postgres"
	"github.com/univac-1/risk-analyzer/internal/app"
	"github.com/univac-1/risk-analyzer/internal/config"
	"github.com/univac-1/risk-analyzer/internal/domain"
	obs "github.com/univac-1/risk-analyzer/internal/observability"
	"github.com/univac-1/risk-analyzer/internal/service/filtergraph"
	"github.com/univac-1/risk-analyzer/internal/usecase"
)

// mediaProcessor adapts the ffmpeg and ffprobe runners to the pipeline's
// media port.
type mediaProcessor struct {
	ffmpeg  *media.FFmpeg
	ffprobe *media.FFprobe
}

func (m mediaProcessor) ExtractAudio(ctx domain.Context, inputPath, outputPath string) (bool, error) {
	return m.ffmpeg.ExtractAudio(ctx, inputPath, outputPath)
}

func (m mediaProcessor) Probe(ctx domain.Context, path string) (usecase.MediaInfo, error) {
	res, err := m.ffprobe.Probe(ctx, path)
	if err != nil {
		return usecase.MediaInfo{}, err
	}
	return usecase.MediaInfo{
		DurationSec: res.DurationSec,
		TotalFrames: res.TotalFrames,
		Width:       res.Width,
		Height:      res.Height,
		HasAudio:    res.HasAudio,
	}, nil
}

func (m mediaProcessor) Render(ctx domain.Context, spec usecase.RenderSpec) error {
	return m.ffmpeg.Render(ctx, media.RenderInput{
		InputPath:   spec.InputPath,
		OutputPath:  spec.OutputPath,
		Graph:       spec.Graph,
		TotalFrames: spec.TotalFrames,
		DurationSec: spec.DurationSec,
		OnProgress:  spec.OnProgress,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	progressStore := progress.NewStore(rdb, cfg.ProgressTTL)

	videoRepo := postgres.NewVideoRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	exportRepo := postgres.NewExportRepo(pool)

	tax, err := config.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		slog.Error("taxonomy load failed", slog.Any("error", err))
		os.Exit(1)
	}

	var reasoner domain.RiskReasoner
	if cfg.UseStubAnalyzers {
		reasoner = reasonerstub.New()
		slog.Info("using stub risk reasoner")
	} else {
		reasoner = openai.NewClient(cfg, tax)
		slog.Info("using openai-compatible risk reasoner", slog.String("model", cfg.ReasonerModel))
	}

	proc := mediaProcessor{
		ffmpeg:  media.NewFFmpeg(cfg.FFmpegPath),
		ffprobe: media.NewFFprobe(cfg.FFprobePath),
	}

	analyzeSvc := usecase.AnalyzeService{
		Jobs:     jobRepo,
		Videos:   videoRepo,
		Blob:     blobStore,
		Progress: progressStore,
		Speech:   analyzerstub.NewSpeech(),
		OCR:      analyzerstub.NewOCR(),
		Vision:   analyzerstub.NewVision(),
		Reasoner: obs.NewObservableReasoner(reasoner),
		Media:    proc,

		AudioExtractTimeout: cfg.AudioExtractTimeout,
		AnnotateTimeout:     cfg.AnnotateTimeout,
	}

	exportRunner := usecase.ExportRunner{
		Jobs:     jobRepo,
		Videos:   videoRepo,
		Sessions: sessionRepo,
		Exports:  exportRepo,
		Blob:     blobStore,
		Progress: progressStore,
		Media:    proc,
		Compiler: filtergraph.NewCompiler(cfg.FontFile),

		RenderTimeout: cfg.ExportTimeout,
	}

	// Transactional ID distinct from the HTTP server's producer so the two
	// processes never fence each other.
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, "risk-analyzer-worker-producer")
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	retry := redpanda.NewRetryManager(producer, analyzeSvc, exportRunner)

	consumer, err := redpanda.NewConsumer(redpanda.ConsumerOptions{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroup,
		TransactionalID: "risk-analyzer-consumer",
		Workers:         cfg.ConsumerMaxConcurrency,
	}, analyzeSvc, exportRunner, retry, logger)
	if err != nil {
		slog.Error("queue consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-dlq", producer, logger)
	if err != nil {
		slog.Error("dlq consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dlqConsumer.Close()

	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.SweeperMaxAge, cfg.SweeperInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	if cfg.DataRetentionDays > 0 {
		retention := usecase.NewRetentionService(jobRepo, videoRepo, blobStore, progressStore,
			time.Duration(cfg.DataRetentionDays)*24*time.Hour)
		go retention.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("retention sweeper started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}()
	go func() {
		if err := dlqConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dlq consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}
