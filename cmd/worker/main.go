// Package main runs the transcode worker: it consumes jobs from the Redis queue, runs the HLS pipeline for
// each and periodically re-enqueues videos stuck in queued.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-vod/backend/config"
	"github.com/aura-vod/backend/internal/encoder"
	"github.com/aura-vod/backend/internal/events"
	"github.com/aura-vod/backend/internal/pipeline"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/internal/worker"
	"github.com/aura-vod/backend/pkg/database"
	"github.com/aura-vod/backend/pkg/queue"
	"github.com/aura-vod/backend/pkg/redis"
	"github.com/aura-vod/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ffmpeg := encoder.NewFFmpeg(encoder.Config{
		Binary:  cfg.Transcode.FFmpegPath,
		Preset:  cfg.Transcode.Preset,
		Timeout: cfg.Transcode.EncodeTimeout,
	}, logger)
	if err := ffmpeg.CheckBinary(); err != nil {
		logger.Fatal("ffmpeg", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.Storage.Region,
		AccessKeyID:          cfg.Storage.AccessKeyID,
		SecretAccessKey:      cfg.Storage.SecretAccessKey,
		Bucket:               cfg.Storage.Bucket,
		Endpoint:             cfg.Storage.Endpoint,
		UsePathStyle:         cfg.Storage.UsePathStyle,
		PrivateBucket:        cfg.Storage.PrivateBucket,
		PresignExpireMinutes: cfg.Storage.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	videoRepo := videos.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	publisher := events.NewPublisher(rdb.Client, logger)

	pl, err := pipeline.New(videoRepo, s3Client, ffmpeg, pipeline.Config{
		Ladder:        encoder.DefaultLadder,
		WorkDir:       cfg.Transcode.WorkDir,
		Parallelism:   cfg.Transcode.Parallelism,
		UploadTimeout: cfg.Transcode.UploadTimeout,
		WorkspaceTTL:  cfg.Transcode.WorkspaceTTL,
		Notifier:      publisher,
	}, logger)
	if err != nil {
		logger.Fatal("pipeline", zap.Error(err))
	}

	// Jobs left in the processing list by a crashed worker go back to pending.
	if n, err := jobQueue.RecoverInflight(ctx); err != nil {
		logger.Warn("recover in-flight jobs failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered in-flight jobs", zap.Int("count", n))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler, err := worker.NewReconciler(videoRepo, jobQueue, worker.ReconcilerConfig{
		Schedule:   cfg.Reconcile.Schedule,
		StaleAfter: cfg.Reconcile.StaleAfter,
	}, logger)
	if err != nil {
		logger.Fatal("reconciler", zap.Error(err))
	}
	if err := reconciler.Start(workerCtx); err != nil {
		logger.Fatal("reconciler", zap.Error(err))
	}

	processor := worker.NewTranscodeProcessor(pl, jobQueue, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started",
		zap.Int("parallelism", cfg.Transcode.Parallelism),
		zap.Strings("ladder", encoder.Names(encoder.DefaultLadder)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	reconciler.Stop()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
