// Package main runs the video API: intake, HLS delivery, status websocket and, optionally, an embedded
// transcode worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-vod/backend/config"
	"github.com/aura-vod/backend/internal/auth"
	"github.com/aura-vod/backend/internal/encoder"
	"github.com/aura-vod/backend/internal/events"
	"github.com/aura-vod/backend/internal/middleware"
	"github.com/aura-vod/backend/internal/pipeline"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/internal/worker"
	"github.com/aura-vod/backend/pkg/database"
	"github.com/aura-vod/backend/pkg/queue"
	"github.com/aura-vod/backend/pkg/redis"
	"github.com/aura-vod/backend/pkg/response"
	"github.com/aura-vod/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
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

	var jwtService *auth.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	} else {
		logger.Warn("JWT_SECRET is empty: mutating routes are not authenticated")
	}

	videoRepo := videos.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	publisher := events.NewPublisher(rdb.Client, logger)

	videoService := videos.NewService(videoRepo, s3Client, jobQueue, cfg.Transcode.MaxUploadBytes, logger)
	videoService.SetNotifier(publisher)
	videoHandler := videos.NewHandler(videoService, s3Client, cfg.Server.PublicBaseURL, logger)
	videoHandler.SetPresigner(s3Client)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))

	// Health
	router.GET("/health", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		depth, err := jobQueue.Depth(checkCtx)
		if err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "queue": depth})
	})

	// Videos: reads are public, writes need an operator token when JWT_SECRET is set.
	protected := router.Group("", middleware.Protect(jwtService, auth.RoleAdmin, auth.RoleEditor)...)
	videoHandler.Register(router, protected)

	// WebSocket status stream
	router.GET("/videos/:id/events", events.ServeStatus(publisher, videoRepo.GetByID, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Embedded transcode worker (single-binary deployments)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup
	var reconciler *worker.Reconciler
	if cfg.Server.EmbeddedWorker {
		ffmpeg := encoder.NewFFmpeg(encoder.Config{
			Binary:  cfg.Transcode.FFmpegPath,
			Preset:  cfg.Transcode.Preset,
			Timeout: cfg.Transcode.EncodeTimeout,
		}, logger)
		if err := ffmpeg.CheckBinary(); err != nil {
			logger.Fatal("ffmpeg", zap.Error(err))
		}
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
		if n, err := jobQueue.RecoverInflight(ctx); err != nil {
			logger.Warn("recover in-flight jobs failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("recovered in-flight jobs", zap.Int("count", n))
		}
		reconciler, err = worker.NewReconciler(videoRepo, jobQueue, worker.ReconcilerConfig{
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
		workers.Add(1)
		go func() {
			defer workers.Done()
			processor.Run(workerCtx)
		}()
		logger.Info("embedded transcode worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	workerCancel()
	if reconciler != nil {
		reconciler.Stop()
	}
	workers.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
