// Package main runs the bus bell detection HTTP server with WebSocket and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/busbell/backend/config"
	"github.com/busbell/backend/internal/detector"
	"github.com/busbell/backend/internal/engine"
	"github.com/busbell/backend/internal/exports"
	"github.com/busbell/backend/internal/middleware"
	"github.com/busbell/backend/internal/realtime"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/internal/sessions"
	"github.com/busbell/backend/internal/stats"
	"github.com/busbell/backend/internal/worker"
	"github.com/busbell/backend/pkg/database"
	"github.com/busbell/backend/pkg/queue"
	"github.com/busbell/backend/pkg/redis"
	"github.com/busbell/backend/pkg/response"
	"github.com/busbell/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AudioBucket:          cfg.AWS.AudioBucket,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Core: aggregator, store, correlation engine, detector.
	agg := stats.NewAggregator()
	store := session.NewStore(agg, logger)
	eng := engine.New(store, agg, hub, logger)
	det := detector.NewStochastic(cfg.Detector.BellProbability, logger)

	svc := sessions.NewService(store, eng, det, s3Client, logger)

	// Export archiving (queue + worker); only runs with S3 configured.
	exportRepo := exports.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	exportProcessor := worker.NewExportProcessor(exportRepo, s3Client, jobQueue, logger)

	var handlerQueue *queue.Queue
	if s3Client != nil {
		handlerQueue = jobQueue
	}
	sessionHandler := sessions.NewHandler(store, eng, agg, svc, hub, handlerQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Queries and ingest
	router.GET("/stats", sessionHandler.GetStats)
	router.GET("/sessions/:id", sessionHandler.GetSession)
	router.GET("/sessions/:id/export", sessionHandler.ExportSession)
	router.POST("/sessions/:id/audio", sessionHandler.IngestAudio)
	router.GET("/history", sessionHandler.History)

	// Archived exports (needs S3 for presigned URLs and object access)
	if s3Client != nil {
		exportHandler := exports.NewHandler(exportRepo, s3Client, logger)
		router.GET("/sessions/:id/exports", exportHandler.ListBySession)
		router.GET("/exports/:id/download", exportHandler.Download)
		router.DELETE("/exports/:id", exportHandler.Delete)
	}

	// WebSocket: recorder connections create a session, watchers attach
	// with ?session_id=
	probeInterval := time.Duration(cfg.Detector.ProbeIntervalMs) * time.Millisecond
	router.GET("/ws", realtime.ServeWs(hub, logger, store, svc, probeInterval))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (export archive to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		go exportProcessor.Run(workerCtx)
		logger.Info("export worker started")
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

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
