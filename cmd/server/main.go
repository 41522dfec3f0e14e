package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shipslog/backend/internal/api"
	"github.com/shipslog/backend/internal/chunker"
	"github.com/shipslog/backend/internal/config"
	"github.com/shipslog/backend/internal/db"
	"github.com/shipslog/backend/internal/ffmpeg"
	"github.com/shipslog/backend/internal/health"
	"github.com/shipslog/backend/internal/logger"
	"github.com/shipslog/backend/internal/media"
	"github.com/shipslog/backend/internal/openai"
	"github.com/shipslog/backend/internal/pipeline"
	"github.com/shipslog/backend/internal/queue"
	"github.com/shipslog/backend/internal/storage"
)

const version = "0.3.0"

func main() {
	// Missing .env is fine; most deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logger.SetDefault(logger.New(&logger.Config{
		Level:     logger.ParseLevel(cfg.LogLevel),
		Component: "server",
	}))
	ctx := context.Background()

	ff := ffmpeg.New()
	if !ff.Available() {
		logger.Default().Warn(ctx, "ffmpeg not found on PATH, chunking and video extraction will fail", nil)
	}

	// Postgres is optional: without it the pipeline runs on the in-memory
	// item store, which is enough for local development.
	var items media.Store
	var database *db.DB
	if d, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName); err != nil {
		logger.Default().Warn(ctx, "database unavailable, using in-memory item store", map[string]interface{}{"error": err.Error()})
		items = media.NewMemoryStore()
	} else {
		if err := d.Migrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		database = d
		defer database.Close()
		items = db.NewMediaStore(database)
	}

	var taskStore queue.TaskStore
	var redisClient *redis.Client
	switch cfg.TaskStore {
	case "redis":
		rs, err := queue.NewRedisTaskStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis task store: %v", err)
		}
		taskStore = rs
		redisClient = rs.Client()
	default:
		taskStore = queue.NewMemoryTaskStore()
	}

	storer, err := storage.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// The minio client covers fetch, presign, and the health probe for the
	// S3 side; the aws-sdk Storer only writes.
	var objectClient *storage.Client
	if cfg.StorageMode == "s3" || cfg.StorageMode == "local+s3" {
		objectClient, err = storage.NewClient(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize object storage client: %v", err)
		}
		if err := objectClient.EnsureBucket(ctx); err != nil {
			logger.Default().Warn(ctx, "could not ensure bucket", map[string]interface{}{"error": err.Error()})
		}
	}

	aiClient, err := openai.NewClient(&openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		WhisperModel:        cfg.OpenAIModelWhisper,
		EmbeddingModel:      cfg.OpenAIModelEmbedding,
		ChatModel:           cfg.OpenAIModelChat,
		TranscribePrompt:    cfg.TranscribePrompt,
		SummaryInstructions: cfg.SummaryInstructions,
		HTTPClient:          &http.Client{Timeout: cfg.Queue.CallTimeout},
	})
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI client: %v", err)
	}

	splitter := chunker.New(ff, &chunker.Config{
		MaxChunkBytes:   cfg.Chunk.MaxChunkBytes,
		MaxChunkSeconds: cfg.Chunk.MaxChunkSeconds,
		MinChunkSeconds: cfg.Chunk.MinChunkSeconds,
	})

	scheduler := queue.NewScheduler(taskStore, &queue.SchedulerConfig{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BaseRetryDelay: cfg.Queue.BaseRetryDelay,
		MaxRetryDelay:  cfg.Queue.MaxRetryDelay,
		BatchSize:      cfg.Queue.BatchSize,
		Retention:      cfg.Queue.Retention,
	})

	var fetcher pipeline.Fetcher
	if objectClient != nil {
		fetcher = objectClient
	}

	pipe := pipeline.New(items, scheduler, storer, fetcher, splitter, ff, aiClient, aiClient, aiClient, &pipeline.Config{
		ChunkConcurrency: cfg.Queue.ChunkConcurrency,
	})

	driver := queue.NewDriver(scheduler, pipe.HandleTask, &queue.DriverConfig{
		Concurrency:     cfg.Queue.MaxConcurrent,
		PollInterval:    cfg.Queue.PollInterval,
		ErrorInterval:   cfg.Queue.ErrorInterval,
		CallTimeout:     cfg.Queue.CallTimeout,
		CleanupInterval: cfg.Queue.CleanupInterval,
	})
	driver.Start()

	checkerCfg := &health.CheckerConfig{
		Redis:       redisClient,
		FFmpegCheck: ff.Available,
		Version:     version,
	}
	if database != nil {
		checkerCfg.DB = database.DB
	}
	if objectClient != nil {
		checkerCfg.StorageCheck = objectClient.Ping
	}
	healthHandlers := health.NewHandler(health.NewChecker(checkerCfg))

	var presigner api.Presigner
	if objectClient != nil {
		presigner = objectClient
	}
	logHandlers, err := api.NewLogHandlers(pipe, scheduler, presigner, cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to initialize handlers: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api.NewRouter(logHandlers, healthHandlers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		logger.Default().Info(ctx, "starting server", map[string]interface{}{"addr": cfg.ServerAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// Let in-flight tasks and requests finish before exiting; anything
	// still pending survives in the task store and resumes on restart.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := driver.Stop(shutdownCtx); err != nil {
		logger.Default().Warn(ctx, "queue driver did not stop cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Default().Error(ctx, "server shutdown failed", err, nil)
	}
}
