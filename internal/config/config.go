package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration. It is assembled once at startup and
// passed by value into constructors; nothing reads the environment after Load.
type Config struct {
	ServerAddr string
	LogLevel   string
	UploadDir  string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (optional task store backend)
	RedisURL  string
	TaskStore string // "memory" or "redis"

	// Object storage
	StorageMode   string // "local", "s3", or "local+s3"
	LocalMedia    string
	S3Endpoint    string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3UsePath     bool
	S3AudioPrefix string
	S3VideoPrefix string

	// OpenAI
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModelWhisper   string
	OpenAIModelEmbedding string
	OpenAIModelChat      string
	TranscribePrompt     string
	SummaryInstructions  string

	// Pipeline / scheduler
	Queue QueueConfig

	// Chunking
	Chunk ChunkConfig
}

// QueueConfig bounds the scheduler's retry and concurrency behavior.
type QueueConfig struct {
	MaxAttempts      int           // retry budget per task
	BaseRetryDelay   time.Duration // first backoff step
	MaxRetryDelay    time.Duration // backoff cap
	MaxConcurrent    int           // tasks in flight at once
	BatchSize        int           // ready tasks pulled per polling pass
	PollInterval     time.Duration // driver tick
	ErrorInterval    time.Duration // driver tick after a loop error
	Retention        time.Duration // completed-task retention window
	CleanupInterval  time.Duration // sweep frequency
	CallTimeout      time.Duration // per external call
	ChunkConcurrency int           // parallel chunk transcriptions within one task
}

// ChunkConfig bounds the chunker's output.
type ChunkConfig struct {
	MaxChunkBytes   int64 // downstream service size limit, with margin
	MaxChunkSeconds int   // caller's preferred chunk duration
	MinChunkSeconds int   // hard floor
}

// Load reads configuration from the environment with defaults suitable for
// local development.
func Load() *Config {
	return &Config{
		ServerAddr: getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),
		UploadDir:  getEnvOrDefault("UPLOAD_DIR", "./uploads"),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "shipslog"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", "shipslog_dev_password"),
		DBName:     getEnvOrDefault("DB_NAME", "shipslog"),

		RedisURL:  getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		TaskStore: getEnvOrDefault("TASK_STORE", "memory"),

		StorageMode:   getEnvOrDefault("MEDIA_STORAGE_MODE", "local"),
		LocalMedia:    getEnvOrDefault("LOCAL_MEDIA_PATH", "./media"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3Region:      getEnvOrDefault("S3_REGION", "us-east-1"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3Bucket:      getEnvOrDefault("S3_BUCKET", "shipslog-media"),
		S3UsePath:     getBoolOrDefault("S3_USE_PATH_STYLE", true),
		S3AudioPrefix: getEnvOrDefault("S3_AUDIO_PREFIX", "audio/"),
		S3VideoPrefix: getEnvOrDefault("S3_VIDEO_PREFIX", "video/"),

		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModelWhisper:   getEnvOrDefault("OPENAI_MODEL_WHISPER", "whisper-1"),
		OpenAIModelEmbedding: getEnvOrDefault("OPENAI_MODEL_EMBEDDING", "text-embedding-3-small"),
		OpenAIModelChat:      getEnvOrDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini"),
		TranscribePrompt:     getEnvOrDefault("TRANSCRIBE_PROMPT", "Captain's log entry from sailing vessel"),
		SummaryInstructions:  getEnvOrDefault("SUMMARY_INSTRUCTIONS", "Report operational status, environmental conditions, navigational data, and significant events."),

		Queue: QueueConfig{
			MaxAttempts:      getIntOrDefault("TASK_MAX_ATTEMPTS", 10),
			BaseRetryDelay:   getDurationOrDefault("TASK_BASE_RETRY_DELAY", 30*time.Second),
			MaxRetryDelay:    getDurationOrDefault("TASK_MAX_RETRY_DELAY", time.Hour),
			MaxConcurrent:    getIntOrDefault("TASK_MAX_CONCURRENT", 3),
			BatchSize:        getIntOrDefault("TASK_BATCH_SIZE", 10),
			PollInterval:     getDurationOrDefault("TASK_POLL_INTERVAL", 10*time.Second),
			ErrorInterval:    getDurationOrDefault("TASK_ERROR_INTERVAL", 30*time.Second),
			Retention:        getDurationOrDefault("TASK_RETENTION", 24*time.Hour),
			CleanupInterval:  getDurationOrDefault("TASK_CLEANUP_INTERVAL", time.Hour),
			CallTimeout:      getDurationOrDefault("EXTERNAL_CALL_TIMEOUT", 2*time.Minute),
			ChunkConcurrency: getIntOrDefault("CHUNK_CONCURRENCY", 2),
		},

		Chunk: ChunkConfig{
			MaxChunkBytes:   getInt64OrDefault("MAX_CHUNK_BYTES", 20*1024*1024),
			MaxChunkSeconds: getIntOrDefault("MAX_CHUNK_SECONDS", 600),
			MinChunkSeconds: 60,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
