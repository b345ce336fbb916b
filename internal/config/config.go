package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DispatchMode selects how the intake handler triggers the worker.
const (
	DispatchModeQueue = "queue"
	DispatchModeHTTP  = "http"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	DatabaseURL string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string

	ClipDuration  int
	FFmpegBinary  string
	FFmpegTimeout time.Duration

	WorkerCount    int
	QueueSize      int
	MaxUploadBytes int64

	DispatchMode string
	WorkerURL    string

	ReconcileInterval   time.Duration
	RequeuePendingAfter time.Duration
	FailProcessingAfter time.Duration

	AllowedOrigin string
}

// Load reads configuration from environment variables and validates required fields.
func Load() (Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return Config{}, fmt.Errorf("parse PORT: %w", err)
	}

	clipDuration, err := getEnvInt("CLIP_DURATION", 60)
	if err != nil {
		return Config{}, fmt.Errorf("parse CLIP_DURATION: %w", err)
	}

	ffmpegTimeout, err := getEnvDuration("FFMPEG_TIMEOUT", 15*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse FFMPEG_TIMEOUT: %w", err)
	}

	workerCount, err := getEnvInt("WORKER_COUNT", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse WORKER_COUNT: %w", err)
	}

	queueSize, err := getEnvInt("QUEUE_SIZE", 64)
	if err != nil {
		return Config{}, fmt.Errorf("parse QUEUE_SIZE: %w", err)
	}

	maxUpload, err := getEnvInt64("MAX_UPLOAD_BYTES", 512<<20)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_UPLOAD_BYTES: %w", err)
	}

	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", 2*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse RECONCILE_INTERVAL: %w", err)
	}

	requeueAfter, err := getEnvDuration("REQUEUE_PENDING_AFTER", 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse REQUEUE_PENDING_AFTER: %w", err)
	}

	// Default past the ffmpeg ceiling so only genuinely dead workers match.
	failAfter, err := getEnvDuration("FAIL_PROCESSING_AFTER", ffmpegTimeout+5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("parse FAIL_PROCESSING_AFTER: %w", err)
	}

	cfg := Config{
		Port:                port,
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Bucket:            getEnv("S3_BUCKET_NAME", ""),
		ClipDuration:        clipDuration,
		FFmpegBinary:        getEnv("FFMPEG_BINARY", "ffmpeg"),
		FFmpegTimeout:       ffmpegTimeout,
		WorkerCount:         workerCount,
		QueueSize:           queueSize,
		MaxUploadBytes:      maxUpload,
		DispatchMode:        getEnv("DISPATCH_MODE", DispatchModeQueue),
		WorkerURL:           getEnv("WORKER_URL", ""),
		ReconcileInterval:   reconcileInterval,
		RequeuePendingAfter: requeueAfter,
		FailProcessingAfter: failAfter,
		AllowedOrigin:       getEnv("ALLOWED_ORIGIN", "*"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET_NAME is required")
	}
	if c.ClipDuration < 1 {
		return fmt.Errorf("CLIP_DURATION must be at least 1 second")
	}
	switch c.DispatchMode {
	case DispatchModeQueue:
	case DispatchModeHTTP:
		if c.WorkerURL == "" {
			return fmt.Errorf("WORKER_URL is required when DISPATCH_MODE=http")
		}
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q", DispatchModeQueue, DispatchModeHTTP)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}
