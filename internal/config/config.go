package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	DefaultChunkSize       = 5 << 20 // 5MB
	DefaultMaxFileSize     = 10 << 30
	DefaultStatusTTL       = 24 * time.Hour
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	UploadsDir  string
	ChunkSize   int64
	MaxFileSize int64

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatusTTL     time.Duration

	RetentionPeriod time.Duration
	CleanupInterval time.Duration

	FinalStorage string
	Minio        MinioConfig

	CORSOrigins []string
}

type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

func LoadServer() (ServerConfig, error) {
	cfg := ServerConfig{
		Port:          getEnv("SERVER_PORT", "8080"),
		Env:           getEnv("APP_ENV", "development"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		UploadsDir:    getEnv("UPLOADS_DIR", "uploads"),
		DatabaseURL:   os.Getenv("DB_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		FinalStorage:  strings.ToLower(getEnv("FINAL_STORAGE", "local")),
		Minio: MinioConfig{
			Endpoint:   os.Getenv("MINIO_ENDPOINT"),
			AccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:  os.Getenv("MINIO_SECRET_KEY"),
			BucketName: getEnv("MINIO_BUCKET_NAME", "chunkup"),
			UseSSL:     getEnvBool("MINIO_USE_SSL", false),
		},
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:4173",
			"http://localhost:3000",
		}),
	}

	var err error
	if cfg.ChunkSize, err = getEnvSize("CHUNK_SIZE", DefaultChunkSize); err != nil {
		return ServerConfig{}, fmt.Errorf("CHUNK_SIZE: %w", err)
	}
	if cfg.MaxFileSize, err = getEnvSize("MAX_FILE_SIZE", DefaultMaxFileSize); err != nil {
		return ServerConfig{}, fmt.Errorf("MAX_FILE_SIZE: %w", err)
	}
	if cfg.StatusTTL, err = getEnvDuration("CHUNK_STATUS_TTL", DefaultStatusTTL); err != nil {
		return ServerConfig{}, fmt.Errorf("CHUNK_STATUS_TTL: %w", err)
	}
	if cfg.RetentionPeriod, err = getEnvDuration("RETENTION_PERIOD", DefaultRetentionPeriod); err != nil {
		return ServerConfig{}, fmt.Errorf("RETENTION_PERIOD: %w", err)
	}
	if cfg.CleanupInterval, err = getEnvDuration("CLEANUP_INTERVAL", DefaultCleanupInterval); err != nil {
		return ServerConfig{}, fmt.Errorf("CLEANUP_INTERVAL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DB_URL environment variable is not set")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.MaxFileSize < c.ChunkSize {
		return fmt.Errorf("max file size %s is smaller than chunk size %s",
			humanize.IBytes(uint64(c.MaxFileSize)), humanize.IBytes(uint64(c.ChunkSize)))
	}
	if c.RetentionPeriod <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("retention period and cleanup interval must be positive")
	}
	switch c.FinalStorage {
	case "local":
	case "minio":
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when FINAL_STORAGE=minio")
		}
	default:
		return fmt.Errorf("unknown FINAL_STORAGE %q (want local or minio)", c.FinalStorage)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", val, err)
	}
	return d, nil
}

// getEnvSize accepts plain byte counts as well as "5MiB" or "512 kB".
func getEnvSize(key string, defaultValue int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue, nil
	}
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", val, err)
	}
	return int64(n), nil
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
