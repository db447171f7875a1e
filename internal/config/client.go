package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type ClientConfig struct {
	ServerURL      string
	StateDir       string
	OwnerID        string
	ChunkSize      int64
	MaxConcurrent  int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
}

func LoadClient() (ClientConfig, error) {
	home, _ := os.UserHomeDir()

	cfg := ClientConfig{
		ServerURL:     getEnv("UPLOADER_SERVER_URL", "http://localhost:8080"),
		StateDir:      getEnv("UPLOADER_STATE_DIR", filepath.Join(home, ".chunkup")),
		OwnerID:       os.Getenv("UPLOADER_OWNER_ID"),
		MaxConcurrent: getEnvInt("UPLOADER_MAX_CONCURRENT", 3),
		MaxRetries:    getEnvInt("UPLOADER_MAX_RETRIES", 3),
	}

	var err error
	if cfg.ChunkSize, err = getEnvSize("UPLOADER_CHUNK_SIZE", DefaultChunkSize); err != nil {
		return ClientConfig{}, fmt.Errorf("UPLOADER_CHUNK_SIZE: %w", err)
	}
	if cfg.RetryBaseDelay, err = getEnvDuration("UPLOADER_RETRY_BASE_DELAY", time.Second); err != nil {
		return ClientConfig{}, fmt.Errorf("UPLOADER_RETRY_BASE_DELAY: %w", err)
	}
	if cfg.RequestTimeout, err = getEnvDuration("UPLOADER_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return ClientConfig{}, fmt.Errorf("UPLOADER_REQUEST_TIMEOUT: %w", err)
	}

	if cfg.MaxConcurrent <= 0 {
		return ClientConfig{}, fmt.Errorf("UPLOADER_MAX_CONCURRENT must be positive")
	}
	if cfg.MaxRetries < 0 {
		return ClientConfig{}, fmt.Errorf("UPLOADER_MAX_RETRIES must not be negative")
	}
	return cfg, nil
}
