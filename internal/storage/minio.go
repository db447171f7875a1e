package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"

	"github.com/ilkin0/chunkup/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const finalPrefix = FinalDir + "/"

// MinIOClient is a FinalStore that keeps finalized files as objects under
// final/ in a single bucket.
type MinIOClient struct {
	Client     *minio.Client
	BucketName string
}

func NewMinIOClient(ctx context.Context, cfg config.MinioConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		slog.Info("minio bucket created successfully",
			slog.String("bucket_name", cfg.BucketName),
		)
	}

	return &MinIOClient{
		Client:     client,
		BucketName: cfg.BucketName,
	}, nil
}

func (m *MinIOClient) Place(ctx context.Context, src, name, contentType string) (string, error) {
	key := finalPrefix + name
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	opts.SetMatchETagExcept("*")

	_, err := m.Client.FPutObject(ctx, m.BucketName, key, src, opts)
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == http.StatusPreconditionFailed {
			return "", fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		return "", fmt.Errorf("failed to upload file to MinIO: %w", err)
	}

	if err := os.Remove(src); err != nil {
		slog.Warn("failed to remove local copy after upload",
			slog.String("path", src),
			slog.String("error", err.Error()),
		)
	}
	return key, nil
}

func (m *MinIOClient) Exists(ctx context.Context, location string) (bool, error) {
	_, err := m.Client.StatObject(ctx, m.BucketName, m.key(location), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object: %w", err)
}

func (m *MinIOClient) Remove(ctx context.Context, location string) error {
	if err := m.Client.RemoveObject(ctx, m.BucketName, m.key(location), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func (m *MinIOClient) key(location string) string {
	if path.Dir(location) == "." {
		return finalPrefix + location
	}
	return location
}

func (m *MinIOClient) Ping(ctx context.Context) error {
	_, err := m.Client.BucketExists(ctx, m.BucketName)
	return err
}
