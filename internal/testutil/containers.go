package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ilkin0/chunkup/internal/config"
	"github.com/ilkin0/chunkup/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	miniocontainer "github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgres starts a postgres container, applies db/migration and
// returns a connected Database. Everything is torn down with the test.
func SetupPostgres(t *testing.T) *database.Database {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("chunkup_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := database.NewDatabase(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := runMigrations(ctx, db, connStr); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// SetupMinio starts a minio container and returns the config to reach it.
func SetupMinio(t *testing.T) config.MinioConfig {
	t.Helper()

	ctx := context.Background()

	minioContainer, err := miniocontainer.Run(ctx,
		"minio/minio:latest",
		miniocontainer.WithUsername("minioadmin"),
		miniocontainer.WithPassword("minioadmin"),
	)
	if err != nil {
		t.Fatalf("Failed to start minio container: %v", err)
	}
	t.Cleanup(func() { minioContainer.Terminate(ctx) })

	endpoint, err := minioContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get minio endpoint: %v", err)
	}

	return config.MinioConfig{
		Endpoint:   endpoint,
		AccessKey:  "minioadmin",
		SecretKey:  "minioadmin",
		BucketName: "chunkup-test",
	}
}

// SetupRedis starts a plain redis container and returns a client for it.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping redis: %v", err)
	}
	return rdb
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// runMigrations uses the goose CLI when installed and otherwise applies the
// Up section of each migration file in order.
func runMigrations(ctx context.Context, db *database.Database, dbURL string) error {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	migrationDir := filepath.Join(projectRoot, "db/migration")

	if _, err := exec.LookPath("goose"); err == nil {
		cmd := exec.Command("goose", "-dir", migrationDir, "postgres", dbURL, "up")
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to run goose migrations: %w", err)
		}
		return nil
	}

	files, err := filepath.Glob(filepath.Join(migrationDir, "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		up, _, _ := strings.Cut(string(data), "-- +goose Down")
		up = strings.Replace(up, "-- +goose Up", "", 1)
		if _, err := db.Pool.Exec(ctx, up); err != nil {
			return fmt.Errorf("failed to apply %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func CleanDatabase(ctx context.Context, db *database.Database) {
	db.Pool.Exec(ctx, "TRUNCATE TABLE upload_sessions")
}
