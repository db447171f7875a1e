package testutil

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func ParseUUID(t *testing.T, uuidStr string) pgtype.UUID {
	t.Helper()
	var id pgtype.UUID
	err := id.Scan(uuidStr)
	require.NoError(t, err)
	return id
}

func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

type TestSessionOptions struct {
	FileName    string
	FileSize    int64
	MimeType    string
	OwnerID     string
	ChunkSize   int64
	ChunksTotal int32
}

func DefaultTestSessionOptions() TestSessionOptions {
	return TestSessionOptions{
		FileName:    "test.bin",
		FileSize:    1024,
		MimeType:    "application/octet-stream",
		OwnerID:     "user-1",
		ChunkSize:   512,
		ChunksTotal: 2,
	}
}

func CreateTestSession(t *testing.T, q sqlc.Querier, ctx context.Context, opts TestSessionOptions) sqlc.UploadSession {
	t.Helper()

	session, err := q.CreateUploadSession(ctx, sqlc.CreateUploadSessionParams{
		ID:          pgtype.UUID{Bytes: uuid.New(), Valid: true},
		FileName:    opts.FileName,
		FileSize:    opts.FileSize,
		MimeType:    opts.MimeType,
		OwnerID:     opts.OwnerID,
		ChunkSize:   opts.ChunkSize,
		ChunksTotal: opts.ChunksTotal,
	})
	require.NoError(t, err)
	return session
}

// Age sets the modification time of path to now minus age.
func Age(t *testing.T, path string, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func WriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
