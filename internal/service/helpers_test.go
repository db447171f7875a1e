package service

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/chunk"
	"github.com/ilkin0/chunkup/internal/dedup"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/ilkin0/chunkup/internal/testutil"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQuerier struct {
	mock.Mock
}

var _ sqlc.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) CreateUploadSession(ctx context.Context, arg sqlc.CreateUploadSessionParams) (sqlc.UploadSession, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(sqlc.UploadSession), args.Error(1)
}

func (m *MockQuerier) GetUploadSession(ctx context.Context, id pgtype.UUID) (sqlc.UploadSession, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(sqlc.UploadSession), args.Error(1)
}

func (m *MockQuerier) DeleteUploadSession(ctx context.Context, id pgtype.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) ListUploadSessionsCreatedBefore(ctx context.Context, createdAt pgtype.Timestamptz) ([]pgtype.UUID, error) {
	args := m.Called(ctx, createdAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pgtype.UUID), args.Error(1)
}

const (
	testChunkSize = 64
	testOwner     = "user-1"
	binaryMIME    = "application/octet-stream"
)

type testEnv struct {
	root        string
	repo        *testutil.MemQuerier
	sessions    *storage.Sessions
	cache       *statuscache.MemoryCache
	final       *storage.LocalFinalStore
	index       *dedup.Index
	locks       *SessionLocks
	svc         *SessionService
	reassembler *Reassembler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	finalDir := filepath.Join(root, storage.FinalDir)

	sessions, err := storage.NewSessions(root)
	require.NoError(t, err)
	final, err := storage.NewLocalFinalStore(finalDir)
	require.NoError(t, err)
	index, err := dedup.New(filepath.Join(root, storage.ChecksumsDir), final)
	require.NoError(t, err)

	repo := testutil.NewMemQuerier()
	cache := statuscache.NewMemoryCache(100, time.Hour)
	locks := NewSessionLocks()

	return &testEnv{
		root:     root,
		repo:     repo,
		sessions: sessions,
		cache:    cache,
		final:    final,
		index:    index,
		locks:    locks,
		svc: NewSessionService(repo, repo.TxRunner(), sessions, cache, locks, SessionConfig{
			ChunkSize:   testChunkSize,
			MaxFileSize: 1 << 20,
		}),
		reassembler: NewReassembler(repo, sessions, cache, final, index, locks, finalDir),
	}
}

func (e *testEnv) initiate(t *testing.T, name string, size int64, mimeType, owner string) types.InitiateUploadResponse {
	t.Helper()
	resp, err := e.svc.Initiate(context.Background(), types.InitiateUploadRequest{
		FileName: name,
		FileSize: &size,
		MimeType: mimeType,
		UserID:   owner,
	})
	require.NoError(t, err)
	return resp
}

// sendChunks uploads every chunk of data except the skipped indices.
func (e *testEnv) sendChunks(t *testing.T, uploadID string, data []byte, skip ...int) {
	t.Helper()
	skipped := make(map[int]bool, len(skip))
	for _, i := range skip {
		skipped[i] = true
	}
	for _, r := range chunk.Slice(int64(len(data)), testChunkSize) {
		if skipped[r.Index] {
			continue
		}
		_, err := e.svc.ReceiveChunk(context.Background(), uploadID, r.Index, bytes.NewReader(data[r.Start:r.End]))
		require.NoError(t, err)
	}
}

// upload runs initiate plus every chunk and returns the session.
func (e *testEnv) upload(t *testing.T, name string, data []byte, mimeType, owner string) types.InitiateUploadResponse {
	t.Helper()
	init := e.initiate(t, name, int64(len(data)), mimeType, owner)
	e.sendChunks(t, init.UploadID, data)
	return init
}

func finalizeRequest(init types.InitiateUploadResponse, name string, size int64, mimeType string) types.FinalizeUploadRequest {
	return types.FinalizeUploadRequest{
		UploadID:    init.UploadID,
		TotalChunks: init.TotalChunks,
		FileName:    name,
		FileSize:    &size,
		MimeType:    mimeType,
	}
}

// binaryPayload is n bytes that content sniffing reports as
// application/octet-stream.
func binaryPayload(n int) []byte {
	header := []byte("CHUNKUP\x00")
	b := make([]byte, n)
	for i := range b {
		if i < len(header) {
			b[i] = header[i]
			continue
		}
		b[i] = byte((i * 31) % 251)
	}
	return b
}

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}
