package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRetention = 24 * time.Hour

type stubChecksumCleaner struct {
	removed int
	err     error
	calls   int
}

func (s *stubChecksumCleaner) Cleanup(context.Context, time.Duration) (int, error) {
	s.calls++
	return s.removed, s.err
}

func newCleanup(env *testEnv, checksums ChecksumCleaner) *CleanupService {
	return NewCleanupService(env.repo, env.sessions, env.cache, checksums, env.locks, testRetention)
}

func TestSweep_RemovesOnlyStaleSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(2 * testChunkSize)

	old := env.upload(t, "old.bin", data, binaryMIME, testOwner)
	young := env.upload(t, "young.bin", data, binaryMIME, testOwner)
	testutil.Age(t, env.sessions.Dir(old.UploadID), testRetention+time.Hour)

	report, err := newCleanup(env, env.index).Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsRemoved)

	exists, err := env.sessions.Exists(old.UploadID)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = env.cache.Metadata(ctx, old.UploadID)
	assert.ErrorIs(t, err, statuscache.ErrNotFound)

	exists, err = env.sessions.Exists(young.UploadID)
	require.NoError(t, err)
	assert.True(t, exists)
	status, err := env.svc.Status(ctx, young.UploadID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ChunksReceived)

	assert.Equal(t, 1, env.repo.Len(), "only the young session record remains")
}

func TestSweep_LeavesFinalAndChecksumDirectories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(testChunkSize)

	init := env.upload(t, "kept.bin", data, binaryMIME, testOwner)
	resp, err := env.reassembler.Finalize(ctx, finalizeRequest(init, "kept.bin", int64(len(data)), binaryMIME))
	require.NoError(t, err)

	finalDir := filepath.Join(env.root, "final")
	checksumsDir := filepath.Join(env.root, "checksums")
	testutil.Age(t, finalDir, testRetention*2)
	testutil.Age(t, checksumsDir, testRetention*2)

	_, err = newCleanup(env, &stubChecksumCleaner{}).Sweep(ctx)
	require.NoError(t, err)

	_, err = os.Stat(finalDir)
	assert.NoError(t, err)
	_, err = os.Stat(checksumsDir)
	assert.NoError(t, err)
	_, err = os.Stat(resp.FilePath)
	assert.NoError(t, err)
}

func TestSweep_ReapsOldRecordsWithoutDirectories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	init := env.initiate(t, "a.bin", 10, binaryMIME, testOwner)
	require.NoError(t, env.sessions.Remove(init.UploadID))
	env.repo.Backdate(testutil.ParseUUID(t, init.UploadID), testRetention+time.Minute)

	report, err := newCleanup(env, &stubChecksumCleaner{}).Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, report.SessionsRemoved)
	assert.Equal(t, 1, report.RecordsReaped)
	assert.Equal(t, 0, env.repo.Len())
	_, err = env.cache.Metadata(ctx, init.UploadID)
	assert.ErrorIs(t, err, statuscache.ErrNotFound)
}

func TestSweep_KeepsOldRecordWithLiveDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(3 * testChunkSize)

	init := env.initiate(t, "long.bin", int64(len(data)), binaryMIME, testOwner)
	env.repo.Backdate(testutil.ParseUUID(t, init.UploadID), testRetention+time.Minute)
	for i := 1; i <= 2; i++ {
		_, err := env.svc.ReceiveChunk(ctx, init.UploadID, i, bytes.NewReader(data[(i-1)*testChunkSize:i*testChunkSize]))
		require.NoError(t, err)
	}

	report, err := newCleanup(env, &stubChecksumCleaner{}).Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, CleanupReport{}, report)
	assert.Equal(t, 1, env.repo.Len())

	status, err := env.svc.Status(ctx, init.UploadID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, status.ChunkIndices)

	_, err = env.svc.ReceiveChunk(ctx, init.UploadID, 3, bytes.NewReader(data[2*testChunkSize:]))
	require.NoError(t, err)
}

func TestSweep_CountsRecordsOfRemovedSessions(t *testing.T) {
	env := newTestEnv(t)
	old := env.upload(t, "old.bin", binaryPayload(testChunkSize), binaryMIME, testOwner)
	testutil.Age(t, env.sessions.Dir(old.UploadID), testRetention+time.Hour)
	env.repo.Backdate(testutil.ParseUUID(t, old.UploadID), testRetention+time.Hour)

	report, err := newCleanup(env, &stubChecksumCleaner{}).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CleanupReport{SessionsRemoved: 1, RecordsReaped: 1}, report)
	assert.Equal(t, 0, env.repo.Len())
}

func TestSweep_ChecksumFailureDoesNotStopSessionSweep(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(testChunkSize)
	old := env.upload(t, "old.bin", data, binaryMIME, testOwner)
	testutil.Age(t, env.sessions.Dir(old.UploadID), testRetention+time.Hour)

	checksums := &stubChecksumCleaner{err: errors.New("disk full")}
	report, err := newCleanup(env, checksums).Sweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum sweep")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, report.SessionsRemoved)
	assert.Equal(t, 1, checksums.calls)

	exists, err := env.sessions.Exists(old.UploadID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSweep_ReportsChecksumFiles(t *testing.T) {
	env := newTestEnv(t)

	report, err := newCleanup(env, &stubChecksumCleaner{removed: 3}).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CleanupReport{FilesRemoved: 3}, report)
}

func TestSweep_WaitsForFinalizeLock(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(testChunkSize)
	old := env.upload(t, "old.bin", data, binaryMIME, testOwner)
	testutil.Age(t, env.sessions.Dir(old.UploadID), testRetention+time.Hour)

	unlock := env.locks.Lock(old.UploadID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = newCleanup(env, &stubChecksumCleaner{}).Sweep(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	exists, err := env.sessions.Exists(old.UploadID)
	require.NoError(t, err)
	assert.True(t, exists, "directory must survive while the session is locked")

	unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish after the lock was released")
	}

	exists, err = env.sessions.Exists(old.UploadID)
	require.NoError(t, err)
	assert.False(t, exists)
}
