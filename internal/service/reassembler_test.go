package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/crypto"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finalEntries(t *testing.T, env *testEnv) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(env.root, "final"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFinalize_AssemblesInNumericOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// twelve chunks so that chunk_10 would sort before chunk_2 lexically
	data := binaryPayload(11*testChunkSize + 7)
	init := env.upload(t, "archive.bin", data, binaryMIME, testOwner)
	require.Equal(t, 12, init.TotalChunks)

	resp, err := env.reassembler.Finalize(ctx, finalizeRequest(init, "archive.bin", int64(len(data)), binaryMIME))

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.IsDuplicate)
	assert.Equal(t, filepath.Join(env.root, "final", "archive.bin"), resp.FilePath)
	assert.Equal(t, int64(len(data)), resp.FileSize)
	assert.Equal(t, crypto.HashBytes(data), resp.Checksum)

	got, err := os.ReadFile(resp.FilePath)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := env.sessions.Exists(init.UploadID)
	require.NoError(t, err)
	assert.False(t, exists, "session directory should be removed")
	assert.Equal(t, 0, env.repo.Len())
	_, err = env.cache.Metadata(ctx, init.UploadID)
	assert.ErrorIs(t, err, statuscache.ErrNotFound)

	path, found, err := env.index.FindByChecksum(ctx, resp.Checksum, testOwner)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, resp.FilePath, path)
}

func TestFinalize_TextWithChecksum(t *testing.T) {
	env := newTestEnv(t)
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 10))
	init := env.upload(t, "notes.txt", data, "text/plain", testOwner)

	req := finalizeRequest(init, "notes.txt", int64(len(data)), "text/plain")
	req.Checksum = strings.ToUpper(crypto.HashBytes(data))
	resp, err := env.reassembler.Finalize(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, crypto.HashBytes(data), resp.Checksum)
}

func TestFinalize_EmptyFile(t *testing.T) {
	env := newTestEnv(t)
	init := env.initiate(t, "empty.dat", 0, binaryMIME, testOwner)
	_, err := env.svc.ReceiveChunk(context.Background(), init.UploadID, 1, bytes.NewReader(nil))
	require.NoError(t, err)

	req := finalizeRequest(init, "empty.dat", 0, "")
	resp, err := env.reassembler.Finalize(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.FileSize)
	info, err := os.Stat(resp.FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestFinalize_MissingChunk(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(3 * testChunkSize)
	init := env.initiate(t, "a.bin", int64(len(data)), binaryMIME, testOwner)
	env.sendChunks(t, init.UploadID, data, 2)

	_, err := env.reassembler.Finalize(context.Background(), finalizeRequest(init, "a.bin", int64(len(data)), binaryMIME))

	require.ErrorIs(t, err, ErrMissingChunk)
	assert.Contains(t, err.Error(), "missing chunk 2")
	assert.Empty(t, finalEntries(t, env))

	// the session survives so the client can send the gap and retry
	env.sendChunks(t, init.UploadID, data)
	_, err = env.reassembler.Finalize(context.Background(), finalizeRequest(init, "a.bin", int64(len(data)), binaryMIME))
	require.NoError(t, err)
}

func TestFinalize_RequestErrors(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(2 * testChunkSize)
	init := env.upload(t, "a.bin", data, binaryMIME, testOwner)

	tests := []struct {
		name    string
		mutate  func(*types.FinalizeUploadRequest)
		wantErr error
	}{
		{"missing upload id", func(r *types.FinalizeUploadRequest) { r.UploadID = "" }, ErrValidation},
		{"missing file name", func(r *types.FinalizeUploadRequest) { r.FileName = " " }, ErrValidation},
		{"zero total", func(r *types.FinalizeUploadRequest) { r.TotalChunks = 0 }, ErrValidation},
		{"total mismatch", func(r *types.FinalizeUploadRequest) { r.TotalChunks = 5 }, ErrValidation},
		{"unknown session", func(r *types.FinalizeUploadRequest) { r.UploadID = uuid.NewString() }, ErrSessionNotFound},
		{"client size mismatch", func(r *types.FinalizeUploadRequest) { r.FileSize = int64Ptr(1) }, ErrIntegrity},
		{"checksum mismatch", func(r *types.FinalizeUploadRequest) { r.Checksum = crypto.HashBytes([]byte("other")) }, ErrIntegrity},
		{"type mismatch", func(r *types.FinalizeUploadRequest) { r.MimeType = "image/png" }, ErrIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := finalizeRequest(init, "a.bin", int64(len(data)), binaryMIME)
			tt.mutate(&req)

			_, err := env.reassembler.Finalize(context.Background(), req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, finalEntries(t, env), "rejected output must not remain")
		})
	}

	// none of the failures consumed the session
	exists, err := env.sessions.Exists(init.UploadID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFinalize_TypeMismatchMessage(t *testing.T) {
	env := newTestEnv(t)
	data := []byte(strings.Repeat("plain text content\n", 8))
	init := env.upload(t, "photo.png", data, "image/png", testOwner)

	_, err := env.reassembler.Finalize(context.Background(), finalizeRequest(init, "photo.png", int64(len(data)), "image/png"))

	require.ErrorIs(t, err, ErrIntegrity)
	assert.Contains(t, err.Error(), "type validation failed")
}

func TestFinalize_SessionDirectoryMissing(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(testChunkSize)
	init := env.upload(t, "a.bin", data, binaryMIME, testOwner)
	require.NoError(t, env.sessions.Remove(init.UploadID))

	_, err := env.reassembler.Finalize(context.Background(), finalizeRequest(init, "a.bin", int64(len(data)), binaryMIME))

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFinalize_DuplicateAfterReassembly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(3 * testChunkSize)

	first := env.upload(t, "a.bin", data, binaryMIME, testOwner)
	firstResp, err := env.reassembler.Finalize(ctx, finalizeRequest(first, "a.bin", int64(len(data)), binaryMIME))
	require.NoError(t, err)

	second := env.upload(t, "copy.bin", data, binaryMIME, testOwner)
	_, err = env.reassembler.Finalize(ctx, finalizeRequest(second, "copy.bin", int64(len(data)), binaryMIME))

	require.ErrorIs(t, err, ErrDuplicate)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, firstResp.FilePath, dup.Path)

	assert.Equal(t, []string{"a.bin"}, finalEntries(t, env))
	exists, err := env.sessions.Exists(second.UploadID)
	require.NoError(t, err)
	assert.False(t, exists, "duplicate session should be cleaned up")
	assert.Equal(t, 0, env.repo.Len())
}

func TestFinalize_DuplicateBeforeReassembly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(3 * testChunkSize)

	first := env.upload(t, "a.bin", data, binaryMIME, testOwner)
	firstResp, err := env.reassembler.Finalize(ctx, finalizeRequest(first, "a.bin", int64(len(data)), binaryMIME))
	require.NoError(t, err)

	// with a client checksum the duplicate is found before any chunk is read
	second := env.initiate(t, "a.bin", int64(len(data)), binaryMIME, testOwner)
	req := finalizeRequest(second, "a.bin", int64(len(data)), binaryMIME)
	req.Checksum = firstResp.Checksum
	_, err = env.reassembler.Finalize(ctx, req)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, firstResp.FilePath, dup.Path)
}

func TestFinalize_SameContentOtherOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(2 * testChunkSize)

	first := env.upload(t, "report.bin", data, binaryMIME, "alice")
	_, err := env.reassembler.Finalize(ctx, finalizeRequest(first, "report.bin", int64(len(data)), binaryMIME))
	require.NoError(t, err)

	second := env.upload(t, "report.bin", data, binaryMIME, "bob")
	resp, err := env.reassembler.Finalize(ctx, finalizeRequest(second, "report.bin", int64(len(data)), binaryMIME))

	require.NoError(t, err)
	assert.Equal(t, "report_"+second.UploadID[:8]+".bin", filepath.Base(resp.FilePath))
	assert.ElementsMatch(t, []string{"report.bin", filepath.Base(resp.FilePath)}, finalEntries(t, env))
}

func TestFinalize_ConcurrentSameNameKeepsBoth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payloads := [][]byte{binaryPayload(testChunkSize), binaryPayload(2 * testChunkSize)}
	inits := []types.InitiateUploadResponse{
		env.upload(t, "x.bin", payloads[0], binaryMIME, "alice"),
		env.upload(t, "x.bin", payloads[1], binaryMIME, "bob"),
	}

	var (
		wg    sync.WaitGroup
		resps [2]types.FinalizeUploadResponse
		errs  [2]error
	)
	for i := range inits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resps[i], errs[i] = env.reassembler.Finalize(ctx, finalizeRequest(inits[i], "x.bin", int64(len(payloads[i])), binaryMIME))
		}()
	}
	wg.Wait()

	for i := range inits {
		require.NoError(t, errs[i])
		got, err := os.ReadFile(resps[i].FilePath)
		require.NoError(t, err)
		assert.Equal(t, payloads[i], got, "upload %d", i)
	}
	assert.NotEqual(t, resps[0].FilePath, resps[1].FilePath)
	assert.Len(t, finalEntries(t, env), 2)
}

// lateClaimStore reports every name as free, as if another writer claimed
// it between the existence check and the placement.
type lateClaimStore struct {
	*storage.LocalFinalStore
}

func (lateClaimStore) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func TestFinalize_NameClaimedDuringPlacement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	finalDir := filepath.Join(env.root, storage.FinalDir)
	require.NoError(t, os.WriteFile(filepath.Join(finalDir, "x.bin"), []byte("already here"), 0o644))

	reassembler := NewReassembler(env.repo, env.sessions, env.cache, lateClaimStore{env.final}, env.index, env.locks, finalDir)
	data := binaryPayload(testChunkSize)
	init := env.upload(t, "x.bin", data, binaryMIME, testOwner)

	resp, err := reassembler.Finalize(ctx, finalizeRequest(init, "x.bin", int64(len(data)), binaryMIME))

	require.NoError(t, err)
	assert.Equal(t, "x_"+init.UploadID[:8]+".bin", filepath.Base(resp.FilePath))
	existing, err := os.ReadFile(filepath.Join(finalDir, "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(existing))
}

func TestFinalNames(t *testing.T) {
	id := "550e8400-e29b-41d4-a716-446655440000"

	assert.Equal(t, []string{"a.tar.gz", "a.tar_550e8400.gz", "a.tar_" + id + ".gz"}, finalNames("a.tar.gz", id))
	assert.Equal(t, []string{"README", "README_550e8400", "README_" + id}, finalNames("README", id))
	assert.Equal(t, "upload", finalBase("  "))
	assert.Equal(t, "c.txt", finalBase(`a\b\c.txt`))
}

func TestFinalize_ResentChunkReplacesEarlierCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := binaryPayload(3 * testChunkSize)
	init := env.initiate(t, "a.bin", int64(len(data)), binaryMIME, testOwner)

	// a torn first attempt at chunk 2, then a full resume
	_, err := env.svc.ReceiveChunk(ctx, init.UploadID, 2, bytes.NewReader(data[testChunkSize:testChunkSize+5]))
	require.NoError(t, err)
	env.sendChunks(t, init.UploadID, data)

	resp, err := env.reassembler.Finalize(ctx, finalizeRequest(init, "a.bin", int64(len(data)), binaryMIME))

	require.NoError(t, err)
	got, err := os.ReadFile(resp.FilePath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFinalize_PathInFileNameIsStripped(t *testing.T) {
	env := newTestEnv(t)
	data := binaryPayload(testChunkSize)
	init := env.upload(t, "a.bin", data, binaryMIME, testOwner)

	resp, err := env.reassembler.Finalize(context.Background(), finalizeRequest(init, "../../etc/passwd", int64(len(data)), binaryMIME))

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "final", "passwd"), resp.FilePath)
}
