package dedup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sum = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

type fixture struct {
	idx      *Index
	finalDir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	finalDir := filepath.Join(root, storage.FinalDir)
	files, err := storage.NewLocalFinalStore(finalDir)
	require.NoError(t, err)
	idx, err := New(filepath.Join(root, storage.ChecksumsDir), files)
	require.NoError(t, err)
	return fixture{idx: idx, finalDir: finalDir}
}

func (f fixture) finalFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.finalDir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	return path
}

func (f fixture) readRecord(t *testing.T, checksum string) Record {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.idx.dir, checksum+".json"))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestIndex_FindByChecksum_OwnerScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.finalFile(t, "a.txt")
	require.NoError(t, f.idx.Store(ctx, sum, path, "u1"))

	got, ok, err := f.idx.FindByChecksum(ctx, sum, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, path, got)

	_, ok, err = f.idx.FindByChecksum(ctx, sum, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_FindByChecksum_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.finalFile(t, "a.txt")
	require.NoError(t, f.idx.Store(ctx, strings.ToUpper(sum), path, "u1"))

	got, ok, err := f.idx.FindByChecksum(ctx, sum, "u1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, path, got)
	assert.FileExists(t, filepath.Join(f.idx.dir, sum+".json"))
}

func TestIndex_FindByChecksum_SkipsStaleEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gone := filepath.Join(f.finalDir, "gone.txt")
	live := f.finalFile(t, "live.txt")
	require.NoError(t, f.idx.Store(ctx, sum, gone, "u1"))
	require.NoError(t, f.idx.Store(ctx, sum, live, "u1"))

	got, ok, err := f.idx.FindByChecksum(ctx, sum, "u1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, live, got)
}

func TestIndex_FindByChecksum_Unknown(t *testing.T) {
	f := newFixture(t)

	_, ok, err := f.idx.FindByChecksum(context.Background(), sum, "u1")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_RejectsNonHexChecksum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.idx.Store(ctx, "../../etc/passwd", "x", "u1")
	assert.ErrorIs(t, err, ErrInvalidChecksum)

	_, _, err = f.idx.FindByChecksum(ctx, "", "u1")
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}

func TestIndex_StoreAppends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.idx.Store(ctx, sum, "a", "u1"))
	require.NoError(t, f.idx.Store(ctx, sum, "b", "u2"))

	rec := f.readRecord(t, sum)
	assert.Equal(t, sum, rec.Checksum)
	require.Len(t, rec.Files, 2)
	assert.Equal(t, "a", rec.Files[0].Path)
	assert.Equal(t, "u2", rec.Files[1].UserID)
}

func TestIndex_Cleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	const other = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	oldA := f.finalFile(t, "old-a.txt")
	oldB := f.finalFile(t, "old-b.txt")
	fresh := f.finalFile(t, "fresh.txt")

	f.idx.now = func() time.Time { return now.Add(-48 * time.Hour) }
	require.NoError(t, f.idx.Store(ctx, sum, oldA, "u1"))
	require.NoError(t, f.idx.Store(ctx, other, oldB, "u1"))
	// already deleted from disk
	require.NoError(t, f.idx.Store(ctx, other, filepath.Join(f.finalDir, "missing.txt"), "u1"))

	f.idx.now = func() time.Time { return now }
	require.NoError(t, f.idx.Store(ctx, sum, fresh, "u2"))

	removed, err := f.idx.Cleanup(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoFileExists(t, oldA)
	assert.NoFileExists(t, oldB)
	assert.FileExists(t, fresh)

	rec := f.readRecord(t, sum)
	require.Len(t, rec.Files, 1, "record with a surviving entry is rewritten")
	assert.Equal(t, fresh, rec.Files[0].Path)

	assert.NoFileExists(t, filepath.Join(f.idx.dir, other+".json"), "fully pruned record is deleted")
}

func TestIndex_Cleanup_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.idx.dir, "abcd.json"), []byte("{not json"), 0o644))

	old := f.finalFile(t, "old.txt")
	f.idx.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	require.NoError(t, f.idx.Store(ctx, sum, old, "u1"))
	f.idx.now = time.Now

	removed, err := f.idx.Cleanup(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.FileExists(t, filepath.Join(f.idx.dir, "abcd.json"))
}
