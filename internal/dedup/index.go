// Package dedup maps content checksums to the finalized files that carry
// them, one JSON record per checksum under uploads/checksums.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ilkin0/chunkup/internal/crypto"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/storage"
)

const recordSuffix = ".json"

var ErrInvalidChecksum = errors.New("invalid checksum")

type Entry struct {
	Path      string    `json:"path"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type Record struct {
	Checksum string  `json:"checksum"`
	Files    []Entry `json:"files"`
}

type Index struct {
	dir   string
	files storage.FinalStore
	log   *slog.Logger
	now   func() time.Time

	// serializes read-modify-write of record files
	mu sync.Mutex
}

func New(dir string, files storage.FinalStore) (*Index, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create checksums directory %s: %w", dir, err)
	}
	return &Index{
		dir:   dir,
		files: files,
		log:   logger.Component("dedup"),
		now:   time.Now,
	}, nil
}

// FindByChecksum returns the first recorded file for ownerID that still
// exists in final storage.
func (idx *Index) FindByChecksum(ctx context.Context, checksum, ownerID string) (string, bool, error) {
	key, err := normalize(checksum)
	if err != nil {
		return "", false, err
	}

	idx.mu.Lock()
	rec, err := idx.read(key)
	idx.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	for _, e := range rec.Files {
		if e.UserID != ownerID {
			continue
		}
		ok, err := idx.files.Exists(ctx, e.Path)
		if err != nil {
			idx.log.Warn("failed to check recorded file",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return e.Path, true, nil
		}
	}
	return "", false, nil
}

func (idx *Index) Store(_ context.Context, checksum, path, ownerID string) error {
	key, err := normalize(checksum)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.read(key)
	if errors.Is(err, os.ErrNotExist) {
		rec = &Record{Checksum: key}
	} else if err != nil {
		return err
	}

	rec.Files = append(rec.Files, Entry{Path: path, UserID: ownerID, Timestamp: idx.now().UTC()})
	return idx.write(rec)
}

// Cleanup prunes entries older than retention and deletes their files. A
// record left without entries is deleted. Per-record failures are logged and
// skipped. It returns how many files were removed.
func (idx *Index) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(idx.dir, "*"+recordSuffix))
	if err != nil {
		return 0, fmt.Errorf("failed to scan checksums directory: %w", err)
	}

	cutoff := idx.now().Add(-retention)
	removed := 0
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := idx.pruneRecord(ctx, strings.TrimSuffix(filepath.Base(path), recordSuffix), cutoff)
		removed += n
		if err != nil {
			idx.log.Error("failed to prune checksum record",
				slog.String("record", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return removed, nil
}

func (idx *Index) pruneRecord(ctx context.Context, key string, cutoff time.Time) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.read(key)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	kept := rec.Files[:0]
	for _, e := range rec.Files {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		if err := idx.files.Remove(ctx, e.Path); err != nil {
			idx.log.Warn("failed to remove expired file, keeping entry",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
			kept = append(kept, e)
			continue
		}
		removed++
	}

	if len(kept) == len(rec.Files) && removed == 0 {
		return 0, nil
	}
	if len(kept) == 0 {
		return removed, idx.delete(key)
	}
	rec.Files = kept
	return removed, idx.write(rec)
}

func (idx *Index) recordPath(key string) string {
	return filepath.Join(idx.dir, key+recordSuffix)
}

func (idx *Index) read(key string) (*Record, error) {
	data, err := os.ReadFile(idx.recordPath(key))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode checksum record %s: %w", key, err)
	}
	return &rec, nil
}

// write replaces the record file through a temp file and rename.
func (idx *Index) write(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checksum record: %w", err)
	}

	path := idx.recordPath(rec.Checksum)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}

func (idx *Index) delete(key string) error {
	err := os.Remove(idx.recordPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checksum record %s: %w", key, err)
	}
	return nil
}

// normalize case-folds the checksum and rejects anything that is not hex,
// since the result becomes a file name.
func normalize(checksum string) (string, error) {
	key := crypto.Normalize(checksum)
	if key == "" || len(key) > 128 {
		return "", ErrInvalidChecksum
	}
	for _, c := range key {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", ErrInvalidChecksum
		}
	}
	return key, nil
}
