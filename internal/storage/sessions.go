package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	FinalDir     = "final"
	ChecksumsDir = "checksums"

	chunkPrefix = "chunk_"
)

var ErrChunkTooLarge = errors.New("chunk exceeds maximum size")

// Sessions manages the per-upload temp directories under the uploads root:
// uploads/{uploadId}/chunk_{n}.
type Sessions struct {
	root string
}

func NewSessions(root string) (*Sessions, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create uploads root %s: %w", root, err)
	}
	return &Sessions{root: root}, nil
}

func (s *Sessions) Root() string {
	return s.root
}

func (s *Sessions) Dir(uploadID string) string {
	return filepath.Join(s.root, uploadID)
}

func (s *Sessions) ChunkPath(uploadID string, index int) string {
	return filepath.Join(s.Dir(uploadID), chunkPrefix+strconv.Itoa(index))
}

// Create makes the session directory. It succeeds if the directory exists.
func (s *Sessions) Create(uploadID string) error {
	if err := os.MkdirAll(s.Dir(uploadID), 0o750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return nil
}

func (s *Sessions) Exists(uploadID string) (bool, error) {
	info, err := os.Stat(s.Dir(uploadID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// WriteChunk stores r as chunk_{index}, replacing any earlier copy. The
// write goes through a temp file and a rename so a reader never observes a
// partial chunk. maxSize <= 0 disables the size check.
func (s *Sessions) WriteChunk(uploadID string, index int, r io.Reader, maxSize int64) (int64, error) {
	if err := s.Create(uploadID); err != nil {
		return 0, err
	}

	finalPath := s.ChunkPath(uploadID, index)
	f, err := os.CreateTemp(s.Dir(uploadID), "."+chunkPrefix+strconv.Itoa(index)+"-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp chunk: %w", err)
	}
	tmpPath := f.Name()

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}

	n, err := io.Copy(f, src)
	if err == nil && maxSize > 0 && n > maxSize {
		err = ErrChunkTooLarge
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, ErrChunkTooLarge) {
			return n, err
		}
		return n, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("failed to commit chunk %d: %w", index, err)
	}
	return n, nil
}

// ListChunks returns the indices of the chunk files present, numerically
// sorted.
func (s *Sessions) ListChunks(uploadID string) ([]int, error) {
	entries, err := os.ReadDir(s.Dir(uploadID))
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := ChunkIndex(e.Name()); ok {
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// ChunkIndex parses the index out of a chunk file name like "chunk_10".
func ChunkIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, chunkPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (s *Sessions) Remove(uploadID string) error {
	if err := os.RemoveAll(s.Dir(uploadID)); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}

type StaleSession struct {
	UploadID string
	ModTime  time.Time
}

// Stale lists session directories last modified before cutoff. The final and
// checksums directories are never returned.
func (s *Sessions) Stale(cutoff time.Time) ([]StaleSession, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads root: %w", err)
	}

	var stale []StaleSession
	for _, e := range entries {
		if !e.IsDir() || isReserved(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// vanished between ReadDir and Info
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, StaleSession{UploadID: e.Name(), ModTime: info.ModTime()})
		}
	}
	return stale, nil
}

func isReserved(name string) bool {
	return name == FinalDir || name == ChecksumsDir || strings.HasPrefix(name, ".")
}
