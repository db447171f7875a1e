package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/ilkin0/chunkup/internal/chunk"
)

const (
	queueFile   = "queue.json"
	historyFile = "history.json"
	lockFile    = "state.lock"

	MaxHistory = 100
)

// PersistedFile is an incomplete upload as written to the state directory.
type PersistedFile struct {
	UploadFile
	SourceKind chunk.SourceKind `json:"sourceKind"`
	SourcePath string           `json:"sourcePath,omitempty"`
	SourceURL  string           `json:"sourceUrl,omitempty"`
}

type HistoryEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	FilePath    string    `json:"filePath,omitempty"`
	Duplicate   bool      `json:"duplicate,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Store keeps the incomplete-upload queue and the completed-upload history
// as JSON files. A file lock serializes access across processes sharing the
// state directory.
type Store struct {
	dir  string
	lock *flock.Flock
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock state directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("state directory %s is locked", s.dir)
	}
	defer s.lock.Unlock()

	return fn()
}

// SaveQueue replaces the persisted queue with every file that has not
// completed.
func (s *Store) SaveQueue(files []UploadFile) error {
	persisted := make([]PersistedFile, 0, len(files))
	for _, f := range files {
		if f.Status == StatusCompleted || f.Status == StatusCancelled {
			continue
		}
		persisted = append(persisted, persist(f))
	}
	return s.withLock(func() error {
		return s.writeJSON(queueFile, persisted)
	})
}

func (s *Store) LoadQueue() ([]PersistedFile, error) {
	var files []PersistedFile
	err := s.withLock(func() error {
		return s.readJSON(queueFile, &files)
	})
	return files, err
}

func (s *Store) ClearQueue() error {
	return s.withLock(func() error {
		err := os.Remove(filepath.Join(s.dir, queueFile))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})
}

// AddHistory records a completed upload, newest first. An entry with the
// same id is replaced and the list is capped at MaxHistory.
func (s *Store) AddHistory(entry HistoryEntry) error {
	return s.withLock(func() error {
		var history []HistoryEntry
		if err := s.readJSON(historyFile, &history); err != nil {
			return err
		}

		next := make([]HistoryEntry, 0, len(history)+1)
		next = append(next, entry)
		for _, h := range history {
			if h.ID != entry.ID {
				next = append(next, h)
			}
		}
		if len(next) > MaxHistory {
			next = next[:MaxHistory]
		}
		return s.writeJSON(historyFile, next)
	})
}

func (s *Store) History() ([]HistoryEntry, error) {
	var history []HistoryEntry
	err := s.withLock(func() error {
		return s.readJSON(historyFile, &history)
	})
	return history, err
}

func (s *Store) readJSON(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("corrupt %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, name))
}

func persist(f UploadFile) PersistedFile {
	p := PersistedFile{UploadFile: f}
	switch src := f.Source.(type) {
	case chunk.FileSource:
		p.SourceKind, p.SourcePath = chunk.KindFile, src.Path
	case chunk.RemoteSource:
		p.SourceKind, p.SourceURL = chunk.KindRemote, src.URL
	case chunk.BufferSource:
		p.SourceKind = chunk.KindBuffer
	}
	return p
}

// restore rebuilds the file and its source. In-memory payloads do not
// survive a restart and come back as errors.
func (p PersistedFile) restore() UploadFile {
	f := p.UploadFile
	switch p.SourceKind {
	case chunk.KindFile:
		f.Source = chunk.FileSource{Path: p.SourcePath}
	case chunk.KindRemote:
		f.Source = chunk.RemoteSource{URL: p.SourceURL}
	default:
		f.Source = nil
		f.Status = StatusError
		f.ErrorMessage = "file is no longer available"
		return f
	}
	if f.Status == StatusUploading {
		f.Status = StatusQueued
	}
	return f
}
