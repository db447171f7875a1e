package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNameTaken is returned by Place when name already holds a file.
var ErrNameTaken = errors.New("final name already taken")

// FinalStore is where finalized files end up.
type FinalStore interface {
	// Place moves the assembled file at src to name and returns the stored
	// location. It never replaces an existing file; a taken name yields
	// ErrNameTaken and leaves src in place.
	Place(ctx context.Context, src, name, contentType string) (string, error)
	Exists(ctx context.Context, location string) (bool, error)
	// Remove deletes location. A missing location is not an error.
	Remove(ctx context.Context, location string) error
}

// LocalFinalStore keeps finalized files in uploads/final.
type LocalFinalStore struct {
	dir string
}

func NewLocalFinalStore(dir string) (*LocalFinalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create final directory %s: %w", dir, err)
	}
	return &LocalFinalStore{dir: dir}, nil
}

// Place hard-links src to its final name, which fails if the name exists,
// then drops src. src must be on the same filesystem as the final directory.
func (l *LocalFinalStore) Place(_ context.Context, src, name, _ string) (string, error) {
	dst := filepath.Join(l.dir, name)
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		return "", fmt.Errorf("failed to move file into final storage: %w", err)
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to remove assembled file: %w", err)
	}
	return dst, nil
}

func (l *LocalFinalStore) Exists(_ context.Context, location string) (bool, error) {
	_, err := os.Stat(l.resolve(location))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalFinalStore) Remove(_ context.Context, location string) error {
	err := os.Remove(l.resolve(location))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", location, err)
	}
	return nil
}

// resolve accepts either a bare final name or a path returned by Place.
func (l *LocalFinalStore) resolve(location string) string {
	if filepath.IsAbs(location) || filepath.Dir(location) != "." {
		return location
	}
	return filepath.Join(l.dir, location)
}
