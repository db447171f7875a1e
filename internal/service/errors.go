package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrFileTooLarge    = errors.New("file too large")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrMissingChunk    = errors.New("missing chunk")
	ErrIntegrity       = errors.New("integrity check failed")
	ErrDuplicate       = errors.New("file already uploaded")
)

// DuplicateError reports that identical content already exists for the
// owner at Path. It matches ErrDuplicate.
type DuplicateError struct {
	Path string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicate, e.Path)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
