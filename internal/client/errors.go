package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/ilkin0/chunkup/internal/chunk"
)

// errStopped ends an upload task that was paused or cancelled. It is never
// shown to the user.
var errStopped = errors.New("upload stopped")

// APIError is a non-2xx response from the upload server.
type APIError struct {
	StatusCode int
	Message    string
	// Duplicate is set when finalize found identical content already
	// stored for the owner; FilePath then names the existing file.
	Duplicate bool
	FilePath  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func isDuplicate(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Duplicate {
		return apiErr, true
	}
	return nil, false
}

// Retryable reports whether a failed chunk transfer is worth another
// attempt. Client errors other than timeouts and throttling are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errStopped) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, chunk.ErrOutOfRange) {
		return false
	}

	var fetchErr *chunk.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Temporary()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

// UserMessage turns an upload failure into a short message for display.
func UserMessage(err error) string {
	if _, ok := isDuplicate(err); ok {
		return "already uploaded"
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestEntityTooLarge:
			return "file too large"
		case apiErr.StatusCode == http.StatusNotFound:
			return "upload session expired, please try again"
		case apiErr.StatusCode == http.StatusUnprocessableEntity:
			return "file content does not match its type"
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "server is busy, try again later"
		case apiErr.StatusCode >= 500:
			return "server error, try again later"
		case apiErr.Message != "":
			return apiErr.Message
		}
		return "upload rejected by server"
	}

	if errors.Is(err, os.ErrNotExist) {
		return "file is no longer available"
	}

	var fetchErr *chunk.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.Temporary() {
			return "file source unavailable, try again later"
		}
		return "file source refused the download"
	}
	if errors.Is(err, chunk.ErrOutOfRange) {
		return "file changed since it was queued"
	}

	// anything else is a transport failure
	return "upload failed, check your connection"
}
