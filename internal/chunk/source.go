package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
)

// ErrOutOfRange means a range lies outside the source's payload. Retrying
// cannot fix it.
var ErrOutOfRange = errors.New("range outside source")

// FetchError is a failed read from a RemoteSource. StatusCode is zero when
// no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap reports a missing blob as fs.ErrNotExist.
func (e *FetchError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone {
		return fs.ErrNotExist
	}
	return e.Err
}

// Temporary reports whether the same request may succeed later.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Source is where chunk payloads are read from. The set of implementations is
// closed: BufferSource, FileSource and RemoteSource.
type Source interface {
	// Open returns a reader over exactly the bytes of r.
	Open(ctx context.Context, r Range) (io.ReadCloser, error)
	// Kind names the variant for persistence.
	Kind() SourceKind

	sealed()
}

type SourceKind string

const (
	KindBuffer SourceKind = "buffer"
	KindFile   SourceKind = "file"
	KindRemote SourceKind = "remote"
)

// BufferSource serves chunks from an in-memory payload.
type BufferSource struct {
	Data []byte
}

func (s BufferSource) Open(_ context.Context, r Range) (io.ReadCloser, error) {
	if r.End > int64(len(s.Data)) {
		return nil, fmt.Errorf("%w: %d-%d exceeds buffer of %d bytes", ErrOutOfRange, r.Start, r.End, len(s.Data))
	}
	return io.NopCloser(bytes.NewReader(s.Data[r.Start:r.End])), nil
}

func (BufferSource) Kind() SourceKind { return KindBuffer }
func (BufferSource) sealed()          {}

// FileSource serves chunks from a local file by offset.
type FileSource struct {
	Path string
}

func (s FileSource) Open(_ context.Context, r Range) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, r.Start, r.Len()),
		file:          f,
	}, nil
}

func (FileSource) Kind() SourceKind { return KindFile }
func (FileSource) sealed()          {}

type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.file.Close()
}

// RemoteSource fetches chunks from a blob URL with HTTP Range requests.
type RemoteSource struct {
	URL    string
	Client *http.Client
}

func (s RemoteSource) Open(ctx context.Context, r Range) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.URL, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		// server ignored the Range header; skip to the chunk start ourselves
		if _, err := io.CopyN(io.Discard, resp.Body, r.Start); err != nil {
			resp.Body.Close()
			return nil, &FetchError{URL: s.URL, Err: fmt.Errorf("skip to offset %d: %w", r.Start, err)}
		}
		return struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp.Body, r.Len()), resp.Body}, nil
	default:
		resp.Body.Close()
		return nil, &FetchError{URL: s.URL, StatusCode: resp.StatusCode}
	}
}

func (RemoteSource) Kind() SourceKind { return KindRemote }
func (RemoteSource) sealed()          {}
