package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ilkin0/chunkup/internal/chunk"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

const defaultMIME = "application/octet-stream"

// UploadFile is one entry of the visible file list. Values are never
// modified in place; the coordinator replaces the whole list on every
// change.
type UploadFile struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Size           int64        `json:"size"`
	MimeType       string       `json:"mimeType"`
	Source         chunk.Source `json:"-"`
	SessionID      string       `json:"sessionId,omitempty"`
	Status         Status       `json:"status"`
	ChunkSize      int64        `json:"chunkSize"`
	TotalChunks    int          `json:"totalChunks"`
	UploadedChunks int          `json:"uploadedChunks"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	FilePath       string       `json:"filePath,omitempty"`
	Duplicate      bool         `json:"duplicate,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// FileSpec describes a file to enqueue.
type FileSpec struct {
	Name     string
	Size     int64
	MimeType string
	Source   chunk.Source
}

// FileSpecFromPath stats path and sniffs its content type.
func FileSpecFromPath(path string) (FileSpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileSpec{}, err
	}
	if info.IsDir() {
		return FileSpec{}, fmt.Errorf("%s is a directory", path)
	}

	mimeType := defaultMIME
	if mt, err := mimetype.DetectFile(path); err == nil {
		mimeType = mt.String()
	}

	return FileSpec{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mimeType,
		Source:   chunk.FileSource{Path: path},
	}, nil
}

// FileSpecFromBytes builds a spec for in-memory content.
func FileSpecFromBytes(name string, data []byte) FileSpec {
	return FileSpec{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimetype.Detect(data).String(),
		Source:   chunk.BufferSource{Data: data},
	}
}

// finalizeMIME is the type the server should validate against. The
// generic default is not worth validating.
func (f UploadFile) finalizeMIME() string {
	if f.MimeType == defaultMIME {
		return ""
	}
	return f.MimeType
}
