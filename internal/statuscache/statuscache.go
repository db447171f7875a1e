// Package statuscache records which chunk indices each upload session has
// received. Entries share a TTL and are refreshed on every write.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("statuscache: entry not found")

const chunkComplete = "complete"

// Metadata is the cached copy of a session's initiate parameters.
type Metadata struct {
	UploadID    string    `json:"uploadId"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	MimeType    string    `json:"mimeType"`
	UserID      string    `json:"userId"`
	ChunkSize   int64     `json:"chunkSize"`
	ChunksTotal int       `json:"chunksTotal"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Cache interface {
	SaveMetadata(ctx context.Context, meta Metadata) error
	// Metadata returns ErrNotFound when the entry is absent or expired.
	Metadata(ctx context.Context, uploadID string) (Metadata, error)
	// MarkChunk records index as received and returns the received count,
	// derived from the index set.
	MarkChunk(ctx context.Context, uploadID string, index int) (int, error)
	// ReceivedChunks returns the received indices in ascending order.
	ReceivedChunks(ctx context.Context, uploadID string) ([]int, error)
	// Clear drops every key belonging to the session.
	Clear(ctx context.Context, uploadID string) error
	Ping(ctx context.Context) error
}

func metadataKey(uploadID string) string {
	return fmt.Sprintf("upload:%s:metadata", uploadID)
}

func chunksKey(uploadID string) string {
	return fmt.Sprintf("upload:%s:chunks", uploadID)
}

func chunkKey(uploadID string, index int) string {
	return fmt.Sprintf("upload:%s:chunk:%d", uploadID, index)
}

func countKey(uploadID string) string {
	return fmt.Sprintf("upload:%s:chunksReceived", uploadID)
}

func sessionPattern(uploadID string) string {
	return fmt.Sprintf("upload:%s:*", uploadID)
}

func parseIndices(members []string) ([]int, error) {
	out := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk index %q: %w", m, err)
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
