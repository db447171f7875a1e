package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/chunk"
	"github.com/ilkin0/chunkup/internal/crypto"
)

// upload runs the per-file state machine: open a session if needed,
// reconcile with the server, send the missing chunks, finalize.
func (c *Coordinator) upload(ctx context.Context, id string) error {
	f, ok := c.File(id)
	if !ok {
		return errStopped
	}
	log := c.log.With(slog.String("file_id", id), slog.String("name", f.Name))

	var err error
	if f.SessionID == "" || f.UploadedChunks == 0 {
		if f, err = c.initiate(ctx, id, f); err != nil {
			return err
		}
	}

	status, err := c.transport.Status(ctx, f.SessionID)
	if isStatus(err, http.StatusNotFound) {
		log.Info("upload session gone, re-initiating", slog.String("session_id", f.SessionID))
		if f, err = c.initiate(ctx, id, f); err != nil {
			return err
		}
		status, err = c.transport.Status(ctx, f.SessionID)
	}
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	received := make(map[int]struct{}, len(status.ChunkIndices))
	for _, i := range status.ChunkIndices {
		received[i] = struct{}{}
	}
	if len(received) == 0 && status.ChunksReceived > 0 {
		received = chunk.FirstIndices(status.ChunksReceived)
	}

	if f.UploadedChunks != status.ChunksReceived {
		log.Info("reconciled progress with server",
			slog.Int("local", f.UploadedChunks),
			slog.Int("server", status.ChunksReceived),
		)
	}
	if f, ok = c.update(id, func(f *UploadFile) {
		f.UploadedChunks = reconcile(f.UploadedChunks, status.ChunksReceived)
	}); !ok {
		return errStopped
	}

	if f.UploadedChunks < f.TotalChunks {
		for _, ch := range chunk.Plan(id, f.Size, f.ChunkSize, f.Source, received) {
			if ch.IsResumeSkip {
				continue
			}
			if !c.isUploading(id) {
				return errStopped
			}
			if err := c.sendChunk(ctx, f, &ch); err != nil {
				return err
			}
			if f, ok = c.update(id, func(f *UploadFile) { f.UploadedChunks++ }); !ok {
				return errStopped
			}
			c.emit(Event{
				Kind:           EventProgress,
				FileID:         id,
				Status:         f.Status,
				UploadedChunks: f.UploadedChunks,
				TotalChunks:    f.TotalChunks,
			})
		}
	}

	if !c.isUploading(id) {
		return errStopped
	}
	return c.finalize(ctx, f)
}

// initiate opens a fresh server session and adopts its chunk layout.
func (c *Coordinator) initiate(ctx context.Context, id string, f UploadFile) (UploadFile, error) {
	size := f.Size
	resp, err := c.transport.Initiate(ctx, types.InitiateUploadRequest{
		FileName:  f.Name,
		FileSize:  &size,
		MimeType:  f.MimeType,
		UserID:    c.opts.OwnerID,
		ChunkSize: c.opts.ChunkSize,
	})
	if err != nil {
		return UploadFile{}, fmt.Errorf("initiate: %w", err)
	}

	f, ok := c.update(id, func(f *UploadFile) {
		f.SessionID = resp.UploadID
		f.UploadedChunks = 0
		if resp.ChunkSize > 0 {
			f.ChunkSize = resp.ChunkSize
		}
		if resp.TotalChunks > 0 {
			f.TotalChunks = resp.TotalChunks
		}
	})
	if !ok {
		return UploadFile{}, errStopped
	}
	return f, nil
}

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	// 2^attempt * base, attempt counting from 1
	eb.InitialInterval = 2 * c.opts.RetryBaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(1<<min(c.opts.MaxRetries+1, 30)) * c.opts.RetryBaseDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(c.opts.MaxRetries, 0))), ctx)
}

// sendChunk uploads one chunk with retries. Every attempt, including the
// first and each one after a backoff wait, first checks that the file is
// still uploading; a pause ends the loop with errStopped.
func (c *Coordinator) sendChunk(ctx context.Context, f UploadFile, ch *chunk.Chunk) error {
	attempt := func() error {
		if !c.isUploading(f.ID) {
			return backoff.Permanent(errStopped)
		}
		ch.Status = chunk.StatusUploading

		err := c.uploadOnce(ctx, f.SessionID, ch)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		ch.Retries++
		c.log.Warn("chunk upload failed, retrying",
			slog.String("file_id", f.ID),
			slog.Int("chunk_index", ch.Range.Index),
			slog.Int("retry", ch.Retries),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		c.emit(Event{
			Kind:       EventRetry,
			FileID:     f.ID,
			Status:     StatusUploading,
			ChunkIndex: ch.Range.Index,
			Attempt:    ch.Retries,
			Err:        err,
		})
	}

	if err := backoff.RetryNotify(attempt, c.newBackOff(ctx), notify); err != nil {
		if errors.Is(err, errStopped) {
			return err
		}
		ch.Status = chunk.StatusFailed
		return fmt.Errorf("chunk %d: %w", ch.Range.Index, err)
	}
	ch.Status = chunk.StatusUploaded
	return nil
}

// uploadOnce reads the chunk from its source and sends it. Source failures
// are classified by Retryable like transfer failures.
func (c *Coordinator) uploadOnce(ctx context.Context, sessionID string, ch *chunk.Chunk) error {
	body, err := ch.Source.Open(ctx, ch.Range)
	if err != nil {
		return err
	}
	defer body.Close()

	_, err = c.transport.UploadChunk(ctx, sessionID, ch.Range.Index, body)
	return err
}

func (c *Coordinator) finalize(ctx context.Context, f UploadFile) error {
	size := f.Size
	resp, err := c.transport.Finalize(ctx, types.FinalizeUploadRequest{
		UploadID:    f.SessionID,
		TotalChunks: f.TotalChunks,
		FileName:    f.Name,
		FileSize:    &size,
		MimeType:    f.finalizeMIME(),
		Checksum:    checksum(f.Source),
	})
	if apiErr, dup := isDuplicate(err); dup {
		c.complete(f.ID, apiErr.FilePath, true)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	c.complete(f.ID, resp.FilePath, false)
	return nil
}

// checksum hashes local content so the server can skip reassembly of
// duplicates. Remote sources are not read twice.
func checksum(src chunk.Source) string {
	switch s := src.(type) {
	case chunk.BufferSource:
		return crypto.HashBytes(s.Data)
	case chunk.FileSource:
		sum, err := crypto.HashFile(s.Path)
		if err != nil {
			return ""
		}
		return sum
	default:
		return ""
	}
}

func (c *Coordinator) complete(id, filePath string, duplicate bool) {
	c.mu.Lock()
	f, ok := c.updateLocked(id, func(f *UploadFile) {
		f.Status = StatusCompleted
		f.UploadedChunks = f.TotalChunks
		f.FilePath = filePath
		f.Duplicate = duplicate
		f.ErrorMessage = ""
	})
	c.queue = slices.DeleteFunc(slices.Clone(c.queue), func(q string) bool { return q == id })
	c.mu.Unlock()
	if !ok {
		return
	}

	message := "upload complete"
	if duplicate {
		message = "already uploaded"
	}
	c.log.Info(message,
		slog.String("file_id", id),
		slog.String("name", f.Name),
		slog.String("size", humanize.IBytes(uint64(f.Size))),
		slog.String("path", filePath),
	)
	c.emit(Event{Kind: EventCompleted, FileID: id, Status: StatusCompleted, Message: message})

	if c.store != nil {
		err := c.store.AddHistory(HistoryEntry{
			ID:          f.ID,
			Name:        f.Name,
			Size:        f.Size,
			FilePath:    filePath,
			Duplicate:   duplicate,
			CompletedAt: time.Now(),
		})
		if err != nil {
			c.log.Warn("failed to record upload history", slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) fail(id string, err error) {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return
	}

	message := UserMessage(err)
	if isStatus(err, http.StatusRequestEntityTooLarge) {
		message = fmt.Sprintf("file too large (%s)", humanize.IBytes(uint64(c.files[i].Size)))
	}
	f, _ := c.updateLocked(id, func(f *UploadFile) {
		f.Status = StatusError
		f.ErrorMessage = message
	})
	c.mu.Unlock()

	c.log.Error("upload failed",
		slog.String("file_id", id),
		slog.String("name", f.Name),
		slog.String("error", err.Error()),
	)
	c.emit(Event{Kind: EventStatus, FileID: id, Status: StatusError, Err: err, Message: message})
}
