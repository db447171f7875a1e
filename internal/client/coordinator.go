// Package client drives resumable chunked uploads against the upload server.
//
// A Coordinator owns a queue of files and runs up to MaxConcurrent of them
// at once. Each file is uploaded chunk by chunk, sequentially, with
// exponential backoff between retries. Pausing is cooperative: a running
// upload notices it before its next chunk attempt and stops without error.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ilkin0/chunkup/internal/chunk"
	"github.com/ilkin0/chunkup/internal/config"
	"github.com/ilkin0/chunkup/internal/logger"
)

var ErrUnknownFile = errors.New("unknown file")

const eventBuffer = 256

type Options struct {
	OwnerID        string
	ChunkSize      int64
	MaxConcurrent  int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		OwnerID:        cfg.OwnerID,
		ChunkSize:      cfg.ChunkSize,
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}
}

type Coordinator struct {
	transport Transport
	store     *Store
	opts      Options
	log       *slog.Logger
	events    chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	files  []UploadFile
	queue  []string
	active map[string]context.CancelFunc
	// idle is open while any upload runs and closed when the last one ends
	idle chan struct{}
}

// NewCoordinator builds a coordinator. store may be nil to disable
// persistence.
func NewCoordinator(transport Transport, store *Store, opts Options) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = config.DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		transport: transport,
		store:     store,
		opts:      opts,
		log:       logger.Component("coordinator"),
		events:    make(chan Event, eventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]context.CancelFunc),
	}
}

// Events delivers status changes, progress, retries and completions. Events
// are dropped when the consumer falls behind; Files always has the latest
// state.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Files returns the current file list.
func (c *Coordinator) Files() []UploadFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.files)
}

func (c *Coordinator) File(id string) (UploadFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return UploadFile{}, false
	}
	return c.files[i], true
}

// Restore reloads the persisted incomplete queue. Files that were mid-upload
// come back queued; paused and failed files keep their status.
func (c *Coordinator) Restore() (int, error) {
	if c.store == nil {
		return 0, nil
	}
	persisted, err := c.store.LoadQueue()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := slices.Clone(c.files)
	for _, p := range persisted {
		if c.indexLocked(p.ID) >= 0 {
			continue
		}
		f := p.restore()
		next = append(next, f)
		c.queue = append(c.queue, f.ID)
	}
	c.files = next
	c.persistLocked()
	return len(persisted), nil
}

func (c *Coordinator) Enqueue(spec FileSpec) (UploadFile, error) {
	if spec.Name == "" {
		return UploadFile{}, fmt.Errorf("file name is required")
	}
	if spec.Source == nil {
		return UploadFile{}, fmt.Errorf("file source is required")
	}
	if spec.Size < 0 {
		return UploadFile{}, fmt.Errorf("file size must not be negative")
	}
	if spec.MimeType == "" {
		spec.MimeType = defaultMIME
	}

	f := UploadFile{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Size:        spec.Size,
		MimeType:    spec.MimeType,
		Source:      spec.Source,
		Status:      StatusQueued,
		ChunkSize:   c.opts.ChunkSize,
		TotalChunks: chunk.Count(spec.Size, c.opts.ChunkSize),
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	c.files = append(slices.Clone(c.files), f)
	c.queue = append(c.queue, f.ID)
	c.persistLocked()
	c.mu.Unlock()

	c.log.Info("file enqueued",
		slog.String("file_id", f.ID),
		slog.String("name", f.Name),
		slog.String("size", humanize.IBytes(uint64(f.Size))),
		slog.Int("total_chunks", f.TotalChunks),
	)
	c.emit(Event{Kind: EventStatus, FileID: f.ID, Status: StatusQueued})
	return f, nil
}

// ProcessQueue starts queued uploads until MaxConcurrent are running. It is
// safe to call at any time and from any goroutine; a file that is already
// running is never started twice.
func (c *Coordinator) ProcessQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processQueueLocked()
}

func (c *Coordinator) processQueueLocked() {
	for len(c.active) < c.opts.MaxConcurrent {
		id, ok := c.popEligibleLocked()
		if !ok {
			return
		}
		c.startLocked(id)
	}
}

func (c *Coordinator) popEligibleLocked() (string, bool) {
	for i, id := range c.queue {
		if _, running := c.active[id]; running {
			continue
		}
		idx := c.indexLocked(id)
		if idx < 0 || c.files[idx].Status != StatusQueued {
			continue
		}
		c.queue = slices.Delete(slices.Clone(c.queue), i, i+1)
		return id, true
	}
	return "", false
}

func (c *Coordinator) startLocked(id string) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.active[id] = cancel
	if c.idle == nil {
		c.idle = make(chan struct{})
	}
	c.setStatusLocked(id, StatusUploading)

	go c.run(ctx, id)
}

func (c *Coordinator) run(ctx context.Context, id string) {
	defer c.finish(id)

	err := c.upload(ctx, id)
	if err == nil || errors.Is(err, errStopped) || ctx.Err() != nil {
		return
	}
	c.fail(id, err)
}

// finish releases the concurrency slot and lets the next queued file start,
// whatever the outcome of the upload.
func (c *Coordinator) finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.active[id]; ok {
		cancel()
		delete(c.active, id)
	}
	c.processQueueLocked()

	if len(c.active) == 0 && c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
}

// Wait blocks until no upload is running.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		idle := c.idle
		c.mu.Unlock()

		if idle == nil {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops every running upload and waits for them to exit. Files that
// were mid-upload stay persisted and resume after Restore.
func (c *Coordinator) Close() {
	c.cancel()
	c.Wait(context.Background())
}

func (c *Coordinator) Pause(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return ErrUnknownFile
	}
	switch c.files[i].Status {
	case StatusQueued, StatusUploading:
		c.setStatusLocked(id, StatusPaused)
		return nil
	case StatusPaused:
		return nil
	default:
		return fmt.Errorf("cannot pause a %s upload", c.files[i].Status)
	}
}

// Resume re-reads the server's progress for a paused or failed file, since
// another client may have advanced it, and queues it again.
func (c *Coordinator) Resume(ctx context.Context, id string) error {
	f, ok := c.File(id)
	if !ok {
		return ErrUnknownFile
	}
	switch f.Status {
	case StatusPaused, StatusError:
	case StatusQueued, StatusUploading:
		return nil
	default:
		return fmt.Errorf("cannot resume a %s upload", f.Status)
	}
	if f.Source == nil {
		return fmt.Errorf("%s: file is no longer available", f.Name)
	}

	if f.SessionID != "" {
		status, err := c.transport.Status(ctx, f.SessionID)
		switch {
		case err == nil:
			c.update(id, func(f *UploadFile) {
				f.UploadedChunks = reconcile(f.UploadedChunks, status.ChunksReceived)
			})
		case isStatus(err, 404):
			c.log.Info("upload session gone, will re-initiate", slog.String("file_id", id))
			c.update(id, func(f *UploadFile) {
				f.SessionID = ""
				f.UploadedChunks = 0
			})
		default:
			// the upload task queries status again before sending anything
			c.log.Warn("failed to refresh upload status", slog.String("file_id", id), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(id) < 0 {
		return ErrUnknownFile
	}
	c.updateLocked(id, func(f *UploadFile) { f.ErrorMessage = "" })
	c.setStatusLocked(id, StatusQueued)
	if !slices.Contains(c.queue, id) {
		c.queue = append(c.queue, id)
	}
	c.processQueueLocked()
	return nil
}

// Cancel drops the file locally. The server session is left for retention
// cleanup.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return ErrUnknownFile
	}
	if cancel, ok := c.active[id]; ok {
		cancel()
	}
	c.files = slices.Delete(slices.Clone(c.files), i, i+1)
	c.queue = slices.DeleteFunc(slices.Clone(c.queue), func(q string) bool { return q == id })
	c.persistLocked()

	c.emit(Event{Kind: EventStatus, FileID: id, Status: StatusCancelled})
	return nil
}

// ClearAll cancels everything and forgets the persisted queue.
func (c *Coordinator) ClearAll() error {
	c.mu.Lock()
	for _, cancel := range c.active {
		cancel()
	}
	c.files = nil
	c.queue = nil
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.ClearQueue()
}

func (c *Coordinator) isUploading(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	return i >= 0 && c.files[i].Status == StatusUploading
}

func (c *Coordinator) indexLocked(id string) int {
	return slices.IndexFunc(c.files, func(f UploadFile) bool { return f.ID == id })
}

// update applies fn to a copy of the file list and swaps it in. It reports
// false when the file is gone.
func (c *Coordinator) update(id string, fn func(*UploadFile)) (UploadFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(id, fn)
}

func (c *Coordinator) updateLocked(id string, fn func(*UploadFile)) (UploadFile, bool) {
	i := c.indexLocked(id)
	if i < 0 {
		return UploadFile{}, false
	}
	next := slices.Clone(c.files)
	fn(&next[i])
	c.files = next
	c.persistLocked()
	return next[i], true
}

func (c *Coordinator) setStatusLocked(id string, status Status) {
	if _, ok := c.updateLocked(id, func(f *UploadFile) { f.Status = status }); ok {
		c.emit(Event{Kind: EventStatus, FileID: id, Status: status})
	}
}

func (c *Coordinator) persistLocked() {
	if c.store == nil {
		return
	}
	if err := c.store.SaveQueue(c.files); err != nil {
		c.log.Warn("failed to persist upload queue", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

// reconcile picks the uploaded-chunk count to adopt. The server's count is
// authoritative: another client may have advanced the session, or chunks
// recorded locally may never have reached it.
func reconcile(local, server int) int {
	if local != server {
		return server
	}
	return local
}
