package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/chunk"
	"github.com/ilkin0/chunkup/internal/database"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/metrics"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type SessionConfig struct {
	// ChunkSize is the default and the largest chunk size a client may pick.
	ChunkSize   int64
	MaxFileSize int64
}

// SessionService opens upload sessions, receives chunks and reports
// progress.
type SessionService struct {
	repository sqlc.Querier
	runTx      database.TxRunner
	sessions   *storage.Sessions
	cache      statuscache.Cache
	locks      *SessionLocks
	cfg        SessionConfig
}

func NewSessionService(
	repository sqlc.Querier,
	runTx database.TxRunner,
	sessions *storage.Sessions,
	cache statuscache.Cache,
	locks *SessionLocks,
	cfg SessionConfig,
) *SessionService {
	return &SessionService{
		repository: repository,
		runTx:      runTx,
		sessions:   sessions,
		cache:      cache,
		locks:      locks,
		cfg:        cfg,
	}
}

func (s *SessionService) Initiate(ctx context.Context, req types.InitiateUploadRequest) (types.InitiateUploadResponse, error) {
	if err := s.validateInitiate(req); err != nil {
		return types.InitiateUploadResponse{}, err
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.ChunkSize
	}
	fileSize := *req.FileSize
	total := chunk.Count(fileSize, chunkSize)
	id := uuid.New()
	uploadID := id.String()

	err := s.runTx(ctx, func(q sqlc.Querier) error {
		session, err := q.CreateUploadSession(ctx, sqlc.CreateUploadSessionParams{
			ID:          pgtype.UUID{Bytes: id, Valid: true},
			FileName:    strings.TrimSpace(req.FileName),
			FileSize:    fileSize,
			MimeType:    req.MimeType,
			OwnerID:     req.UserID,
			ChunkSize:   chunkSize,
			ChunksTotal: int32(total),
		})
		if err != nil {
			return fmt.Errorf("failed to create session record: %w", err)
		}

		if err := s.sessions.Create(uploadID); err != nil {
			return err
		}

		if err := s.cache.SaveMetadata(ctx, metadataFromSession(session)); err != nil {
			s.sessions.Remove(uploadID)
			return fmt.Errorf("failed to cache session metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.InitiateUploadResponse{}, err
	}

	metrics.SessionsInitiated.Inc()
	logger.FromContext(ctx).Info("upload session initiated",
		slog.String("upload_id", uploadID),
		slog.String("file_name", req.FileName),
		slog.Int64("file_size", fileSize),
		slog.Int("total_chunks", total),
	)

	return types.InitiateUploadResponse{
		Result:      types.Result{Success: true},
		UploadID:    uploadID,
		ChunkSize:   chunkSize,
		TotalChunks: total,
	}, nil
}

func (s *SessionService) validateInitiate(req types.InitiateUploadRequest) error {
	var missing []string
	if strings.TrimSpace(req.FileName) == "" {
		missing = append(missing, "fileName")
	}
	if req.FileSize == nil {
		missing = append(missing, "fileSize")
	}
	if strings.TrimSpace(req.MimeType) == "" {
		missing = append(missing, "mimeType")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return validationError("missing required fields: %s", strings.Join(missing, ", "))
	}

	if *req.FileSize < 0 {
		return validationError("fileSize must not be negative")
	}
	if s.cfg.MaxFileSize > 0 && *req.FileSize > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, *req.FileSize, s.cfg.MaxFileSize)
	}
	if req.ChunkSize < 0 || req.ChunkSize > s.cfg.ChunkSize {
		return validationError("chunkSize must be between 1 and %d", s.cfg.ChunkSize)
	}
	return nil
}

// ReceiveChunk stores one chunk. Re-sending an index replaces the earlier
// copy.
func (s *SessionService) ReceiveChunk(ctx context.Context, uploadID string, index int, body io.Reader) (types.ChunkUploadResponse, error) {
	if uploadID == "" {
		return types.ChunkUploadResponse{}, validationError("uploadId is required")
	}
	ctx = logger.WithUploadID(ctx, uploadID)

	unlock := s.locks.RLock(uploadID)
	defer unlock()

	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return types.ChunkUploadResponse{}, err
	}
	if index < 1 || index > int(session.ChunksTotal) {
		return types.ChunkUploadResponse{}, validationError("chunkIndex %d out of range [1, %d]", index, session.ChunksTotal)
	}

	n, err := s.sessions.WriteChunk(uploadID, index, body, session.ChunkSize)
	if err != nil {
		if errors.Is(err, storage.ErrChunkTooLarge) {
			return types.ChunkUploadResponse{}, fmt.Errorf("%w: chunk larger than %d bytes", ErrFileTooLarge, session.ChunkSize)
		}
		return types.ChunkUploadResponse{}, err
	}

	received, err := s.cache.MarkChunk(ctx, uploadID, index)
	if err != nil {
		return types.ChunkUploadResponse{}, fmt.Errorf("failed to record chunk: %w", err)
	}

	metrics.ChunksReceived.Inc()
	metrics.ChunkBytes.Add(float64(n))
	logger.FromContext(ctx).Debug("chunk received",
		slog.Int("chunk_index", index),
		slog.Int64("bytes", n),
		slog.Int("chunks_received", received),
	)

	return types.ChunkUploadResponse{
		Result:         types.Result{Success: true, Message: fmt.Sprintf("chunk %d received", index)},
		UploadID:       uploadID,
		ChunkIndex:     index,
		ChunksReceived: received,
	}, nil
}

// Status reports the received chunk indices. The count is always the size of
// the index set. When the cache has expired a live session's entries, they
// are rebuilt from the session directory.
func (s *SessionService) Status(ctx context.Context, uploadID string) (types.UploadStatusResponse, error) {
	if uploadID == "" {
		return types.UploadStatusResponse{}, validationError("uploadId is required")
	}
	ctx = logger.WithUploadID(ctx, uploadID)

	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return types.UploadStatusResponse{}, err
	}

	indices, err := s.receivedChunks(ctx, session, uploadID)
	if err != nil {
		return types.UploadStatusResponse{}, err
	}

	return types.UploadStatusResponse{
		Result:         types.Result{Success: true},
		UploadID:       uploadID,
		ChunksReceived: len(indices),
		ChunkIndices:   indices,
		TotalChunks:    int(session.ChunksTotal),
	}, nil
}

func (s *SessionService) receivedChunks(ctx context.Context, session sqlc.UploadSession, uploadID string) ([]int, error) {
	_, err := s.cache.Metadata(ctx, uploadID)
	if err == nil {
		return s.cache.ReceivedChunks(ctx, uploadID)
	}
	if !errors.Is(err, statuscache.ErrNotFound) {
		return nil, fmt.Errorf("failed to read session status: %w", err)
	}

	indices, err := s.sessions.ListChunks(uploadID)
	if errors.Is(err, os.ErrNotExist) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session chunks: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info("rebuilding expired chunk status from disk",
		slog.Int("chunks_on_disk", len(indices)),
	)
	if err := s.cache.SaveMetadata(ctx, metadataFromSession(session)); err != nil {
		log.Warn("failed to re-cache session metadata", slog.String("error", err.Error()))
	}
	for _, i := range indices {
		if _, err := s.cache.MarkChunk(ctx, uploadID, i); err != nil {
			log.Warn("failed to re-cache chunk", slog.Int("chunk_index", i), slog.String("error", err.Error()))
			break
		}
	}
	return indices, nil
}

func (s *SessionService) loadSession(ctx context.Context, uploadID string) (sqlc.UploadSession, error) {
	return getSession(ctx, s.repository, uploadID)
}

// getSession resolves an upload id. Malformed ids are reported as not found.
func getSession(ctx context.Context, q sqlc.Querier, uploadID string) (sqlc.UploadSession, error) {
	id, err := parseUploadID(uploadID)
	if err != nil {
		return sqlc.UploadSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, uploadID)
	}

	session, err := q.GetUploadSession(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return sqlc.UploadSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, uploadID)
	}
	if err != nil {
		return sqlc.UploadSession{}, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

func parseUploadID(uploadID string) (pgtype.UUID, error) {
	u, err := uuid.Parse(uploadID)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func metadataFromSession(s sqlc.UploadSession) statuscache.Metadata {
	return statuscache.Metadata{
		UploadID:    uuid.UUID(s.ID.Bytes).String(),
		FileName:    s.FileName,
		FileSize:    s.FileSize,
		MimeType:    s.MimeType,
		UserID:      s.OwnerID,
		ChunkSize:   s.ChunkSize,
		ChunksTotal: int(s.ChunksTotal),
		CreatedAt:   s.CreatedAt.Time,
	}
}
