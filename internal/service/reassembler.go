package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/crypto"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/metrics"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
)

// DedupIndex is the part of the checksum index finalize consults.
type DedupIndex interface {
	FindByChecksum(ctx context.Context, checksum, ownerID string) (string, bool, error)
	Store(ctx context.Context, checksum, path, ownerID string) error
}

// Reassembler turns a complete session into a single final file.
type Reassembler struct {
	repository sqlc.Querier
	sessions   *storage.Sessions
	cache      statuscache.Cache
	final      storage.FinalStore
	dedup      DedupIndex
	locks      *SessionLocks
	names      *SessionLocks
	workDir    string
}

// NewReassembler assembles into workDir before handing the file to final.
// workDir must be on the same filesystem as the local final directory.
func NewReassembler(
	repository sqlc.Querier,
	sessions *storage.Sessions,
	cache statuscache.Cache,
	final storage.FinalStore,
	dedup DedupIndex,
	locks *SessionLocks,
	workDir string,
) *Reassembler {
	return &Reassembler{
		repository: repository,
		sessions:   sessions,
		cache:      cache,
		final:      final,
		dedup:      dedup,
		locks:      locks,
		names:      NewSessionLocks(),
		workDir:    workDir,
	}
}

type assembled struct {
	path     string
	size     int64
	checksum string
	mime     *mimetype.MIME
}

func (r *Reassembler) Finalize(ctx context.Context, req types.FinalizeUploadRequest) (resp types.FinalizeUploadResponse, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		switch {
		case errors.Is(err, ErrDuplicate):
			result = metrics.ResultDuplicate
		case err != nil:
			result = metrics.ResultError
		}
		metrics.Finalizations.WithLabelValues(result).Inc()
		metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validateFinalize(req); err != nil {
		return types.FinalizeUploadResponse{}, err
	}

	unlock := r.locks.Lock(req.UploadID)
	defer unlock()

	ctx = logger.WithUploadID(ctx, req.UploadID)
	log := logger.FromContext(ctx)

	session, err := getSession(ctx, r.repository, req.UploadID)
	if err != nil {
		return types.FinalizeUploadResponse{}, err
	}
	if req.TotalChunks != int(session.ChunksTotal) {
		return types.FinalizeUploadResponse{}, validationError("totalChunks %d does not match session (%d)", req.TotalChunks, session.ChunksTotal)
	}

	ok, err := r.sessions.Exists(req.UploadID)
	if err != nil {
		return types.FinalizeUploadResponse{}, fmt.Errorf("failed to check session directory: %w", err)
	}
	if !ok {
		return types.FinalizeUploadResponse{}, fmt.Errorf("%w: session directory missing", ErrSessionNotFound)
	}

	if req.Checksum != "" {
		if path, found := r.findDuplicate(ctx, req.Checksum, session.OwnerID); found {
			log.Info("duplicate detected before reassembly", slog.String("existing_path", path))
			r.cleanupSession(ctx, req.UploadID)
			return types.FinalizeUploadResponse{}, &DuplicateError{Path: path}
		}
	}

	if err := r.verifyChunks(req.UploadID, req.TotalChunks); err != nil {
		return types.FinalizeUploadResponse{}, err
	}

	out, err := r.assemble(req.UploadID, req.TotalChunks)
	if err != nil {
		return types.FinalizeUploadResponse{}, err
	}
	// until the file is placed, every failure removes the partial output
	placed := false
	defer func() {
		if !placed {
			os.Remove(out.path)
		}
	}()

	if err := validateAssembled(out, session, req); err != nil {
		log.Warn("assembled file rejected", slog.String("error", err.Error()))
		return types.FinalizeUploadResponse{}, err
	}

	if path, found := r.findDuplicate(ctx, out.checksum, session.OwnerID); found {
		log.Info("duplicate detected after reassembly", slog.String("existing_path", path))
		r.cleanupSession(ctx, req.UploadID)
		return types.FinalizeUploadResponse{}, &DuplicateError{Path: path}
	}

	location, err := r.place(ctx, out, req.FileName, req.UploadID)
	if err != nil {
		return types.FinalizeUploadResponse{}, err
	}
	placed = true

	if err := r.dedup.Store(ctx, out.checksum, location, session.OwnerID); err != nil {
		if rmErr := r.final.Remove(ctx, location); rmErr != nil {
			log.Error("failed to remove final file after error", slog.String("path", location), slog.String("error", rmErr.Error()))
		}
		return types.FinalizeUploadResponse{}, fmt.Errorf("failed to record checksum: %w", err)
	}

	r.cleanupSession(ctx, req.UploadID)

	log.Info("upload finalized",
		slog.String("path", location),
		slog.Int64("size", out.size),
		slog.String("checksum", out.checksum),
		slog.Duration("took", time.Since(start)),
	)

	return types.FinalizeUploadResponse{
		Result:   types.Result{Success: true, Message: "upload finalized"},
		FilePath: location,
		Checksum: out.checksum,
		FileSize: out.size,
	}, nil
}

func validateFinalize(req types.FinalizeUploadRequest) error {
	var missing []string
	if req.UploadID == "" {
		missing = append(missing, "uploadId")
	}
	if req.TotalChunks <= 0 {
		missing = append(missing, "totalChunks")
	}
	if strings.TrimSpace(req.FileName) == "" {
		missing = append(missing, "fileName")
	}
	if len(missing) > 0 {
		return validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// verifyChunks requires chunk_1..chunk_total to all be present.
func (r *Reassembler) verifyChunks(uploadID string, total int) error {
	indices, err := r.sessions.ListChunks(uploadID)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	present := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		present[i] = struct{}{}
	}
	for i := 1; i <= total; i++ {
		if _, ok := present[i]; !ok {
			return fmt.Errorf("%w %d", ErrMissingChunk, i)
		}
	}
	return nil
}

// assemble streams chunk_1..chunk_total, in numeric order, into a hidden
// part file while hashing it.
func (r *Reassembler) assemble(uploadID string, total int) (assembled, error) {
	if err := os.MkdirAll(r.workDir, 0o750); err != nil {
		return assembled{}, fmt.Errorf("failed to create work directory: %w", err)
	}

	partPath := filepath.Join(r.workDir, "."+uploadID+".part")
	f, err := os.Create(partPath)
	if err != nil {
		return assembled{}, fmt.Errorf("failed to create output file: %w", err)
	}

	hw := crypto.NewHashingWriter(f)
	err = func() error {
		for i := 1; i <= total; i++ {
			if err := appendChunk(hw, r.sessions.ChunkPath(uploadID, i)); err != nil {
				return fmt.Errorf("failed to append chunk %d: %w", i, err)
			}
		}
		return f.Sync()
	}()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partPath)
		return assembled{}, err
	}

	mt, err := mimetype.DetectFile(partPath)
	if err != nil {
		os.Remove(partPath)
		return assembled{}, fmt.Errorf("failed to detect content type: %w", err)
	}

	return assembled{
		path:     partPath,
		size:     hw.Written(),
		checksum: hw.Sum(),
		mime:     mt,
	}, nil
}

func appendChunk(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

func validateAssembled(out assembled, session sqlc.UploadSession, req types.FinalizeUploadRequest) error {
	if out.size != session.FileSize {
		return fmt.Errorf("%w: assembled %d bytes, expected %d", ErrIntegrity, out.size, session.FileSize)
	}
	if req.FileSize != nil && *req.FileSize != out.size {
		return fmt.Errorf("%w: assembled %d bytes, client reported %d", ErrIntegrity, out.size, *req.FileSize)
	}
	if req.MimeType != "" && !out.mime.Is(req.MimeType) {
		return fmt.Errorf("%w: type validation failed, expected %s but content is %s", ErrIntegrity, req.MimeType, out.mime)
	}
	if req.Checksum != "" && !crypto.CompareHash(req.Checksum, out.checksum) {
		return fmt.Errorf("%w: checksum mismatch", ErrIntegrity)
	}
	return nil
}

func (r *Reassembler) findDuplicate(ctx context.Context, checksum, ownerID string) (string, bool) {
	path, found, err := r.dedup.FindByChecksum(ctx, checksum, ownerID)
	if err != nil {
		logger.FromContext(ctx).Warn("dedup lookup failed", slog.String("error", err.Error()))
		return "", false
	}
	return path, found
}

// place stores the assembled file under the first free candidate name.
// Placements of the same base name are serialized and the store never
// replaces an existing file.
func (r *Reassembler) place(ctx context.Context, out assembled, fileName, uploadID string) (string, error) {
	base := finalBase(fileName)

	unlock := r.names.Lock(base)
	defer unlock()

	for _, name := range finalNames(base, uploadID) {
		taken, err := r.final.Exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to check final name: %w", err)
		}
		if taken {
			continue
		}

		location, err := r.final.Place(ctx, out.path, name, out.mime.String())
		if errors.Is(err, storage.ErrNameTaken) {
			logger.FromContext(ctx).Info("final name taken concurrently", slog.String("name", name))
			continue
		}
		return location, err
	}
	return "", fmt.Errorf("no free final name for %q", base)
}

// finalBase is the base name of fileName with path separators of either
// kind stripped.
func finalBase(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "upload"
	}
	return base
}

// finalNames lists the names tried in order: the base name, then the base
// name suffixed with the upload id prefix, then with the whole upload id.
func finalNames(base, uploadID string) []string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	names := []string{base}
	if len(uploadID) > 8 {
		names = append(names, stem+"_"+uploadID[:8]+ext)
	}
	return append(names, stem+"_"+uploadID+ext)
}

// cleanupSession drops the session's chunks, cache entries and record.
// Failures are logged; the retention sweep reclaims whatever is left.
func (r *Reassembler) cleanupSession(ctx context.Context, uploadID string) {
	log := logger.FromContext(ctx)

	if err := r.sessions.Remove(uploadID); err != nil {
		log.Warn("failed to remove session directory", slog.String("error", err.Error()))
	}
	if err := r.cache.Clear(ctx, uploadID); err != nil {
		log.Warn("failed to clear chunk status", slog.String("error", err.Error()))
	}
	if id, err := parseUploadID(uploadID); err == nil {
		if err := r.repository.DeleteUploadSession(ctx, id); err != nil {
			log.Warn("failed to delete session record", slog.String("error", err.Error()))
		}
	}
}
