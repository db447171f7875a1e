package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/metrics"
	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/ilkin0/chunkup/internal/statuscache"
	"github.com/ilkin0/chunkup/internal/storage"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"
)

// ChecksumCleaner prunes dedup records past the retention window.
type ChecksumCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

type CleanupReport struct {
	SessionsRemoved int
	RecordsReaped   int
	FilesRemoved    int
}

// CleanupService reclaims abandoned sessions and expired checksum records.
type CleanupService struct {
	repository sqlc.Querier
	sessions   *storage.Sessions
	cache      statuscache.Cache
	checksums  ChecksumCleaner
	locks      *SessionLocks
	retention  time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewCleanupService(
	repository sqlc.Querier,
	sessions *storage.Sessions,
	cache statuscache.Cache,
	checksums ChecksumCleaner,
	locks *SessionLocks,
	retention time.Duration,
) *CleanupService {
	return &CleanupService{
		repository: repository,
		sessions:   sessions,
		cache:      cache,
		checksums:  checksums,
		locks:      locks,
		retention:  retention,
		log:        logger.Component("cleanup"),
		now:        time.Now,
	}
}

// Sweep runs the session sweep and the checksum sweep concurrently. Each
// runs to completion regardless of the other; their errors are joined.
func (s *CleanupService) Sweep(ctx context.Context) (CleanupReport, error) {
	start := s.now()
	cutoff := start.Add(-s.retention)

	var (
		report             CleanupReport
		sessionErr, sumErr error
		g                  errgroup.Group
	)

	g.Go(func() error {
		report.SessionsRemoved, report.RecordsReaped, sessionErr = s.sweepSessions(ctx, cutoff)
		return nil
	})
	g.Go(func() error {
		report.FilesRemoved, sumErr = s.checksums.Cleanup(ctx, s.retention)
		if sumErr != nil {
			metrics.CleanupErrors.WithLabelValues("checksums").Inc()
			sumErr = fmt.Errorf("checksum sweep: %w", sumErr)
		}
		return nil
	})
	g.Wait()

	metrics.CleanupRuns.Inc()
	metrics.CleanupRemoved.WithLabelValues("sessions").Add(float64(report.SessionsRemoved))
	metrics.CleanupRemoved.WithLabelValues("records").Add(float64(report.RecordsReaped))
	metrics.CleanupRemoved.WithLabelValues("files").Add(float64(report.FilesRemoved))
	metrics.CleanupDuration.Observe(time.Since(start).Seconds())

	return report, errors.Join(sessionErr, sumErr)
}

// sweepSessions removes session directories last modified before cutoff
// along with their records. Records older than cutoff are reaped only when
// their directory is gone; a live directory means the upload is still
// within its window.
func (s *CleanupService) sweepSessions(ctx context.Context, cutoff time.Time) (removed, reaped int, err error) {
	stale, err := s.sessions.Stale(cutoff)
	if err != nil {
		metrics.CleanupErrors.WithLabelValues("sessions").Inc()
		return 0, 0, fmt.Errorf("session sweep: %w", err)
	}

	for _, st := range stale {
		if ctx.Err() != nil {
			return removed, reaped, ctx.Err()
		}
		dirRemoved, recordRemoved := s.removeSession(ctx, st.UploadID)
		if dirRemoved {
			removed++
		}
		if recordRemoved {
			reaped++
		}
	}

	ids, err := s.repository.ListUploadSessionsCreatedBefore(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		metrics.CleanupErrors.WithLabelValues("records").Inc()
		return removed, reaped, fmt.Errorf("session record sweep: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return removed, reaped, ctx.Err()
		}
		if s.reapOrphan(ctx, id) {
			reaped++
		}
	}
	return removed, reaped, nil
}

// removeSession deletes a stale directory, then its record.
func (s *CleanupService) removeSession(ctx context.Context, uploadID string) (dirRemoved, recordRemoved bool) {
	log := s.log.With(slog.String("upload_id", uploadID))

	if err := s.cache.Clear(ctx, uploadID); err != nil {
		log.Warn("failed to clear chunk status", slog.String("error", err.Error()))
	}

	unlock := s.locks.Lock(uploadID)
	err := s.sessions.Remove(uploadID)
	unlock()
	if err != nil {
		metrics.CleanupErrors.WithLabelValues("sessions").Inc()
		log.Error("failed to remove stale session", slog.String("error", err.Error()))
		return false, false
	}
	log.Info("stale session removed")

	id, err := parseUploadID(uploadID)
	if err != nil {
		return true, false
	}
	// a failed delete leaves a record without a directory, reaped next sweep
	if err := s.repository.DeleteUploadSession(ctx, id); err != nil {
		log.Warn("failed to delete session record", slog.String("error", err.Error()))
		return true, false
	}
	return true, true
}

// reapOrphan deletes an old record whose directory no longer exists.
func (s *CleanupService) reapOrphan(ctx context.Context, id pgtype.UUID) bool {
	uploadID := uuid.UUID(id.Bytes).String()
	log := s.log.With(slog.String("upload_id", uploadID))

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	exists, err := s.sessions.Exists(uploadID)
	if err != nil {
		log.Warn("failed to check session directory", slog.String("error", err.Error()))
		return false
	}
	if exists {
		return false
	}

	if err := s.repository.DeleteUploadSession(ctx, id); err != nil {
		metrics.CleanupErrors.WithLabelValues("records").Inc()
		log.Warn("failed to delete session record", slog.String("error", err.Error()))
		return false
	}
	if err := s.cache.Clear(ctx, uploadID); err != nil {
		log.Warn("failed to clear chunk status", slog.String("error", err.Error()))
	}
	log.Info("orphaned session record reaped")
	return true
}
