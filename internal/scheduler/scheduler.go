package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/service"
)

// Sweeper is the job the scheduler runs on every tick.
type Sweeper interface {
	Sweep(ctx context.Context) (service.CleanupReport, error)
}

type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	log      *slog.Logger

	runMu sync.Mutex // one sweep at a time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(sweeper Sweeper, interval time.Duration) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		log:      logger.Component("scheduler"),
	}
}

// Start runs a sweep immediately and then every interval until Stop is
// called or ctx is cancelled. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.log.Info("scheduler started", slog.Duration("interval", s.interval))
	go s.run(runCtx, s.done)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single sweep. Concurrent calls are serialized.
func (s *Scheduler) RunOnce(ctx context.Context) service.CleanupReport {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.log.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	if report.SessionsRemoved > 0 || report.RecordsReaped > 0 || report.FilesRemoved > 0 {
		s.log.Info("cleanup job completed",
			slog.Int("sessions_removed", report.SessionsRemoved),
			slog.Int("records_reaped", report.RecordsReaped),
			slog.Int("files_removed", report.FilesRemoved),
		)
	}
	return report
}
