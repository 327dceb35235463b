package scheduler

import (
	"context"
	"log/slog"
	"time"

	"postgarden/internal/domain"
)

const defaultPassTimeout = 5 * time.Minute

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

type Scheduler struct {
	syncer      Syncer
	interval    time.Duration
	passTimeout time.Duration
	logger      *slog.Logger
	trigger     chan struct{}
}

func NewScheduler(syncer Syncer, interval, passTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if passTimeout <= 0 {
		passTimeout = defaultPassTimeout
	}
	return &Scheduler{
		syncer:      syncer,
		interval:    interval,
		passTimeout: passTimeout,
		logger:      logger.With("component", "scheduler"),
		trigger:     make(chan struct{}, 1),
	}
}

// Trigger queues an immediate pass. It returns ErrSyncInProgress when a
// manual pass is already queued.
func (s *Scheduler) Trigger() error {
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return domain.ErrSyncInProgress
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		case <-s.trigger:
			s.logger.Info("manual sync triggered")
			s.runSync(ctx)
			ticker.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	stats, err := s.syncer.Sync(syncCtx)
	if err != nil {
		s.logger.Error("sync failed", "error", err, "reason", domain.FailureReason(err))
		return
	}
	if stats != nil && stats.Failed > 0 {
		s.logger.Warn("sync finished with failures", "failed", stats.Failed, "reason", stats.Reason)
	}
}
