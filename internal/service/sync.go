package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"postgarden/internal/domain"
	"postgarden/internal/resolver"
)

const passKey = "sync"

// Config holds sync service configuration.
type Config struct {
	Channels []domain.Channel
	Workers  int
}

// SyncService runs synchronization passes against one cache root.
// Overlapping Sync calls join the pass already in flight.
type SyncService struct {
	origin    Origin
	cache     CacheStore
	journal   Journal
	publisher Publisher
	channels  []domain.Channel
	workers   int
	logger    *slog.Logger

	state  atomic.Int32
	flight singleflight.Group
	now    func() time.Time
}

// NewSyncService wires a sync service. journal and publisher may be nil.
func NewSyncService(
	origin Origin,
	cache CacheStore,
	journal Journal,
	publisher Publisher,
	logger *slog.Logger,
	cfg Config,
) *SyncService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = len(cfg.Channels)
	}
	if workers <= 0 {
		workers = 1
	}
	return &SyncService{
		origin:    origin,
		cache:     cache,
		journal:   journal,
		publisher: publisher,
		channels:  cfg.Channels,
		workers:   workers,
		logger:    logger.With("component", "sync"),
		now:       time.Now,
	}
}

// State returns the current phase of the pass state machine.
func (s *SyncService) State() domain.SyncState {
	return domain.SyncState(s.state.Load())
}

func (s *SyncService) setState(st domain.SyncState) {
	s.state.Store(int32(st))
	s.logger.Debug("sync state", "state", st.String())
}

// Sync runs one pass, or waits for the pass already running and returns its
// result. Failures of individual channels are reported in the stats; the
// returned error is set only when the pass as a whole could not proceed.
func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	v, err, shared := s.flight.Do(passKey, func() (any, error) {
		return s.run(ctx)
	})
	if shared {
		s.logger.Debug("joined in-flight sync pass")
	}
	stats, _ := v.(*domain.SyncStats)
	return stats, err
}

func (s *SyncService) run(ctx context.Context) (*domain.SyncStats, error) {
	stats := &domain.SyncStats{StartedAt: s.now()}
	defer s.setState(domain.StateIdle)

	s.setState(domain.StateResolvingVersions)
	s.logger.Info("starting sync", "channels", len(s.channels))

	remote, err := s.origin.FetchManifest(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrNoManifest, err)
		stats.Reason = domain.FailureReason(err)
		stats.Duration = time.Since(stats.StartedAt)
		s.logger.Warn("sync aborted", "error", err)
		return stats, err
	}

	local, err := s.cache.ReadManifest()
	if err != nil {
		s.logger.Warn("local manifest unreadable, treating every channel as stale", "error", err)
		local = nil
	}

	stats.Stale = resolver.Stale(s.channels, remote, local)
	if len(stats.Stale) == 0 {
		s.setState(domain.StateNoUpdateNeeded)
		stats.Duration = time.Since(stats.StartedAt)
		s.logger.Info("sync completed, no update needed", "duration", stats.Duration)
		return stats, nil
	}

	s.setState(domain.StateInstalling)
	s.logger.Info("channels to install", "stale", stats.Stale)
	stats.Results = s.installAll(ctx, remote, stats.Stale)

	var installed []domain.Channel
	var firstErr error
	for _, r := range stats.Results {
		if r.Installed {
			stats.Installed++
			installed = append(installed, r.Channel)
			continue
		}
		stats.Failed++
		if firstErr == nil {
			firstErr = r.Err
		}
	}
	stats.Changed = stats.Installed > 0

	s.setState(domain.StateCommitting)
	var passErr error
	if stats.Failed == 0 {
		next := resolver.Merge(s.channels, remote, local, installed)
		if err := s.cache.WriteManifest(next); err != nil {
			passErr = fmt.Errorf("commit manifest: %w", err)
			stats.Reason = domain.FailureReason(err)
			s.logger.Error("failed to commit manifest", "error", err)
		} else {
			stats.Committed = true
		}
	} else {
		stats.Reason = domain.FailureReason(firstErr)
		s.logger.Warn("manifest not committed, some channels failed",
			"installed", stats.Installed,
			"failed", stats.Failed,
		)
	}

	s.publish(ctx, stats)

	if stats.Installed > 0 {
		s.cache.Purge(s.now())
	}

	stats.Duration = time.Since(stats.StartedAt)
	s.record(ctx, stats)

	s.logger.Info("sync completed",
		"installed", stats.Installed,
		"failed", stats.Failed,
		"committed", stats.Committed,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, passErr
}

// installAll fetches and installs every stale channel on a bounded pool and
// waits for all of them before returning.
func (s *SyncService) installAll(ctx context.Context, remote domain.Manifest, stale []domain.Channel) []domain.ChannelResult {
	results := make([]domain.ChannelResult, len(stale))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, c := range stale {
		id, _ := remote.Get(c)
		g.Go(func() error {
			results[i] = s.installChannel(ctx, c, id)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *SyncService) installChannel(ctx context.Context, c domain.Channel, identifier string) domain.ChannelResult {
	start := time.Now()
	log := s.logger.With("channel", c, "identifier", identifier)
	result := domain.ChannelResult{Channel: c, Identifier: identifier}

	data, err := s.origin.FetchArchive(ctx, identifier)
	if err == nil {
		err = s.cache.Install(ctx, c, data, identifier)
	}
	result.Duration = time.Since(start)

	if err != nil {
		result.Err = err
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrLocalStorage) {
			level = slog.LevelError
		}
		log.Log(ctx, level, "channel install failed", "error", err)
		return result
	}

	result.Installed = true
	log.Debug("channel installed", "duration", result.Duration)
	return result
}

func (s *SyncService) publish(ctx context.Context, stats *domain.SyncStats) {
	if s.publisher == nil {
		return
	}
	for i := range stats.Results {
		r := &stats.Results[i]
		if !r.Installed {
			continue
		}
		if err := s.publisher.Publish(ctx, r, stats.Committed); err != nil {
			s.logger.Warn("failed to publish channel update", "channel", r.Channel, "error", err)
			continue
		}
		stats.Published++
	}
}

func (s *SyncService) record(ctx context.Context, stats *domain.SyncStats) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordPass(ctx, stats); err != nil {
		s.logger.Warn("failed to record sync pass", "error", err)
	}
}
