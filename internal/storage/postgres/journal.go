package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"postgarden/internal/domain"
)

// Journal records sync passes and per-channel outcomes.
type Journal struct {
	tx     *TransactionManager
	passes *PassStore
	states *SyncStateStore
}

func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{
		tx:     NewTransactionManager(db),
		passes: NewPassStore(db),
		states: NewSyncStateStore(db),
	}
}

// RecordPass writes the pass and every channel result in one transaction.
func (j *Journal) RecordPass(ctx context.Context, stats *domain.SyncStats) error {
	return j.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		passID, err := j.passes.Insert(txCtx, &PassRecord{
			StartedAt:  stats.StartedAt,
			DurationMs: stats.Duration.Milliseconds(),
			Stale:      len(stats.Stale),
			Installed:  stats.Installed,
			Failed:     stats.Failed,
			Changed:    stats.Changed,
			Committed:  stats.Committed,
			Reason:     stats.Reason,
		})
		if err != nil {
			return fmt.Errorf("insert pass: %w", err)
		}

		finished := stats.StartedAt.Add(stats.Duration)
		for _, r := range stats.Results {
			errText := ""
			if r.Err != nil {
				errText = r.Err.Error()
			}
			if err := j.passes.InsertInstall(txCtx, &InstallRecord{
				PassID:     passID,
				Channel:    r.Channel.String(),
				Identifier: r.Identifier,
				Success:    r.Installed,
				Error:      errText,
				DurationMs: r.Duration.Milliseconds(),
				FinishedAt: finished,
			}); err != nil {
				return fmt.Errorf("insert install %s: %w", r.Channel, err)
			}
			if err := j.states.RecordAttempt(txCtx, r.Channel.String(), r.Identifier, finished, errText); err != nil {
				return fmt.Errorf("update channel state %s: %w", r.Channel, err)
			}
		}
		return nil
	})
}

func (j *Journal) Channels(ctx context.Context) ([]ChannelState, error) {
	return j.states.List(ctx)
}

// Channel returns the journaled state of one channel; a channel never
// attempted yields an empty state.
func (j *Journal) Channel(ctx context.Context, channel string) (*ChannelState, error) {
	return j.states.Get(ctx, channel)
}

// PassInstalls returns the channel attempts of one pass in insertion order.
func (j *Journal) PassInstalls(ctx context.Context, passID int64) ([]InstallRecord, error) {
	return j.passes.Installs(ctx, passID)
}

func (j *Journal) RecentPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	return j.passes.Recent(ctx, limit)
}
