package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

func (s *SyncStateStore) Get(ctx context.Context, channel string) (*ChannelState, error) {
	var state ChannelState
	query := `
		SELECT channel, identifier, last_installed_at, last_attempt_at, last_error, total_installs
		FROM channel_sync_state
		WHERE channel = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, channel)
	if errors.Is(err, sql.ErrNoRows) {
		// Return empty state for channels never attempted
		return &ChannelState{Channel: channel}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SyncStateStore) List(ctx context.Context) ([]ChannelState, error) {
	var states []ChannelState
	query := `
		SELECT channel, identifier, last_installed_at, last_attempt_at, last_error, total_installs
		FROM channel_sync_state
		ORDER BY channel`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &states, query); err != nil {
		return nil, err
	}
	return states, nil
}

// RecordAttempt upserts the outcome of one install attempt. A failed attempt
// keeps the identifier of the last successful install.
func (s *SyncStateStore) RecordAttempt(ctx context.Context, channel, identifier string, at time.Time, installErr string) error {
	var installedAt *time.Time
	installs := 0
	if installErr == "" {
		installedAt = &at
		installs = 1
	} else {
		identifier = ""
	}

	query := `
		INSERT INTO channel_sync_state (channel, identifier, last_installed_at, last_attempt_at, last_error, total_installs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel) DO UPDATE SET
			identifier = CASE WHEN EXCLUDED.last_error = '' THEN EXCLUDED.identifier
				ELSE channel_sync_state.identifier END,
			last_installed_at = COALESCE(EXCLUDED.last_installed_at, channel_sync_state.last_installed_at),
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_error = EXCLUDED.last_error,
			total_installs = channel_sync_state.total_installs + EXCLUDED.total_installs`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		channel,
		identifier,
		installedAt,
		at,
		installErr,
		installs,
	)
	return err
}
