package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type PassStore struct {
	db *sqlx.DB
}

func NewPassStore(db *sqlx.DB) *PassStore {
	return &PassStore{db: db}
}

func (s *PassStore) Insert(ctx context.Context, pass *PassRecord) (int64, error) {
	query := `
		INSERT INTO sync_passes (
			started_at, duration_ms, stale, installed, failed, changed, committed, reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		pass.StartedAt,
		pass.DurationMs,
		pass.Stale,
		pass.Installed,
		pass.Failed,
		pass.Changed,
		pass.Committed,
		pass.Reason,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PassStore) InsertInstall(ctx context.Context, rec *InstallRecord) error {
	query := `
		INSERT INTO channel_installs (
			pass_id, channel, identifier, success, error, duration_ms, finished_at
		) VALUES (
			:pass_id, :channel, :identifier, :success, :error, :duration_ms, :finished_at
		)`

	_, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, rec)
	return err
}

// Recent returns the latest passes, newest first.
func (s *PassStore) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	var passes []PassRecord
	query := `
		SELECT id, started_at, duration_ms, stale, installed, failed, changed, committed, reason
		FROM sync_passes
		ORDER BY started_at DESC, id DESC
		LIMIT $1`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &passes, query, limit); err != nil {
		return nil, err
	}
	return passes, nil
}

func (s *PassStore) Installs(ctx context.Context, passID int64) ([]InstallRecord, error) {
	var recs []InstallRecord
	query := `
		SELECT id, pass_id, channel, identifier, success, error, duration_ms, finished_at
		FROM channel_installs
		WHERE pass_id = $1
		ORDER BY id`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &recs, query, passID); err != nil {
		return nil, err
	}
	return recs, nil
}
