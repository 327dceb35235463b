//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"postgarden/internal/domain"
	"postgarden/migrations"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(migrations.Run(db.DB))
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM channel_installs")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_passes")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM channel_sync_state")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_GetNew() {
	store := NewSyncStateStore(s.db)

	state, err := store.Get(s.ctx, "home")
	s.NoError(err)
	s.NotNil(state)
	s.Equal("home", state.Channel)
	s.Nil(state.LastInstalledAt)
	s.Equal(0, state.TotalInstalls)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_RecordAttempt() {
	store := NewSyncStateStore(s.db)
	t1 := time.Now().Truncate(time.Microsecond)
	t2 := t1.Add(time.Minute)

	s.NoError(store.RecordAttempt(s.ctx, "home", "Home_1.zip", t1, ""))

	state, err := store.Get(s.ctx, "home")
	s.NoError(err)
	s.Equal("Home_1.zip", state.Identifier)
	s.Require().NotNil(state.LastInstalledAt)
	s.WithinDuration(t1, *state.LastInstalledAt, time.Second)
	s.Equal(1, state.TotalInstalls)

	// a failure keeps the last good identifier
	s.NoError(store.RecordAttempt(s.ctx, "home", "Home_2.zip", t2, "corrupt archive"))

	state, err = store.Get(s.ctx, "home")
	s.NoError(err)
	s.Equal("Home_1.zip", state.Identifier)
	s.Equal("corrupt archive", state.LastError)
	s.WithinDuration(t1, *state.LastInstalledAt, time.Second)
	s.WithinDuration(t2, state.LastAttemptAt, time.Second)
	s.Equal(1, state.TotalInstalls)
}

func (s *PostgresIntegrationSuite) TestSyncStateStore_FirstAttemptFails() {
	store := NewSyncStateStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	s.NoError(store.RecordAttempt(s.ctx, "world", "World_1.zip", now, "network unavailable"))

	state, err := store.Get(s.ctx, "world")
	s.NoError(err)
	s.Empty(state.Identifier)
	s.Nil(state.LastInstalledAt)
	s.Equal(0, state.TotalInstalls)
}

func (s *PostgresIntegrationSuite) TestJournal_RecordPass() {
	journal := NewJournal(s.db)
	started := time.Now().Truncate(time.Microsecond)

	stats := &domain.SyncStats{
		StartedAt: started,
		Stale:     []domain.Channel{domain.ChannelHome, domain.ChannelWorld},
		Results: []domain.ChannelResult{
			{Channel: domain.ChannelHome, Identifier: "Home_1.zip", Installed: true, Duration: 20 * time.Millisecond},
			{Channel: domain.ChannelWorld, Identifier: "World_1.zip", Err: domain.ErrCorruptArchive},
		},
		Installed: 1,
		Failed:    1,
		Changed:   true,
		Reason:    "downloaded content was damaged",
		Duration:  150 * time.Millisecond,
	}
	s.Require().NoError(journal.RecordPass(s.ctx, stats))

	passes, err := journal.RecentPasses(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(passes, 1)
	s.Equal(2, passes[0].Stale)
	s.Equal(1, passes[0].Installed)
	s.False(passes[0].Committed)
	s.Equal(int64(150), passes[0].DurationMs)

	installs, err := journal.PassInstalls(s.ctx, passes[0].ID)
	s.Require().NoError(err)
	s.Require().Len(installs, 2)
	s.True(installs[0].Success)
	s.Equal("world", installs[1].Channel)
	s.Equal("corrupt archive", installs[1].Error)

	channels, err := journal.Channels(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(channels, 2)
	s.Equal("home", channels[0].Channel)
	s.Equal("Home_1.zip", channels[0].Identifier)

	world, err := journal.Channel(s.ctx, "world")
	s.Require().NoError(err)
	s.Empty(world.Identifier)
	s.Equal("corrupt archive", world.LastError)

	unseen, err := journal.Channel(s.ctx, "entertainment")
	s.Require().NoError(err)
	s.Equal("entertainment", unseen.Channel)
	s.Zero(unseen.TotalInstalls)
}

func (s *PostgresIntegrationSuite) TestJournal_NoUpdatePass() {
	journal := NewJournal(s.db)

	s.Require().NoError(journal.RecordPass(s.ctx, &domain.SyncStats{StartedAt: time.Now()}))

	passes, err := journal.RecentPasses(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(passes, 1)
	s.False(passes[0].Changed)

	channels, err := journal.Channels(s.ctx)
	s.Require().NoError(err)
	s.Empty(channels)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	passes := NewPassStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := passes.Insert(ctx, &PassRecord{StartedAt: time.Now(), Reason: "tx"})
		return err
	})
	s.NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM sync_passes WHERE reason = $1", "tx")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	passes := NewPassStore(s.db)
	states := NewSyncStateStore(s.db)

	_, err := passes.Insert(s.ctx, &PassRecord{StartedAt: time.Now(), Reason: "pre-existing"})
	s.NoError(err)

	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := passes.Insert(ctx, &PassRecord{StartedAt: time.Now(), Reason: "rolled back"}); err != nil {
			return err
		}
		if err := states.RecordAttempt(ctx, "home", "Home_9.zip", time.Now(), ""); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM sync_passes WHERE reason = $1", "rolled back")
	s.NoError(err)
	s.Equal(0, count)

	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM sync_passes WHERE reason = $1", "pre-existing")
	s.NoError(err)
	s.Equal(1, count)

	state, err := states.Get(s.ctx, "home")
	s.NoError(err)
	s.Empty(state.Identifier)
}

func (s *PostgresIntegrationSuite) TestTransaction_NestedJoinsOuter() {
	tm := NewTransactionManager(s.db)
	passes := NewPassStore(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		inner := tm.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := passes.Insert(ctx, &PassRecord{StartedAt: time.Now(), Reason: "nested"})
			return err
		})
		if inner != nil {
			return inner
		}
		return errors.New("outer abort")
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM sync_passes WHERE reason = $1", "nested")
	s.NoError(err)
	s.Equal(0, count)
}
