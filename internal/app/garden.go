// Package app is the entry point for presentation layers: reads, manual
// sync triggers, favorites and read history behind one type.
package app

import (
	"context"
	"log/slog"

	"postgarden/internal/domain"
)

// Snapshots reads installed channel content.
type Snapshots interface {
	Read(c domain.Channel) domain.Snapshot
}

// Syncer runs a synchronization pass.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

// Favorites is the saved-item collection.
type Favorites interface {
	Add(item domain.ContentItem) (bool, error)
	Remove(item domain.ContentItem) (bool, error)
	Toggle(item domain.ContentItem) (bool, error)
	IsFavorite(url string) bool
	List() []domain.FavoriteEntry
}

// History is the visited-item log.
type History interface {
	Record(title, url string) error
	List() []domain.HistoryEntry
	Clear() error
}

// Garden holds no view state; every call names what it acts on.
type Garden struct {
	channels  []domain.Channel
	snapshots Snapshots
	syncer    Syncer
	favorites Favorites
	history   History
	logger    *slog.Logger
}

func New(
	channels []domain.Channel,
	snapshots Snapshots,
	syncer Syncer,
	favorites Favorites,
	history History,
	logger *slog.Logger,
) *Garden {
	return &Garden{
		channels:  channels,
		snapshots: snapshots,
		syncer:    syncer,
		favorites: favorites,
		history:   history,
		logger:    logger.With("component", "app"),
	}
}

// Channels lists the configured channels in display order.
func (g *Garden) Channels() []domain.Channel {
	out := make([]domain.Channel, len(g.channels))
	copy(out, g.channels)
	return out
}

// GetSnapshot returns what is installed for the named channel.
func (g *Garden) GetSnapshot(name string) (domain.Snapshot, error) {
	c, err := domain.ParseChannel(name, g.channels)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return g.snapshots.Read(c), nil
}

// TriggerSync runs or joins a pass and reports whether any content changed,
// with a short reason when something went wrong.
func (g *Garden) TriggerSync(ctx context.Context) (bool, string) {
	stats, err := g.syncer.Sync(ctx)
	if err != nil {
		g.logger.Warn("manual sync failed", "error", err)
		return stats != nil && stats.Changed, domain.FailureReason(err)
	}
	return stats.Changed, stats.Reason
}

// ToggleFavorite flips the saved state of item and reports the new state.
func (g *Garden) ToggleFavorite(ctx context.Context, item domain.ContentItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return g.favorites.IsFavorite(item.SourceURL), err
	}
	return g.favorites.Toggle(item)
}

// AddFavorite saves item, reporting false when it was already saved.
func (g *Garden) AddFavorite(ctx context.Context, item domain.ContentItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.favorites.Add(item)
}

// RemoveFavorite drops item, reporting false when it was not saved.
func (g *Garden) RemoveFavorite(ctx context.Context, item domain.ContentItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.favorites.Remove(item)
}

func (g *Garden) Favorites() []domain.FavoriteEntry {
	return g.favorites.List()
}

func (g *Garden) IsFavorite(url string) bool {
	return g.favorites.IsFavorite(url)
}

func (g *Garden) RecordVisit(title, url string) error {
	return g.history.Record(title, url)
}

func (g *Garden) GetHistory() []domain.HistoryEntry {
	return g.history.List()
}

func (g *Garden) ClearHistory() error {
	return g.history.Clear()
}
