package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"postgarden/internal/domain"
)

type Origin interface {
	FetchManifest(ctx context.Context) (domain.Manifest, error)
	FetchArchive(ctx context.Context, identifier string) ([]byte, error)
}

type CacheStore interface {
	Install(ctx context.Context, channel domain.Channel, data []byte, identifier string) error
	ReadManifest() (domain.Manifest, error)
	WriteManifest(manifest domain.Manifest) error
	Purge(now time.Time) int
}

type Journal interface {
	RecordPass(ctx context.Context, stats *domain.SyncStats) error
}

type Publisher interface {
	Publish(ctx context.Context, result *domain.ChannelResult, committed bool) error
	Close() error
}
