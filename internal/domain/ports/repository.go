package ports

import (
	"context"
	"time"

	"sampurr/internal/domain"
)

type TrackCatalog interface {
	Upsert(ctx context.Context, rec domain.TrackRecord) error
	Get(ctx context.Context, id domain.TrackID) (domain.TrackRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.TrackRecord, error)
	Delete(ctx context.Context, id domain.TrackID) error
}

type MediaInfoCache interface {
	Get(ctx context.Context, rawURL string) (domain.MediaInfo, bool, error)
	Set(ctx context.Context, rawURL string, info domain.MediaInfo) error
}

// ExtractionLease serializes extractions of one track across processes that
// share a cache directory.
type ExtractionLease interface {
	Acquire(ctx context.Context, id domain.TrackID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id domain.TrackID, owner string) error
	Held(ctx context.Context, id domain.TrackID) (bool, error)
}

type EventPublisher interface {
	Publish(evt domain.Event)
}
