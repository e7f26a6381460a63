package usecase

import (
	"context"
	"io"
	"time"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
	"sampurr/internal/metrics"
)

// TrackLookup finds published audio files.
type TrackLookup interface {
	Exists(id domain.TrackID) (domain.CacheEntry, bool, error)
}

// ClipTrack cuts a time range out of an already cached track.
type ClipTrack struct {
	Store   TrackLookup
	Clipper ports.ClipExtractor
	Timeout time.Duration
}

func (uc ClipTrack) Execute(ctx context.Context, id domain.TrackID, start, end time.Duration, w io.Writer) error {
	if err := id.Validate(); err != nil {
		return domain.ErrNotFound
	}
	if start < 0 || end <= start {
		return domain.ErrInvalidClip
	}
	entry, ok, err := uc.Store.Exists(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}

	if uc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.Timeout)
		defer cancel()
	}
	began := time.Now()
	err = uc.Clipper.Clip(ctx, entry.Path, start, end, w)
	metrics.StageDuration.WithLabelValues("clip", outcomeOf(err)).Observe(time.Since(began).Seconds())
	return err
}
