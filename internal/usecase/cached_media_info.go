package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
	"sampurr/internal/metrics"
)

const metadataCacheWriteTimeout = 2 * time.Second

// CachedMediaInfo collapses concurrent lookups of one URL into a single
// fetch and, when Cache is set, remembers the result across requests.
type CachedMediaInfo struct {
	Fetcher     ports.MediaInfoFetcher
	Cache       ports.MediaInfoCache // optional
	MaxDuration time.Duration
	Logger      *slog.Logger

	group singleflight.Group
}

func (c *CachedMediaInfo) Fetch(ctx context.Context, rawURL string) (domain.MediaInfo, error) {
	if info, ok := c.cached(ctx, rawURL); ok {
		// The ceiling may have changed since the entry was written.
		if err := domain.CheckDuration(info.Duration, c.MaxDuration); err != nil {
			return info, err
		}
		return info, nil
	}

	for attempt := 0; ; attempt++ {
		ch := c.group.DoChan(rawURL, func() (any, error) {
			info, err := c.Fetcher.Fetch(ctx, rawURL)
			if err == nil || errors.Is(err, domain.ErrTooLong) {
				c.store(ctx, rawURL, info)
			}
			return info, err
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return domain.MediaInfo{}, ctx.Err()
		case res = <-ch:
		}
		// A shared call is bound to the context of whoever started it. When
		// that caller went away, try again on our own context.
		if res.Shared && attempt == 0 && ctx.Err() == nil &&
			(errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
			continue
		}
		info, _ := res.Val.(domain.MediaInfo)
		return info, res.Err
	}
}

func (c *CachedMediaInfo) cached(ctx context.Context, rawURL string) (domain.MediaInfo, bool) {
	if c.Cache == nil {
		return domain.MediaInfo{}, false
	}
	info, ok, err := c.Cache.Get(ctx, rawURL)
	switch {
	case err != nil:
		metrics.MetadataCacheTotal.WithLabelValues("error").Inc()
		c.logger().Warn("metadata cache read failed", slog.String("error", err.Error()))
		return domain.MediaInfo{}, false
	case !ok:
		metrics.MetadataCacheTotal.WithLabelValues("miss").Inc()
		return domain.MediaInfo{}, false
	default:
		metrics.MetadataCacheTotal.WithLabelValues("hit").Inc()
		return info, true
	}
}

func (c *CachedMediaInfo) store(ctx context.Context, rawURL string, info domain.MediaInfo) {
	if c.Cache == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metadataCacheWriteTimeout)
	defer cancel()
	if err := c.Cache.Set(sctx, rawURL, info); err != nil {
		c.logger().Warn("metadata cache write failed", slog.String("error", err.Error()))
	}
}

func (c *CachedMediaInfo) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
