package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
	"sampurr/internal/metrics"
	"sampurr/internal/storage/disk"
)

// CacheDir is the part of the disk store the sweep works on.
type CacheDir interface {
	Files() ([]disk.File, error)
	Remove(name string) error
	InFlight(id domain.TrackID) bool
}

// SweepReport summarizes one pass of CacheSweep.
type SweepReport struct {
	TotalBytes     int64
	RemovedBytes   int64
	RemovedTracks  []domain.TrackID
	RemovedStaging int
}

// CacheSweep keeps the cache directory bounded. Once the directory holds
// more than MaxBytes, published tracks older than MaxAge are deleted.
// Staging files older than StagingMaxAge are leftovers of crashed
// extractions and are deleted on every pass.
type CacheSweep struct {
	Dir           CacheDir
	Catalog       ports.TrackCatalog   // optional
	Events        ports.EventPublisher // optional
	Logger        *slog.Logger
	Interval      time.Duration
	MaxBytes      int64
	MaxAge        time.Duration
	StagingMaxAge time.Duration
	Now           func() time.Time
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (uc CacheSweep) Run(ctx context.Context) {
	interval := uc.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	uc.runOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uc.runOnce(ctx)
		}
	}
}

func (uc CacheSweep) runOnce(ctx context.Context) {
	if _, err := uc.SweepOnce(ctx); err != nil {
		metrics.SweepErrorsTotal.Inc()
		uc.logger().Warn("cache_sweep: pass failed", slog.String("error", err.Error()))
	}
}

// SweepOnce performs one pass. Failures to delete single files do not stop
// the pass; they are joined into the returned error.
func (uc CacheSweep) SweepOnce(ctx context.Context) (SweepReport, error) {
	logger := uc.logger()
	files, err := uc.Dir.Files()
	if err != nil {
		return SweepReport{}, err
	}
	now := uc.now()

	var report SweepReport
	for _, f := range files {
		report.TotalBytes += f.Size
	}
	metrics.CacheSizeBytes.Set(float64(report.TotalBytes))
	logger.Info("cache_sweep: directory size",
		slog.String("size", humanize.IBytes(uint64(report.TotalBytes))),
		slog.Int("files", len(files)),
	)

	overLimit := uc.MaxBytes > 0 && report.TotalBytes > uc.MaxBytes
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		age := now.Sub(f.ModTime)
		switch {
		case f.Staging:
			if uc.StagingMaxAge <= 0 || age <= uc.StagingMaxAge || uc.Dir.InFlight(f.TrackID) {
				continue
			}
			if err := uc.Dir.Remove(f.Name); err != nil {
				errs = append(errs, err)
				continue
			}
			report.RemovedStaging++
			report.RemovedBytes += f.Size
			metrics.SweepRemovedTotal.WithLabelValues("staging").Inc()
			logger.Debug("cache_sweep: removed staging file", slog.String("file", f.Name))
		case overLimit:
			if uc.MaxAge > 0 && age <= uc.MaxAge {
				continue
			}
			if err := uc.Dir.Remove(f.Name); err != nil {
				errs = append(errs, err)
				continue
			}
			report.RemovedTracks = append(report.RemovedTracks, f.TrackID)
			report.RemovedBytes += f.Size
			metrics.SweepRemovedTotal.WithLabelValues("cache").Inc()
			uc.forget(ctx, f.TrackID, logger)
		}
	}

	if report.RemovedBytes > 0 {
		metrics.CacheSizeBytes.Set(float64(report.TotalBytes - report.RemovedBytes))
		logger.Info("cache_sweep: removed files",
			slog.Int("tracks", len(report.RemovedTracks)),
			slog.Int("staging", report.RemovedStaging),
			slog.String("freed", humanize.IBytes(uint64(report.RemovedBytes))),
		)
	}
	return report, errors.Join(errs...)
}

// forget drops a removed track from the catalog and tells live subscribers.
func (uc CacheSweep) forget(ctx context.Context, id domain.TrackID, logger *slog.Logger) {
	if uc.Catalog != nil {
		if err := uc.Catalog.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("cache_sweep: catalog delete failed",
				slog.String("trackId", string(id)),
				slog.String("error", err.Error()),
			)
		}
	}
	if uc.Events != nil {
		uc.Events.Publish(domain.Event{Type: domain.EventCacheSwept, TrackID: id, At: uc.now().UTC()})
	}
}

func (uc CacheSweep) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now()
}

func (uc CacheSweep) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
