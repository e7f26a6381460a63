package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
	"sampurr/internal/metrics"
	"sampurr/internal/storage/disk"
	"sampurr/internal/telemetry"
)

const (
	stageMetadata = "metadata"
	stageDownload = "download"
	stageWaveform = "waveform"

	catalogWriteTimeout = 3 * time.Second
)

// FrameSink receives the frames of one waveform response. Raw waveform bytes
// are written through the io.Writer after the status frame.
type FrameSink interface {
	Send(frame domain.Frame) error
	io.Writer
}

// AudioCache is the part of the disk store the coordinator needs.
type AudioCache interface {
	Acquire(ctx context.Context, id domain.TrackID, nonce string, extract disk.ExtractFunc) (*disk.Ticket, error)
}

// GenerateWaveform drives one waveform request from URL to waveform bytes.
type GenerateWaveform struct {
	Fetcher    ports.MediaInfoFetcher
	Store      AudioCache
	Downloader ports.AudioDownloader
	Waveform   ports.WaveformGenerator
	Catalog    ports.TrackCatalog // optional
	Logger     *slog.Logger

	MaxDuration     time.Duration
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	WaveformTimeout time.Duration

	// OnFatal is called when the cache directory stops accepting writes.
	OnFatal  func(error)
	NewNonce func() string
}

// Execute writes the frames for rawURL to sink and returns once the response
// is complete. The returned error is nil on success; failures have already
// been reported to the sink when that was still possible.
func (uc *GenerateWaveform) Execute(ctx context.Context, rawURL string, sink FrameSink) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, span := telemetry.Tracer("sampurr/usecase").Start(ctx, "waveform.request")
	defer span.End()

	err := uc.execute(ctx, rawURL, sink)
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.StreamOutcomesTotal.WithLabelValues(outcome).Inc()
	return err
}

func (uc *GenerateWaveform) execute(ctx context.Context, rawURL string, sink FrameSink) error {
	logger := uc.logger()

	u, err := domain.ParseMediaURL(rawURL)
	if err != nil {
		return uc.fail(sink, logger, err)
	}
	req := domain.MediaRequest{URL: u, Nonce: uc.nonce()}
	logger = logger.With(slog.String("nonce", req.Nonce))

	var info domain.MediaInfo
	err = uc.stage(ctx, stageMetadata, uc.MetadataTimeout, func(sctx context.Context) error {
		var ferr error
		info, ferr = uc.Fetcher.Fetch(sctx, req.URL.String())
		return ferr
	})
	if errors.Is(err, domain.ErrTooLong) {
		err = fmt.Errorf("%w: duration %s, limit %s", domain.ErrTooLong, info.Duration, uc.MaxDuration)
	}
	if err != nil {
		return uc.fail(sink, logger, err)
	}
	if err := info.TrackID.Validate(); err != nil {
		return uc.fail(sink, logger, fmt.Errorf("metadata returned unusable id: %w", err))
	}
	logger = logger.With(slog.String("trackId", string(info.TrackID)))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("track.id", string(info.TrackID)))

	if err := sink.Send(domain.InfoFrame(info)); err != nil {
		return wrapClient(err)
	}

	entry, err := uc.audio(ctx, req, info, sink, logger)
	if err != nil {
		return uc.fail(sink, logger, err)
	}

	if err := sink.Send(domain.StatusFrame()); err != nil {
		return wrapClient(err)
	}

	out := &countingWriter{w: sink}
	err = uc.stage(ctx, stageWaveform, uc.WaveformTimeout, func(sctx context.Context) error {
		return uc.Waveform.Generate(sctx, entry.Path, out)
	})
	if err == nil {
		logger.Debug("waveform streamed", slog.Int64("bytes", out.n))
		return nil
	}
	if out.n > 0 {
		// The unframed tail has begun; an error frame can no longer be parsed.
		if ctx.Err() == nil {
			logger.Warn("waveform stream truncated",
				slog.Int64("bytes", out.n),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	return uc.fail(sink, logger, err)
}

// audio returns the published audio of info, extracting it when it is not
// cached yet. Progress of the extraction is relayed to sink.
func (uc *GenerateWaveform) audio(ctx context.Context, req domain.MediaRequest, info domain.MediaInfo, sink FrameSink, logger *slog.Logger) (domain.CacheEntry, error) {
	var entry domain.CacheEntry
	err := uc.stage(ctx, stageDownload, uc.DownloadTimeout, func(sctx context.Context) error {
		ticket, err := uc.Store.Acquire(sctx, info.TrackID, req.Nonce, uc.extractFunc(req.URL.String()))
		if err != nil {
			return err
		}
		defer ticket.Release()

		if ticket.Cached() {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			logger.Debug("audio cache hit")
			entry, err = ticket.Wait(sctx)
			return err
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		logger.Debug("awaiting extraction", slog.Bool("leader", ticket.Leader()))

		last := -1
		for evt := range ticket.Progress(sctx) {
			if !evt.HasPercent() || *evt.Percent == last {
				continue
			}
			last = *evt.Percent
			if err := sink.Send(domain.ProgressFrame(last)); err != nil {
				return wrapClient(err)
			}
		}
		entry, err = ticket.Wait(sctx)
		if err != nil {
			return err
		}
		// The request that started the extraction may be gone by now, so
		// whichever ticket sees the publish first writes the catalog.
		if ticket.Claim() {
			uc.record(ctx, req, info, entry, logger)
		}
		return nil
	})
	return entry, err
}

// extractFunc runs the downloader for rawURL as the extraction of one track.
func (uc *GenerateWaveform) extractFunc(rawURL string) disk.ExtractFunc {
	return func(ctx context.Context, stagingPath string, progress func(domain.ProgressEvent)) error {
		dl, err := uc.Downloader.Download(ctx, rawURL, stagingPath)
		if err != nil {
			return err
		}
		for evt := range dl.Events() {
			progress(evt)
		}
		return dl.Wait()
	}
}

func (uc *GenerateWaveform) record(ctx context.Context, req domain.MediaRequest, info domain.MediaInfo, entry domain.CacheEntry, logger *slog.Logger) {
	if uc.Catalog == nil {
		return
	}
	rec := domain.TrackRecord{
		ID:          info.TrackID,
		Title:       info.Title,
		Thumbnail:   info.Thumbnail,
		Duration:    info.Duration,
		SourceURL:   req.URL.String(),
		SizeBytes:   entry.Size,
		PublishedAt: entry.ModTime.UTC(),
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogWriteTimeout)
	defer cancel()
	if err := uc.Catalog.Upsert(cctx, rec); err != nil {
		logger.Warn("catalog upsert failed", slog.String("error", err.Error()))
	}
}

// stage runs fn under its own span and timeout. A deadline hit by the stage
// itself, rather than by ctx, is reported as ErrStageTimeout.
func (uc *GenerateWaveform) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	sctx, span := telemetry.Tracer("sampurr/usecase").Start(ctx, "waveform."+name)
	defer span.End()
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(sctx)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = wrapStageTimeout(name, err)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	outcome := outcomeOf(err)
	metrics.StageDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	if outcome != "success" && outcome != "cancelled" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return err
}

// fail reports err to the client as the terminal frame, unless the request
// was cancelled.
func (uc *GenerateWaveform) fail(sink FrameSink, logger *slog.Logger, err error) error {
	if errors.Is(err, disk.ErrStorageUnavailable) && uc.OnFatal != nil {
		uc.OnFatal(err)
	}
	failure, report := failureFor(err)
	if !report {
		logger.Debug("waveform request cancelled", slog.String("reason", err.Error()))
		return err
	}

	level := slog.LevelWarn
	if failure.Kind == domain.ErrorValidation || failure.Kind == domain.ErrorTooLong {
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "waveform request failed",
		slog.String("kind", string(failure.Kind)),
		slog.String("error", err.Error()),
	)
	if sendErr := sink.Send(domain.ErrorFrame(failure.Kind, failure.Detail)); sendErr != nil {
		return errors.Join(err, wrapClient(sendErr))
	}
	return err
}

func (uc *GenerateWaveform) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}

func (uc *GenerateWaveform) nonce() string {
	if uc.NewNonce != nil {
		return uc.NewNonce()
	}
	return disk.NewNonce()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
