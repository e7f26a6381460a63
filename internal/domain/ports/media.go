package ports

import (
	"context"
	"io"
	"iter"
	"time"

	"sampurr/internal/domain"
)

type MediaInfoFetcher interface {
	Fetch(ctx context.Context, rawURL string) (domain.MediaInfo, error)
}

// Download is a running audio extraction. Events may be ranged over once;
// Wait returns after the process has exited.
type Download interface {
	Events() iter.Seq[domain.ProgressEvent]
	Wait() error
}

type AudioDownloader interface {
	Download(ctx context.Context, rawURL, stagingPath string) (Download, error)
}

type WaveformGenerator interface {
	Generate(ctx context.Context, audioPath string, w io.Writer) error
}

type ClipExtractor interface {
	Clip(ctx context.Context, audioPath string, start, end time.Duration, w io.Writer) error
}
