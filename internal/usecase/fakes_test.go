package usecase

import (
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
	"sampurr/internal/storage/disk"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeFetcher struct {
	info  domain.MediaInfo
	err   error
	block bool
	gate  chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ string) (domain.MediaInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return domain.MediaInfo{}, ctx.Err()
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.MediaInfo{}, ctx.Err()
		}
	}
	return f.info, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDownloader writes content to the staging file and replays percents.
// With a gate, the event stream stays open until the gate is closed or the
// extraction is cancelled.
type fakeDownloader struct {
	content  string
	percents []int
	err      error
	gate     chan struct{}
	started  chan struct{}

	once  sync.Once
	mu    sync.Mutex
	calls int
}

func (f *fakeDownloader) Download(ctx context.Context, _ string, stagingPath string) (ports.Download, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.content != "" {
		if err := os.WriteFile(stagingPath, []byte(f.content), 0o644); err != nil {
			return nil, err
		}
	}
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	return &fakeDownload{ctx: ctx, d: f}, nil
}

func (f *fakeDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownload struct {
	ctx context.Context
	d   *fakeDownloader
}

func (d *fakeDownload) Events() iter.Seq[domain.ProgressEvent] {
	return func(yield func(domain.ProgressEvent) bool) {
		for _, p := range d.d.percents {
			percent := p
			if !yield(domain.ProgressEvent{Percent: &percent, Size: "10MiB"}) {
				return
			}
		}
		if !yield(domain.ProgressEvent{Size: "10MiB"}) {
			return
		}
		if d.d.gate != nil {
			select {
			case <-d.d.gate:
			case <-d.ctx.Done():
			}
		}
	}
}

func (d *fakeDownload) Wait() error {
	if err := d.ctx.Err(); err != nil {
		return err
	}
	return d.d.err
}

type fakeWaveform struct {
	out string
	err error

	mu    sync.Mutex
	calls int
	paths []string
}

func (f *fakeWaveform) Generate(_ context.Context, audioPath string, w io.Writer) error {
	f.mu.Lock()
	f.calls++
	f.paths = append(f.paths, audioPath)
	f.mu.Unlock()
	if f.out != "" {
		if _, err := io.WriteString(w, f.out); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeWaveform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu      sync.Mutex
	frames  []domain.Frame
	body    bytes.Buffer
	sendErr error
}

func (s *recordingSink) Send(f domain.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body.Write(p)
}

func (s *recordingSink) kinds() []domain.FrameKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FrameKind, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Kind)
	}
	return out
}

func (s *recordingSink) last() domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return domain.Frame{}
	}
	return s.frames[len(s.frames)-1]
}

type fakeCatalog struct {
	mu       sync.Mutex
	upserted []domain.TrackRecord
	deleted  []domain.TrackID
}

func (c *fakeCatalog) Upsert(_ context.Context, rec domain.TrackRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted = append(c.upserted, rec)
	return nil
}

func (c *fakeCatalog) Get(context.Context, domain.TrackID) (domain.TrackRecord, error) {
	return domain.TrackRecord{}, domain.ErrNotFound
}

func (c *fakeCatalog) ListRecent(context.Context, int) ([]domain.TrackRecord, error) {
	return nil, nil
}

func (c *fakeCatalog) Delete(_ context.Context, id domain.TrackID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func newTestStore(t *testing.T) *disk.Store {
	t.Helper()
	store, err := disk.NewStore(t.TempDir(), disk.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
