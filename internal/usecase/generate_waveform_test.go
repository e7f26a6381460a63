package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"sampurr/internal/domain"
	"sampurr/internal/storage/disk"
)

const (
	testURL   = "https://www.youtube.com/watch?v=bamxPYj0O9M"
	testTrack = domain.TrackID("bamxPYj0O9M")
	testNonce = "0123456789ab"
)

func shortInfo() domain.MediaInfo {
	return domain.MediaInfo{
		Title:     "Amen break",
		Thumbnail: "https://i.ytimg.com/vi/bamxPYj0O9M/hq.jpg",
		Duration:  "4:05",
		TrackID:   testTrack,
	}
}

type harness struct {
	uc      *GenerateWaveform
	store   *disk.Store
	fetcher *fakeFetcher
	dl      *fakeDownloader
	wf      *fakeWaveform
	catalog *fakeCatalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newTestStore(t),
		fetcher: &fakeFetcher{info: shortInfo()},
		dl:      &fakeDownloader{content: "RIFFaudio", percents: []int{10, 10, 42, 100}},
		wf:      &fakeWaveform{out: `{"version":2,"data":[0,1]}`},
		catalog: &fakeCatalog{},
	}
	h.uc = &GenerateWaveform{
		Fetcher:         h.fetcher,
		Store:           h.store,
		Downloader:      h.dl,
		Waveform:        h.wf,
		Catalog:         h.catalog,
		Logger:          discardLogger(),
		MaxDuration:     10 * time.Minute,
		MetadataTimeout: time.Second,
		DownloadTimeout: 5 * time.Second,
		WaveformTimeout: time.Second,
		NewNonce:        func() string { return testNonce },
	}
	return h
}

func stagingFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, string(testTrack)+"_*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestGenerateWaveformInvalidURL(t *testing.T) {
	for _, raw := range []string{"not a url", "", "ftp://example.com/a.mp3", "/relative/path"} {
		t.Run(raw, func(t *testing.T) {
			h := newHarness(t)
			sink := &recordingSink{}

			err := h.uc.Execute(context.Background(), raw, sink)
			if !errors.Is(err, domain.ErrInvalidURL) {
				t.Fatalf("err = %v, want ErrInvalidURL", err)
			}
			if got := sink.kinds(); !reflect.DeepEqual(got, []domain.FrameKind{domain.FrameError}) {
				t.Fatalf("frames = %v", got)
			}
			if sink.last().Failure.Kind != domain.ErrorValidation {
				t.Fatalf("failure = %+v", sink.last().Failure)
			}
			if h.fetcher.callCount() != 0 || h.dl.callCount() != 0 {
				t.Fatal("no tool may run for an invalid url")
			}
		})
	}
}

func TestGenerateWaveformTooLong(t *testing.T) {
	h := newHarness(t)
	info := shortInfo()
	info.Duration = "12:30"
	h.fetcher.info = info
	h.fetcher.err = domain.ErrTooLong
	sink := &recordingSink{}

	err := h.uc.Execute(context.Background(), testURL, sink)
	if !errors.Is(err, domain.ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if got := sink.kinds(); !reflect.DeepEqual(got, []domain.FrameKind{domain.FrameError}) {
		t.Fatalf("frames = %v", got)
	}
	failure := sink.last().Failure
	if failure.Kind != domain.ErrorTooLong || !strings.Contains(failure.Detail, "12:30") {
		t.Fatalf("failure = %+v", failure)
	}
	if h.dl.callCount() != 0 || h.wf.callCount() != 0 {
		t.Fatal("oversized media must not be downloaded")
	}
}

func TestGenerateWaveformCacheMiss(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}

	if err := h.uc.Execute(context.Background(), testURL, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []domain.FrameKind{
		domain.FrameInfo,
		domain.FrameProgress, domain.FrameProgress, domain.FrameProgress,
		domain.FrameStatus,
	}
	if got := sink.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	if sink.frames[0].Info != shortInfo() {
		t.Fatalf("info = %+v", sink.frames[0].Info)
	}
	var percents []int
	for _, f := range sink.frames[1:4] {
		percents = append(percents, f.Percent)
	}
	if !reflect.DeepEqual(percents, []int{10, 42, 100}) {
		t.Fatalf("percents = %v", percents)
	}
	if status := sink.frames[4]; status.Status != domain.StatusGenerating || status.StatusPercent != "95" {
		t.Fatalf("status = %+v", status)
	}
	if sink.body.String() != `{"version":2,"data":[0,1]}` {
		t.Fatalf("body = %q", sink.body.String())
	}

	canonical := h.store.CanonicalPath(testTrack)
	if data, err := os.ReadFile(canonical); err != nil || string(data) != "RIFFaudio" {
		t.Fatalf("canonical = %q, %v", data, err)
	}
	if h.wf.paths[0] != canonical {
		t.Fatalf("waveform ran on %s, want %s", h.wf.paths[0], canonical)
	}
	if left := stagingFiles(t, h.store.Dir()); len(left) != 0 {
		t.Fatalf("staging files left: %v", left)
	}
	if len(h.catalog.upserted) != 1 {
		t.Fatalf("catalog upserts = %d", len(h.catalog.upserted))
	}
	rec := h.catalog.upserted[0]
	if rec.ID != testTrack || rec.SourceURL != testURL || rec.SizeBytes != int64(len("RIFFaudio")) {
		t.Fatalf("record = %+v", rec)
	}
}

func TestGenerateWaveformCacheHit(t *testing.T) {
	h := newHarness(t)
	if err := os.WriteFile(h.store.CanonicalPath(testTrack), []byte("RIFFcached"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}

	if err := h.uc.Execute(context.Background(), testURL, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []domain.FrameKind{domain.FrameInfo, domain.FrameStatus}
	if got := sink.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	if sink.frames[1].StatusPercent != "95" {
		t.Fatalf("status = %+v", sink.frames[1])
	}
	if h.dl.callCount() != 0 {
		t.Fatal("cache hit must skip the download")
	}
	if sink.body.Len() == 0 {
		t.Fatal("expected waveform bytes")
	}
	if len(h.catalog.upserted) != 0 {
		t.Fatal("cache hit must not rewrite the catalog")
	}
}

func TestGenerateWaveformMetadataFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = domain.NewToolError("yt-dlp", errors.New("exit status 1"), "ERROR: Video unavailable")
	sink := &recordingSink{}

	if err := h.uc.Execute(context.Background(), testURL, sink); err == nil {
		t.Fatal("expected error")
	}
	if got := sink.kinds(); !reflect.DeepEqual(got, []domain.FrameKind{domain.FrameError}) {
		t.Fatalf("frames = %v", got)
	}
	if f := sink.last().Failure; f.Kind != domain.ErrorToolFailure || f.Detail != "ERROR: Video unavailable" {
		t.Fatalf("failure = %+v", f)
	}
}

func TestGenerateWaveformMetadataTimeout(t *testing.T) {
	h := newHarness(t)
	h.fetcher.block = true
	h.uc.MetadataTimeout = 20 * time.Millisecond
	sink := &recordingSink{}

	err := h.uc.Execute(context.Background(), testURL, sink)
	if !errors.Is(err, ErrStageTimeout) {
		t.Fatalf("err = %v, want ErrStageTimeout", err)
	}
	if f := sink.last().Failure; f.Kind != domain.ErrorToolFailure || f.Detail != "timed out" {
		t.Fatalf("failure = %+v", f)
	}
}

func TestGenerateWaveformDownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.dl.err = domain.NewToolError("yt-dlp", errors.New("exit status 1"), "ERROR: unable to download")
	sink := &recordingSink{}

	if err := h.uc.Execute(context.Background(), testURL, sink); err == nil {
		t.Fatal("expected error")
	}
	kinds := sink.kinds()
	if kinds[0] != domain.FrameInfo || kinds[len(kinds)-1] != domain.FrameError {
		t.Fatalf("frames = %v", kinds)
	}
	for _, k := range kinds {
		if k == domain.FrameStatus {
			t.Fatal("status frame must not follow a failed download")
		}
	}
	if f := sink.last().Failure; f.Kind != domain.ErrorToolFailure || f.Detail != "ERROR: unable to download" {
		t.Fatalf("failure = %+v", f)
	}
	if _, ok, _ := h.store.Exists(testTrack); ok {
		t.Fatal("failed extraction must not publish")
	}
	if left := stagingFiles(t, h.store.Dir()); len(left) != 0 {
		t.Fatalf("staging files left: %v", left)
	}
	if h.wf.callCount() != 0 {
		t.Fatal("waveform must not run after a failed download")
	}
}

func TestGenerateWaveformCancelDuringDownload(t *testing.T) {
	h := newHarness(t)
	h.dl.gate = make(chan struct{})
	h.dl.started = make(chan struct{})
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.uc.Execute(ctx, testURL, sink) }()

	<-h.dl.started
	waitFor(t, "staging file", func() bool { return len(stagingFiles(t, h.store.Dir())) == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	for _, k := range sink.kinds() {
		if k == domain.FrameError || k == domain.FrameStatus {
			t.Fatalf("nothing may be reported after cancel, got %v", sink.kinds())
		}
	}
	waitFor(t, "staging cleanup", func() bool { return len(stagingFiles(t, h.store.Dir())) == 0 })
	if _, ok, _ := h.store.Exists(testTrack); ok {
		t.Fatal("cancelled extraction must not publish")
	}
	if h.wf.callCount() != 0 {
		t.Fatal("waveform must not run after cancel")
	}
}

func TestGenerateWaveformConcurrentRequestsShareExtraction(t *testing.T) {
	h := newHarness(t)
	h.uc.NewNonce = nil
	h.dl.gate = make(chan struct{})
	h.dl.started = make(chan struct{})

	sinks := []*recordingSink{{}, {}}
	errs := make([]error, len(sinks))
	var wg sync.WaitGroup
	run := func(i int) {
		defer wg.Done()
		errs[i] = h.uc.Execute(context.Background(), testURL, sinks[i])
	}

	wg.Add(1)
	go run(0)
	<-h.dl.started
	wg.Add(1)
	go run(1)
	waitFor(t, "second info frame", func() bool { return len(sinks[1].kinds()) > 0 })
	close(h.dl.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if n := h.dl.callCount(); n != 1 {
		t.Fatalf("downloads = %d, want 1", n)
	}
	canonical := h.store.CanonicalPath(testTrack)
	for i, path := range h.wf.paths {
		if path != canonical {
			t.Fatalf("request %d waveform path = %s", i, path)
		}
	}
	for i, sink := range sinks {
		if sink.body.Len() == 0 {
			t.Fatalf("request %d got no waveform bytes", i)
		}
	}
	if len(h.catalog.upserted) != 1 {
		t.Fatalf("catalog upserts = %d, want 1", len(h.catalog.upserted))
	}
}

func TestGenerateWaveformJoinerRecordsWhenLeaderLeaves(t *testing.T) {
	h := newHarness(t)
	h.uc.NewNonce = nil
	h.dl.gate = make(chan struct{})
	h.dl.started = make(chan struct{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() { leaderDone <- h.uc.Execute(leaderCtx, testURL, &recordingSink{}) }()
	<-h.dl.started

	joiner := &recordingSink{}
	joinerDone := make(chan error, 1)
	go func() { joinerDone <- h.uc.Execute(context.Background(), testURL, joiner) }()
	waitFor(t, "joiner info frame", func() bool { return len(joiner.kinds()) > 0 })
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	if err := <-leaderDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader err = %v, want context.Canceled", err)
	}
	close(h.dl.gate)
	if err := <-joinerDone; err != nil {
		t.Fatalf("joiner: %v", err)
	}

	if n := h.dl.callCount(); n != 1 {
		t.Fatalf("downloads = %d, want 1", n)
	}
	if _, ok, _ := h.store.Exists(testTrack); !ok {
		t.Fatal("extraction must publish for the remaining request")
	}
	h.catalog.mu.Lock()
	defer h.catalog.mu.Unlock()
	if len(h.catalog.upserted) != 1 || h.catalog.upserted[0].ID != testTrack {
		t.Fatalf("catalog upserts = %+v", h.catalog.upserted)
	}
}

func TestGenerateWaveformWaveformFailure(t *testing.T) {
	t.Run("before output", func(t *testing.T) {
		h := newHarness(t)
		h.wf.out = ""
		h.wf.err = domain.NewToolError("audiowaveform", errors.New("exit status 1"), "Can't read file")
		sink := &recordingSink{}

		if err := h.uc.Execute(context.Background(), testURL, sink); err == nil {
			t.Fatal("expected error")
		}
		if f := sink.last(); f.Kind != domain.FrameError || f.Failure.Detail != "Can't read file" {
			t.Fatalf("last frame = %+v", f)
		}
	})

	t.Run("after output", func(t *testing.T) {
		h := newHarness(t)
		h.wf.out = `{"version":2,`
		h.wf.err = errors.New("waveform output truncated")
		sink := &recordingSink{}

		if err := h.uc.Execute(context.Background(), testURL, sink); err == nil {
			t.Fatal("expected error")
		}
		if f := sink.last(); f.Kind != domain.FrameStatus {
			t.Fatalf("no frame may follow waveform bytes, last = %+v", f)
		}
		if sink.body.String() != `{"version":2,` {
			t.Fatalf("body = %q", sink.body.String())
		}
	})
}

func TestGenerateWaveformClientGone(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{sendErr: errors.New("broken pipe")}

	err := h.uc.Execute(context.Background(), testURL, sink)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("err = %v, want ErrClientGone", err)
	}
	if h.dl.callCount() != 0 {
		t.Fatal("nothing should run once the client is gone")
	}
}

func TestGenerateWaveformRejectsUnusableTrackID(t *testing.T) {
	h := newHarness(t)
	info := shortInfo()
	info.TrackID = "../../etc/passwd"
	h.fetcher.info = info
	sink := &recordingSink{}

	if err := h.uc.Execute(context.Background(), testURL, sink); err == nil {
		t.Fatal("expected error")
	}
	if f := sink.last(); f.Kind != domain.FrameError || f.Failure.Kind != domain.ErrorInternal {
		t.Fatalf("last frame = %+v", f)
	}
	if h.dl.callCount() != 0 {
		t.Fatal("download must not start")
	}
}
