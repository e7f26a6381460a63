package disk

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sampurr/internal/domain"
	"sampurr/internal/metrics"
)

// ExtractFunc writes the audio of one track to stagingPath, reporting
// progress as it goes. It must stop and return once ctx is done.
type ExtractFunc func(ctx context.Context, stagingPath string, progress func(domain.ProgressEvent)) error

const subscriberBuffer = 64

// NewNonce returns a fresh 12 character staging nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// flight is one running extraction shared by every request for its track.
type flight struct {
	id     domain.TrackID
	nonce  string
	cancel context.CancelFunc
	done   chan struct{}

	// entry and err are written once, before done is closed.
	entry domain.CacheEntry
	err   error

	// refs is guarded by Store.mu.
	refs int

	claimed atomic.Bool

	mu     sync.Mutex
	subs   map[chan domain.ProgressEvent]struct{}
	last   *domain.ProgressEvent
	closed bool
}

func (f *flight) subscribe() chan domain.ProgressEvent {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	if f.last != nil {
		ch <- *f.last
	}
	f.subs[ch] = struct{}{}
	return ch
}

func (f *flight) unsubscribe(ch chan domain.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// broadcast never blocks; a subscriber that falls behind misses events.
func (f *flight) broadcast(evt domain.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	last := evt
	f.last = &last
	for ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (f *flight) finish(entry domain.CacheEntry, err error) {
	f.mu.Lock()
	f.entry = entry
	f.err = err
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
	close(f.done)
}

func (f *flight) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Ticket is one request's handle on an extraction. Release must be called
// once the request no longer needs the result.
type Ticket struct {
	store  *Store
	f      *flight
	ch     chan domain.ProgressEvent
	entry  domain.CacheEntry
	leader bool
	once   sync.Once
}

// Cached reports whether the track was already published when the ticket
// was issued.
func (t *Ticket) Cached() bool { return t.f == nil }

// Leader reports whether this ticket started the extraction.
func (t *Ticket) Leader() bool { return t.leader }

// Claim reports true to exactly one ticket of a published extraction,
// whichever asks first. Cached tickets never claim.
func (t *Ticket) Claim() bool {
	if t.f == nil || !t.f.finished() || t.f.err != nil {
		return false
	}
	return t.f.claimed.CompareAndSwap(false, true)
}

// Progress yields extraction progress until the extraction finishes, the
// ticket is released, or ctx is done. A joining ticket first receives the
// most recent event.
func (t *Ticket) Progress(ctx context.Context) iter.Seq[domain.ProgressEvent] {
	return func(yield func(domain.ProgressEvent) bool) {
		if t.f == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-t.ch:
				if !ok {
					return
				}
				if !yield(evt) {
					return
				}
			}
		}
	}
}

// Wait blocks until the extraction is published or has failed.
func (t *Ticket) Wait(ctx context.Context) (domain.CacheEntry, error) {
	if t.f == nil {
		return t.entry, nil
	}
	select {
	case <-ctx.Done():
		return domain.CacheEntry{}, ctx.Err()
	case <-t.f.done:
		return t.f.entry, t.f.err
	}
}

// Release drops this ticket's interest. When the last ticket of an
// unfinished extraction is released the extraction is cancelled.
func (t *Ticket) Release() {
	t.once.Do(func() {
		if t.f == nil {
			return
		}
		t.f.unsubscribe(t.ch)
		t.store.release(t.f)
	})
}

// Acquire returns a ticket for the canonical file of id. If the file is
// already published the ticket is complete. If another request is already
// extracting id the ticket joins it. Otherwise extract is started on a
// context detached from ctx, bounded by the extraction timeout.
func (s *Store) Acquire(ctx context.Context, id domain.TrackID, nonce string, extract ExtractFunc) (*Ticket, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if !validNonce(nonce) {
		return nil, fmt.Errorf("invalid nonce %q", nonce)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if f, ok := s.flights[id]; ok {
		f.refs++
		s.mu.Unlock()
		metrics.ExtractionJoinsTotal.Inc()
		s.logger.Debug("joined extraction in flight",
			slog.String("trackId", string(id)),
			slog.String("leaderNonce", f.nonce),
			slog.String("nonce", nonce),
		)
		return &Ticket{store: s, f: f, ch: f.subscribe()}, nil
	}
	entry, ok, err := s.Exists(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if ok {
		s.mu.Unlock()
		return &Ticket{store: s, entry: entry}, nil
	}

	fctx, cancel := context.WithTimeout(context.Background(), s.extractTimeout)
	f := &flight{
		id:     id,
		nonce:  nonce,
		cancel: cancel,
		done:   make(chan struct{}),
		refs:   1,
		subs:   make(map[chan domain.ProgressEvent]struct{}),
	}
	s.flights[id] = f
	s.mu.Unlock()

	ticket := &Ticket{store: s, f: f, ch: f.subscribe(), leader: true}
	go s.run(fctx, f, extract)
	return ticket, nil
}

// InFlight reports whether an extraction of id is running in this process.
func (s *Store) InFlight(id domain.TrackID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.flights[id]
	return ok
}

func (s *Store) release(f *flight) {
	s.mu.Lock()
	f.refs--
	abandon := f.refs <= 0 && !f.finished()
	if abandon && s.flights[f.id] == f {
		delete(s.flights, f.id)
	}
	s.mu.Unlock()
	if abandon {
		f.cancel()
	}
}

func (s *Store) run(ctx context.Context, f *flight, extract ExtractFunc) {
	defer f.cancel()
	entry, err := s.extract(ctx, f, extract)

	s.mu.Lock()
	if s.flights[f.id] == f {
		delete(s.flights, f.id)
	}
	s.mu.Unlock()
	f.finish(entry, err)
}

func (s *Store) extract(ctx context.Context, f *flight, extract ExtractFunc) (domain.CacheEntry, error) {
	logger := s.logger.With(slog.String("trackId", string(f.id)), slog.String("nonce", f.nonce))

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return domain.CacheEntry{}, err
		}
		defer s.sem.Release(1)
	}

	if s.lease != nil {
		release, entry, published, err := s.awaitLease(ctx, f, logger)
		if err != nil {
			return domain.CacheEntry{}, err
		}
		if published {
			logger.Info("track published by another process")
			return entry, nil
		}
		if release != nil {
			defer release()
		}
	}

	// Another request may have published while this one was queued.
	if entry, ok, err := s.Exists(f.id); err == nil && ok {
		return entry, nil
	}

	staging, err := s.StagingPath(f.id, f.nonce)
	if err != nil {
		return domain.CacheEntry{}, err
	}

	metrics.ActiveExtractions.Inc()
	defer metrics.ActiveExtractions.Dec()
	s.publishEvent(domain.Event{Type: domain.EventExtractionStarted, TrackID: f.id})
	logger.Info("extraction started")
	start := time.Now()

	lastPercent := -1
	err = extract(ctx, staging, func(evt domain.ProgressEvent) {
		f.broadcast(evt)
		if evt.Percent != nil && *evt.Percent != lastPercent {
			lastPercent = *evt.Percent
			s.publishEvent(domain.Event{Type: domain.EventExtractionProgress, TrackID: f.id, Percent: lastPercent})
		}
	})
	var entry domain.CacheEntry
	if err == nil {
		entry, err = s.Publish(staging, f.id)
	}
	if err == nil {
		metrics.ExtractionsTotal.WithLabelValues("published").Inc()
		s.publishEvent(domain.Event{Type: domain.EventExtractionPublished, TrackID: f.id})
		logger.Info("extraction published",
			slog.Int64("sizeBytes", entry.Size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
		)
		return entry, nil
	}

	if derr := s.Discard(f.id, f.nonce); derr != nil {
		logger.Warn("staging cleanup failed", slog.String("error", derr.Error()))
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		metrics.ExtractionsTotal.WithLabelValues("cancelled").Inc()
		s.publishEvent(domain.Event{Type: domain.EventExtractionCancelled, TrackID: f.id})
		logger.Info("extraction cancelled")
		return domain.CacheEntry{}, context.Canceled
	}
	metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
	s.publishEvent(domain.Event{Type: domain.EventExtractionFailed, TrackID: f.id, Detail: err.Error()})
	logger.Warn("extraction failed", slog.String("error", err.Error()))
	return domain.CacheEntry{}, err
}

// awaitLease takes the cross-process lease for f, or waits until whoever
// holds it publishes the track. A broken lease backend is logged and ignored.
func (s *Store) awaitLease(ctx context.Context, f *flight, logger *slog.Logger) (func(), domain.CacheEntry, bool, error) {
	for {
		ok, err := s.lease.Acquire(ctx, f.id, f.nonce, s.leaseTTL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, domain.CacheEntry{}, false, ctxErr
			}
			logger.Warn("extraction lease unavailable", slog.String("error", err.Error()))
			return nil, domain.CacheEntry{}, false, nil
		}
		if ok {
			release := func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := s.lease.Release(rctx, f.id, f.nonce); err != nil {
					logger.Warn("extraction lease release failed", slog.String("error", err.Error()))
				}
			}
			return release, domain.CacheEntry{}, false, nil
		}

		timer := time.NewTimer(s.leasePoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.CacheEntry{}, false, ctx.Err()
		case <-timer.C:
		}
		if entry, ok, err := s.Exists(f.id); err == nil && ok {
			return nil, entry, true, nil
		}
	}
}

func (s *Store) publishEvent(evt domain.Event) {
	if s.events == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	s.events.Publish(evt)
}
