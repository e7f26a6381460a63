package disk

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
)

// ErrStorageUnavailable means the cache directory cannot take new files.
// Callers treat it as process-fatal.
var ErrStorageUnavailable = errors.New("cache storage unavailable")

const audioExt = ".wav"

var (
	renameFunc = os.Rename

	nonceSuffix = regexp.MustCompile(`^(.+)_([0-9a-f]{12})$`)
)

// Store is the content-addressed audio cache. Published files are named
// {trackId}.wav; in-progress extractions write {trackId}_{nonce}.*.
type Store struct {
	dir    string
	logger *slog.Logger

	extractTimeout time.Duration
	sem            *semaphore.Weighted
	lease          ports.ExtractionLease
	leaseTTL       time.Duration
	leasePoll      time.Duration
	events         ports.EventPublisher

	mu      sync.Mutex
	flights map[domain.TrackID]*flight
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConcurrent bounds the number of extractions running at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithExtractTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.extractTimeout = d
		}
	}
}

// WithLease makes extractions take a cross-process lease so that several
// servers sharing one directory extract each track once.
func WithLease(lease ports.ExtractionLease, ttl time.Duration) Option {
	return func(s *Store) {
		s.lease = lease
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

func WithEvents(pub ports.EventPublisher) Option {
	return func(s *Store) {
		s.events = pub
	}
}

func NewStore(dir string, opts ...Option) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s := &Store{
		dir:            filepath.Clean(dir),
		logger:         slog.Default(),
		extractTimeout: 10 * time.Minute,
		leaseTTL:       15 * time.Minute,
		leasePoll:      time.Second,
		flights:        make(map[domain.TrackID]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) CanonicalPath(id domain.TrackID) string {
	return filepath.Join(s.dir, string(id)+audioExt)
}

// Exists reports whether a published file for id is present.
func (s *Store) Exists(id domain.TrackID) (domain.CacheEntry, bool, error) {
	if err := id.Validate(); err != nil {
		return domain.CacheEntry{}, false, err
	}
	path := s.CanonicalPath(id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, err
	}
	if !info.Mode().IsRegular() {
		return domain.CacheEntry{}, false, fmt.Errorf("cache path %s is not a regular file", path)
	}
	return domain.CacheEntry{TrackID: id, Path: path, Size: info.Size(), ModTime: info.ModTime()}, true, nil
}

func (s *Store) StagingPath(id domain.TrackID, nonce string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if !validNonce(nonce) {
		return "", fmt.Errorf("invalid nonce %q", nonce)
	}
	return filepath.Join(s.dir, string(id)+"_"+nonce+audioExt), nil
}

// Publish moves a finished staging file to the canonical name of id. The
// rename is the only way a canonical name becomes visible.
func (s *Store) Publish(stagingPath string, id domain.TrackID) (domain.CacheEntry, error) {
	if err := id.Validate(); err != nil {
		return domain.CacheEntry{}, err
	}
	if filepath.Dir(filepath.Clean(stagingPath)) != s.dir {
		return domain.CacheEntry{}, fmt.Errorf("staging file %s is outside the cache dir", stagingPath)
	}
	info, err := os.Stat(stagingPath)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("staging file: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return domain.CacheEntry{}, fmt.Errorf("staging file %s is empty or not a regular file", stagingPath)
	}

	dst := s.CanonicalPath(id)
	if err := renameFunc(stagingPath, dst); err != nil {
		if isUnavailable(err) {
			return domain.CacheEntry{}, fmt.Errorf("%w: publish %s: %v", ErrStorageUnavailable, id, err)
		}
		return domain.CacheEntry{}, fmt.Errorf("publish %s: %w", id, err)
	}
	_ = syncDirBestEffort(s.dir)

	return domain.CacheEntry{TrackID: id, Path: dst, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Discard removes every file written under the staging name of (id, nonce),
// including tool intermediates with other extensions.
func (s *Store) Discard(id domain.TrackID, nonce string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if !validNonce(nonce) {
		return fmt.Errorf("invalid nonce %q", nonce)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, string(id)+"_"+nonce+".*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckWritable creates and removes a probe file in the cache dir.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	name := f.Name()
	_, writeErr := f.Write([]byte("ok"))
	closeErr := f.Close()
	removeErr := os.Remove(name)
	if err := errors.Join(writeErr, closeErr, removeErr); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// File describes one entry of the cache directory.
type File struct {
	Name    string
	TrackID domain.TrackID
	Staging bool
	Size    int64
	ModTime time.Time
}

// Files lists the cache and staging files. Anything else in the directory is
// ignored. A ".wav" name that parses both ways is staging only while this
// store is extracting into it.
func (s *Store) Files() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	// Taken after the listing so every staging file listed belongs to a
	// flight that is either in live or already finished.
	live := s.liveStaging()
	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		f, ok := classify(entry.Name(), live)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		f.Size = info.Size()
		f.ModTime = info.ModTime()
		files = append(files, f)
	}
	return files, nil
}

// Remove deletes a file previously returned by Files.
func (s *Store) Remove(name string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid cache file name %q", name)
	}
	if _, ok := classify(name, nil); !ok {
		return fmt.Errorf("invalid cache file name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// liveStaging returns the staging stems of the extractions running now.
func (s *Store) liveStaging() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := make(map[string]struct{}, len(s.flights))
	for id, f := range s.flights {
		live[string(id)+"_"+f.nonce] = struct{}{}
	}
	return live
}

// classify parses a directory entry name. Track ids may themselves end in
// "_" plus twelve hex digits, so a ".wav" name is canonical unless its stem
// is in live.
func classify(name string, live map[string]struct{}) (File, bool) {
	// Track ids contain no dots, so everything after the first one is the
	// extension, including chained ones such as ".webm.part".
	stem, ext := name, ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem, ext = name[:i], name[i:]
	}
	if m := nonceSuffix.FindStringSubmatch(stem); m != nil {
		id := domain.TrackID(m[1])
		_, running := live[stem]
		if id.Validate() == nil && (ext != audioExt || running) {
			return File{Name: name, TrackID: id, Staging: true}, true
		}
	}
	if ext != audioExt {
		return File{}, false
	}
	id := domain.TrackID(stem)
	if id.Validate() != nil {
		return File{}, false
	}
	return File{Name: name, TrackID: id}, true
}

func validNonce(nonce string) bool {
	if len(nonce) != 12 {
		return false
	}
	for _, r := range nonce {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func isUnavailable(err error) bool {
	return errors.Is(err, fs.ErrPermission) || isEXDEV(err) || isReadOnly(err)
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
