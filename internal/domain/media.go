package domain

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type TrackID string

const maxTrackIDLen = 128

// Validate rejects ids that cannot safely become a cache file name.
func (id TrackID) Validate() error {
	if id == "" {
		return errors.New("track id is required")
	}
	if len(id) > maxTrackIDLen {
		return errors.New("track id is too long")
	}
	for _, r := range string(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.New("track id contains invalid character " + strconv.QuoteRune(r))
		}
	}
	return nil
}

// MediaRequest is a syntactically valid waveform request.
type MediaRequest struct {
	URL   *url.URL
	Nonce string
}

// ParseMediaURL validates raw as an absolute http(s) URL.
func ParseMediaURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// MediaInfo field tags form the first frame of the waveform stream.
type MediaInfo struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  string  `json:"duration"`
	TrackID   TrackID `json:"id"`
}

// ParseDuration converts a colon-separated duration ("4:05", "1:02:03", "42")
// into a time.Duration.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}
	segments := strings.Split(raw, ":")
	if len(segments) > 3 {
		return 0, errors.New("too many duration segments")
	}
	var total time.Duration
	for _, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 {
			return 0, errors.New("invalid duration segment " + strconv.Quote(seg))
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}

// CheckDuration returns ErrTooLong unless raw is strictly shorter than
// ceiling. An h:mm:ss duration is rejected outright while the ceiling is an
// hour or less, and durations that cannot be parsed (live streams report
// none) are treated as oversized.
func CheckDuration(raw string, ceiling time.Duration) error {
	if ceiling <= 0 {
		return nil
	}
	segments := strings.Split(strings.TrimSpace(raw), ":")
	if len(segments) > 3 {
		return ErrTooLong
	}
	if len(segments) == 3 && ceiling <= time.Hour {
		return ErrTooLong
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return ErrTooLong
	}
	if d >= ceiling {
		return ErrTooLong
	}
	return nil
}
