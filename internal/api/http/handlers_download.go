package apihttp

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"sampurr/internal/domain"
	"sampurr/internal/services/media/ffmpeg"
)

const maxFilenameLen = 100

// handleDownload cuts [start, end] out of a cached track and sends it as a
// WAV attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.clip == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "clip download not configured")
		return
	}

	q := r.URL.Query()
	id := domain.TrackID(strings.TrimSpace(q.Get("id")))
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return
	}
	start, err := ffmpeg.ParseTimestamp(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid start")
		return
	}
	end, err := ffmpeg.ParseTimestamp(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid end")
		return
	}

	out := &attachmentWriter{w: w, filename: downloadFilename(q.Get("title"), id)}
	err = s.clip.Execute(r.Context(), id, start, end, out)
	switch {
	case err == nil:
		if !out.started {
			out.start()
		}
	case out.started:
		// Headers are gone; the client sees a short file.
		if r.Context().Err() == nil {
			s.logger.Warn("clip stream truncated",
				slog.String("trackId", string(id)),
				slog.String("error", err.Error()),
			)
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "track not cached")
	case errors.Is(err, domain.ErrInvalidClip):
		writeError(w, http.StatusBadRequest, "invalid_request", "end must be after start")
	case r.Context().Err() != nil:
		// client went away
	default:
		s.logger.Warn("clip failed",
			slog.String("trackId", string(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "clip_failed", "failed to cut clip")
	}
}

// attachmentWriter sends the attachment headers with the first byte, so a
// clip that fails early can still get a JSON error.
type attachmentWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (a *attachmentWriter) start() {
	a.started = true
	h := a.w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.filename}))
	a.w.WriteHeader(http.StatusOK)
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.start()
	}
	return a.w.Write(p)
}

// downloadFilename folds title to a plain ASCII file name: accents are
// stripped, anything else outside [A-Za-z0-9 ._-] becomes an underscore.
func downloadFilename(title string, id domain.TrackID) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, strings.TrimSpace(title))
	if err != nil {
		folded = ""
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == ' ', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), " ._")
	if len(name) > maxFilenameLen {
		name = strings.TrimRight(name[:maxFilenameLen], " ._")
	}
	if name == "" {
		name = string(id)
	}
	return name + ".wav"
}
