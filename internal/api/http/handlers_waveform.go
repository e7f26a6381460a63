package apihttp

import (
	"errors"
	"log/slog"
	"net/http"

	"sampurr/internal/usecase"
)

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	s.serveWaveform(w, r, framingLegacy)
}

func (s *Server) handleWaveformV2(w http.ResponseWriter, r *http.Request) {
	s.serveWaveform(w, r, framingNDJSON)
}

// serveWaveform streams the frames of one request. Failures are part of the
// stream, so the status is always 200 once streaming starts.
func (s *Server) serveWaveform(w http.ResponseWriter, r *http.Request, f framing) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.waveform == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "waveform generation not configured")
		return
	}

	h := w.Header()
	h.Set("Content-Type", f.contentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	fw := newFrameWriter(w, f)
	_ = fw.flush()

	err := s.waveform.Execute(r.Context(), r.URL.Query().Get("url"), fw)
	if closeErr := fw.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil && !errors.Is(err, usecase.ErrClientGone) && r.Context().Err() == nil {
		s.logger.Debug("waveform stream ended with error", slog.String("error", err.Error()))
	}
}
