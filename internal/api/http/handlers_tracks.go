package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"sampurr/internal/domain"
)

const (
	defaultTrackListLimit = 50
	maxTrackListLimit     = 500
)

type trackListResponse struct {
	Items []domain.TrackRecord `json:"items"`
	Count int                  `json:"count"`
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_disabled", "track catalog not configured")
		return
	}
	limit, err := parseOptionalIntQuery(r.URL.Query().Get("limit"), defaultTrackListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit > maxTrackListLimit {
		limit = maxTrackListLimit
	}

	records, err := s.catalog.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}
	if records == nil {
		records = []domain.TrackRecord{}
	}
	writeJSON(w, http.StatusOK, trackListResponse{Items: records, Count: len(records)})
}

func (s *Server) handleTrackByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_disabled", "track catalog not configured")
		return
	}
	id := domain.TrackID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tracks/"), "/"))
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid track id")
		return
	}

	rec, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "track not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
