package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fidde/groupsink/internal/storage/clickhouse"
	"github.com/fidde/groupsink/pkg/models"
)

// archiver is implemented by storage backends that keep a raw event
// archive alongside the primary store.
type archiver interface {
	Archive() *clickhouse.Archive
}

// archive returns the backend's event archive, or nil when the
// configured backend does not archive events.
func (s *Server) archive() *clickhouse.Archive {
	a, ok := s.store.(archiver)
	if !ok {
		return nil
	}
	return a.Archive()
}

// getGroupStats returns per-day event counts for a group from the
// archive.
// GET /api/v1/groups/{id}/stats?days=N
func (s *Server) getGroupStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	archive := s.archive()
	if archive == nil {
		respondError(w, http.StatusNotImplemented, "event archive is not enabled")
		return
	}

	if _, err := s.store.GetGroup(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsed, err := strconv.Atoi(daysStr); err == nil && parsed > 0 {
			days = parsed
		}
	}

	counts, err := archive.DailyCounts(ctx, id, days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data": counts,
		"days": days,
	})
}

// getGroupArchive returns a group's archived events, newest first.
// The archive holds the full event history, unlike the primary store's
// capped recent window.
// GET /api/v1/groups/{id}/archive
func (s *Server) getGroupArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	params := parsePaginationParams(r)

	archive := s.archive()
	if archive == nil {
		respondError(w, http.StatusNotImplemented, "event archive is not enabled")
		return
	}

	if _, err := s.store.GetGroup(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, err := archive.RecentEvents(ctx, id, params.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  events,
		"total": len(events),
	})
}
