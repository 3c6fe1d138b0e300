// Package api provides REST API handlers for querying groups and projects.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fidde/groupsink/internal/grouping"
	"github.com/fidde/groupsink/internal/storage"
	"github.com/fidde/groupsink/internal/storage/snapshots"
	"github.com/fidde/groupsink/pkg/models"
)

// Server is the REST API server.
type Server struct {
	store   storage.Storage
	grouper *grouping.Grouper
	router  *chi.Mux
	server  *http.Server
}

// PaginationParams contains pagination parameters from query string.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// paginateSlice applies pagination to a slice.
func paginateSlice[T any](items []T, params PaginationParams) ([]T, PaginatedResponse) {
	total := len(items)
	start := params.Offset
	end := start + params.Limit

	// Bounds check
	if start >= total {
		return []T{}, PaginatedResponse{
			Data:    []T{},
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: false,
		}
	}

	if end > total {
		end = total
	}

	page := items[start:end]
	hasMore := end < total

	return page, PaginatedResponse{
		Data:    page,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: hasMore,
	}
}

// NewServer creates a new API server. The snapshot store is optional;
// snapshot routes respond 501 when the backend cannot export state.
func NewServer(addr string, store storage.Storage, grouper *grouping.Grouper, snapshotStore *snapshots.Store) *Server {
	s := &Server{
		store:   store,
		grouper: grouper,
		router:  chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	snapshotHandler := NewSnapshotHandler(snapshotStore, store)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Health endpoint
		r.Get("/health", s.HandleHealth)

		// Group endpoints
		r.Get("/groups", s.listGroups)
		r.Get("/groups/{id}", s.getGroup)
		r.Get("/groups/{id}/events", s.listGroupEvents)
		r.Get("/groups/{id}/hashes", s.getGroupHashes)
		r.Get("/groups/{id}/stats", s.getGroupStats)
		r.Get("/groups/{id}/archive", s.getGroupArchive)
		r.Put("/groups/{id}/status", s.updateGroupStatus)

		// Project endpoints
		r.Get("/projects", s.listProjects)
		r.Get("/projects/{name}/overview", s.getProjectOverview)

		// Grouping debug endpoint
		r.Post("/grouping/variants", s.groupingVariants)

		// Snapshot endpoints
		if snapshotStore != nil {
			r.Get("/snapshots", snapshotHandler.ListSnapshots)
			r.Post("/snapshots", snapshotHandler.CreateSnapshot)
			r.Get("/snapshots/{name}", snapshotHandler.GetSnapshot)
			r.Delete("/snapshots/{name}", snapshotHandler.DeleteSnapshot)
			r.Post("/snapshots/{name}/restore", snapshotHandler.RestoreSnapshot)
		}

		// Admin endpoints
		r.Post("/admin/clear", s.clearAllData)
	})

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	return s
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// listGroups returns groups, optionally filtered by project and status.
// Supports pagination via ?limit=N&offset=M query parameters.
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := r.URL.Query().Get("project")
	params := parsePaginationParams(r)

	status := models.GroupStatus(r.URL.Query().Get("status"))
	if status != "" && !models.ValidStatus(status) {
		respondError(w, http.StatusBadRequest, "invalid status: "+string(status))
		return
	}

	groups, err := s.store.ListGroups(ctx, project, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Apply pagination
	_, response := paginateSlice(groups, params)
	respondJSON(w, http.StatusOK, response)
}

// getGroup returns a specific group by id.
func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, group)
}

// listGroupEvents returns the retained events of a group, newest first.
func (s *Server) listGroupEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	params := parsePaginationParams(r)

	events, err := s.store.ListGroupEvents(ctx, id, params.Limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  events,
		"total": len(events),
	})
}

// getGroupHashes returns all grouping hashes linked to a group.
func (s *Server) getGroupHashes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	hashes, err := s.store.GetGroupHashes(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  hashes,
		"total": len(hashes),
	})
}

// updateGroupStatus changes a group's triage status.
// PUT /api/v1/groups/{id}/status
func (s *Server) updateGroupStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		Status models.GroupStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !models.ValidStatus(body.Status) {
		respondError(w, http.StatusBadRequest, "invalid status: "+string(body.Status))
		return
	}

	group, err := s.store.UpdateGroupStatus(ctx, id, body.Status)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "group not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, group)
}

// listProjects returns all project names.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  projects,
		"total": len(projects),
	})
}

// getProjectOverview returns a summary of a project's issue state.
func (s *Server) getProjectOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	decodedName, err := url.QueryUnescape(name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project name encoding")
		return
	}

	overview, err := s.store.GetProjectOverview(ctx, decodedName)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "project not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

// groupingVariants runs the grouping engine on a posted event and
// returns the variant trees and hashes without persisting anything.
// POST /api/v1/grouping/variants
func (s *Server) groupingVariants(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	event.Level = models.NormalizeLevel(event.Level)

	result, err := s.grouper.Grouping(&event)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// clearAllData clears all data from the storage.
// POST /api/v1/admin/clear
func (s *Server) clearAllData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.store.Clear(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to clear data")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "All data cleared successfully",
	})
}
