package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fidde/groupsink/internal/storage"
	"github.com/fidde/groupsink/internal/storage/snapshots"
)

// SnapshotHandler handles snapshot-related API requests. Snapshots
// work only when the backend can export and restore its state.
type SnapshotHandler struct {
	store *snapshots.Store
	main  storage.Storage
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(store *snapshots.Store, main storage.Storage) *SnapshotHandler {
	return &SnapshotHandler{store: store, main: main}
}

// snapshotter returns the backend's state exporter, or nil when the
// backend does not support snapshots.
func (h *SnapshotHandler) snapshotter() snapshots.Snapshotter {
	snap, _ := h.main.(snapshots.Snapshotter)
	return snap
}

// ListSnapshots returns metadata for all saved snapshots.
// GET /api/v1/snapshots
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list snapshots: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": list,
		"total":     len(list),
	})
}

// CreateSnapshot saves the current grouping state as a new snapshot.
// POST /api/v1/snapshots
func (h *SnapshotHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := h.snapshotter()
	if snap == nil {
		respondError(w, http.StatusNotImplemented, "snapshots are not supported by this storage backend")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if body.Name == "" {
		respondError(w, http.StatusBadRequest, "snapshot name is required")
		return
	}

	state, err := snap.ExportState(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export state: "+err.Error())
		return
	}

	info, err := h.store.Save(body.Name, state)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to save snapshot: "+err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Snapshot created successfully",
		"snapshot": info,
	})
}

// GetSnapshot returns the contents of a specific snapshot.
// GET /api/v1/snapshots/{name}
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	name, ok := snapshotName(w, r)
	if !ok {
		return
	}

	state, err := h.store.Load(name)
	if err != nil {
		if errors.Is(err, snapshots.ErrSnapshotNotFound) {
			respondError(w, http.StatusNotFound, "Snapshot not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load snapshot: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":   name,
		"groups": len(state.Groups),
		"hashes": len(state.Hashes),
		"state":  state,
	})
}

// DeleteSnapshot removes a snapshot.
// DELETE /api/v1/snapshots/{name}
func (h *SnapshotHandler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name, ok := snapshotName(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(name); err != nil {
		if errors.Is(err, snapshots.ErrSnapshotNotFound) {
			respondError(w, http.StatusNotFound, "Snapshot not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete snapshot: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RestoreSnapshot replaces the current grouping state with a snapshot.
// POST /api/v1/snapshots/{name}/restore
func (h *SnapshotHandler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := h.snapshotter()
	if snap == nil {
		respondError(w, http.StatusNotImplemented, "snapshots are not supported by this storage backend")
		return
	}

	name, ok := snapshotName(w, r)
	if !ok {
		return
	}

	state, err := h.store.Load(name)
	if err != nil {
		if errors.Is(err, snapshots.ErrSnapshotNotFound) {
			respondError(w, http.StatusNotFound, "Snapshot not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load snapshot: "+err.Error())
		return
	}

	if err := snap.ImportState(ctx, state); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to restore snapshot: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Snapshot restored successfully",
		"snapshot": name,
		"groups":   len(state.Groups),
	})
}

// snapshotName extracts and decodes the snapshot name URL parameter.
func snapshotName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.QueryUnescape(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid snapshot name encoding")
		return "", false
	}
	return name, true
}
