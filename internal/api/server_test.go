package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fidde/groupsink/internal/grouping"
	"github.com/fidde/groupsink/internal/storage/memory"
	"github.com/fidde/groupsink/internal/storage/snapshots"
	"github.com/fidde/groupsink/pkg/models"
)

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	grouper := grouping.New(grouping.ConfigByID(grouping.DefaultConfigID))

	snapshotStore, err := snapshots.NewWithConfig(snapshots.Config{
		SnapshotDir:  t.TempDir(),
		MaxSnapshots: 10,
	})
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}

	return NewServer("127.0.0.1:0", store, grouper, snapshotStore), store
}

func seedGroup(t *testing.T, store *memory.Store, project, title, hash string) *models.Group {
	t.Helper()

	event := &models.Event{
		EventID:   fmt.Sprintf("evt-%s", hash),
		Project:   project,
		Message:   title,
		Timestamp: time.Now().UTC(),
	}
	seed := models.GroupSeed{
		Title: title,
		Level: "error",
		Metadata: models.GroupMetadata{
			Type:  "message",
			Value: title,
			Title: title,
		},
	}
	info, err := store.SaveEvent(context.Background(), event, []string{hash}, seed)
	if err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	return info.Group
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestServer_Health(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var health HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "ok" {
		t.Errorf("health status: got %s, want ok", health.Status)
	}
}

func TestServer_ListGroups(t *testing.T) {
	server, store := setupTestServer(t)
	seedGroup(t, store, "backend", "boom", "h1")
	seedGroup(t, store, "backend", "crash", "h2")
	seedGroup(t, store, "mobile", "freeze", "h3")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var response struct {
		Data  []models.Group `json:"data"`
		Total int            `json:"total"`
	}
	decodeBody(t, rec, &response)
	if response.Total != 3 {
		t.Errorf("total: got %d, want 3", response.Total)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups?project=backend", nil)
	decodeBody(t, rec, &response)
	if response.Total != 2 {
		t.Errorf("backend total: got %d, want 2", response.Total)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups?limit=1&offset=1", nil)
	var paged struct {
		Data    []models.Group `json:"data"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	decodeBody(t, rec, &paged)
	if len(paged.Data) != 1 || paged.Total != 3 || !paged.HasMore {
		t.Errorf("pagination: got %d items, total %d, has_more %v", len(paged.Data), paged.Total, paged.HasMore)
	}
}

func TestServer_ListGroups_InvalidStatus(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestServer_GetGroup(t *testing.T) {
	server, store := setupTestServer(t)
	group := seedGroup(t, store, "backend", "boom", "h1")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	var got models.Group
	decodeBody(t, rec, &got)
	if got.ID != group.ID || got.Title != "boom" {
		t.Errorf("group: got %+v", got)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing group status: got %d, want 404", rec.Code)
	}
}

func TestServer_GroupEventsAndHashes(t *testing.T) {
	server, store := setupTestServer(t)
	group := seedGroup(t, store, "backend", "boom", "h1")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status: got %d, want 200", rec.Code)
	}
	var events struct {
		Data  []models.Event `json:"data"`
		Total int            `json:"total"`
	}
	decodeBody(t, rec, &events)
	if events.Total != 1 || events.Data[0].Message != "boom" {
		t.Errorf("events: got %+v", events)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/hashes", nil)
	var hashes struct {
		Data  []string `json:"data"`
		Total int      `json:"total"`
	}
	decodeBody(t, rec, &hashes)
	if hashes.Total != 1 || hashes.Data[0] != "h1" {
		t.Errorf("hashes: got %+v", hashes)
	}
}

func TestServer_GroupStats_ArchiveDisabled(t *testing.T) {
	server, store := setupTestServer(t)
	group := seedGroup(t, store, "backend", "boom", "h1")

	// Memory backend keeps no archive
	rec := doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/stats", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("stats status: got %d, want 501", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/groups/"+group.ID+"/archive", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("archive status: got %d, want 501", rec.Code)
	}
}

func TestServer_UpdateGroupStatus(t *testing.T) {
	server, store := setupTestServer(t)
	group := seedGroup(t, store, "backend", "boom", "h1")

	rec := doRequest(t, server, http.MethodPut, "/api/v1/groups/"+group.ID+"/status",
		map[string]string{"status": "resolved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var got models.Group
	decodeBody(t, rec, &got)
	if got.Status != models.StatusResolved {
		t.Errorf("group status: got %s, want resolved", got.Status)
	}

	rec = doRequest(t, server, http.MethodPut, "/api/v1/groups/"+group.ID+"/status",
		map[string]string{"status": "nonsense"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: got %d, want 400", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPut, "/api/v1/groups/missing/status",
		map[string]string{"status": "resolved"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing group: got %d, want 404", rec.Code)
	}
}

func TestServer_Projects(t *testing.T) {
	server, store := setupTestServer(t)
	seedGroup(t, store, "backend", "boom", "h1")
	seedGroup(t, store, "mobile", "freeze", "h2")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/projects", nil)
	var projects struct {
		Data  []string `json:"data"`
		Total int      `json:"total"`
	}
	decodeBody(t, rec, &projects)
	if projects.Total != 2 {
		t.Errorf("projects: got %+v", projects)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/projects/backend/overview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview status: got %d, want 200", rec.Code)
	}
	var overview models.ProjectOverview
	decodeBody(t, rec, &overview)
	if overview.GroupCount != 1 || overview.UnresolvedCount != 1 {
		t.Errorf("overview: got %+v", overview)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/projects/missing/overview", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing project: got %d, want 404", rec.Code)
	}
}

func TestServer_GroupingVariants(t *testing.T) {
	server, _ := setupTestServer(t)

	event := map[string]any{
		"event_id": "evt-1",
		"project":  "backend",
		"platform": "python",
		"message":  "connection refused to host 10.0.0.1",
	}
	rec := doRequest(t, server, http.MethodPost, "/api/v1/grouping/variants", event)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Variants map[string]json.RawMessage `json:"variants"`
		Hashes   []string                   `json:"hashes"`
	}
	decodeBody(t, rec, &result)
	if len(result.Hashes) == 0 {
		t.Error("expected at least one hash")
	}
	if _, ok := result.Variants["system"]; !ok {
		t.Errorf("variants: got %v, want a system variant", result.Variants)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/grouping/variants", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want 400", rec.Code)
	}
}

func TestServer_Snapshots(t *testing.T) {
	server, store := setupTestServer(t)
	group := seedGroup(t, store, "backend", "boom", "h1")

	// Create
	rec := doRequest(t, server, http.MethodPost, "/api/v1/snapshots",
		map[string]string{"name": "before-deploy"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status: got %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// List
	rec = doRequest(t, server, http.MethodGet, "/api/v1/snapshots", nil)
	var list struct {
		Snapshots []snapshots.Info `json:"snapshots"`
		Total     int              `json:"total"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 1 || list.Snapshots[0].Name != "before-deploy" {
		t.Errorf("list: got %+v", list)
	}

	// Get
	rec = doRequest(t, server, http.MethodGet, "/api/v1/snapshots/before-deploy", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: got %d, want 200", rec.Code)
	}
	var snap struct {
		Name   string `json:"name"`
		Groups int    `json:"groups"`
	}
	decodeBody(t, rec, &snap)
	if snap.Groups != 1 {
		t.Errorf("snapshot groups: got %d, want 1", snap.Groups)
	}

	// Mutate state, then restore
	if _, err := store.UpdateGroupStatus(context.Background(), group.ID, models.StatusResolved); err != nil {
		t.Fatalf("UpdateGroupStatus failed: %v", err)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/snapshots/before-deploy/restore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	restored, err := store.GetGroup(context.Background(), group.ID)
	if err != nil {
		t.Fatalf("GetGroup after restore failed: %v", err)
	}
	if restored.Status != models.StatusUnresolved {
		t.Errorf("status after restore: got %s, want unresolved", restored.Status)
	}

	// Delete
	rec = doRequest(t, server, http.MethodDelete, "/api/v1/snapshots/before-deploy", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status: got %d, want 204", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/api/v1/snapshots/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing snapshot: got %d, want 404", rec.Code)
	}
}

func TestServer_CreateSnapshot_MissingName(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/snapshots", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestServer_AdminClear(t *testing.T) {
	server, store := setupTestServer(t)
	seedGroup(t, store, "backend", "boom", "h1")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}

	groups, err := store.ListGroups(context.Background(), "", "")
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups after clear: got %d, want 0", len(groups))
	}
}
