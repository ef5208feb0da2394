package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/app"
	"github.com/storyweave/lorekeeper/internal/config"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

func newTestRouter(t *testing.T) (*gin.Engine, *app.Service) {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "registry.json")

	svc, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return NewRouter(svc, nil, gin.TestMode), svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func createTestEntity(t *testing.T, r *gin.Engine, label string) registry.Entity {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/entities", CreateEntityRequest{
		Label: label,
		Kind:  "character",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var e registry.Entity
	decode(t, w, &e)
	return e
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndGetEntity(t *testing.T) {
	r, _ := newTestRouter(t)
	e := createTestEntity(t, r, "Frodo")
	assert.Equal(t, "Frodo", e.Label)
	assert.NotEmpty(t, e.ID)

	w := doJSON(t, r, http.MethodGet, "/api/v1/entities/"+string(e.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Label lookup resolves too.
	w = doJSON(t, r, http.MethodGet, "/api/v1/entities/frodo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetEntityNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/entities/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "REG_001", resp.Code)
}

func TestCreateEntityValidation(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/entities", map[string]string{"kind": "character"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanFindsRegisteredEntity(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodPost, "/api/v1/scan", ScanRequest{
		DocumentID: "doc-1",
		Text:       "Frodo crossed the river.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ScanResponse
	decode(t, w, &resp)
	assert.Equal(t, "doc-1", resp.DocumentID)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "Frodo", resp.Matches[0].Entity.Label)
	assert.GreaterOrEqual(t, resp.Matches[0].Confidence, 0.6)
}

func TestScanRequiresDocumentID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/scan", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkMentions(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Gandalf")

	w := doJSON(t, r, http.MethodPost, "/api/v1/mentions", ScanRequest{
		DocumentID: "doc-1",
		Text:       "Gandalf spoke. Gandalf left.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		DocumentID string `json:"documentId"`
		Mentions   []struct {
			EntityID string `json:"entityId"`
			Text     string `json:"text"`
		} `json:"mentions"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Mentions, 2)
}

func TestUpdateEntity(t *testing.T) {
	r, _ := newTestRouter(t)
	e := createTestEntity(t, r, "Strider")

	label := "Aragorn"
	w := doJSON(t, r, http.MethodPatch, "/api/v1/entities/"+string(e.ID), UpdateEntityRequest{Label: &label})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated registry.Entity
	decode(t, w, &updated)
	assert.Equal(t, "Aragorn", updated.Label)
}

func TestDeleteEntity(t *testing.T) {
	r, _ := newTestRouter(t)
	e := createTestEntity(t, r, "Boromir")

	w := doJSON(t, r, http.MethodDelete, "/api/v1/entities/"+string(e.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/entities/"+string(e.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMergeEntities(t *testing.T) {
	r, _ := newTestRouter(t)
	target := createTestEntity(t, r, "Aragorn")
	source := createTestEntity(t, r, "Strider")

	w := doJSON(t, r, http.MethodPost, "/api/v1/entities/merge", MergeRequest{
		TargetID: string(target.ID),
		SourceID: string(source.ID),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var merged registry.Entity
	decode(t, w, &merged)
	assert.Equal(t, target.ID, merged.ID)
	assert.Contains(t, merged.Aliases, "Strider")
}

func TestAliasLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	e := createTestEntity(t, r, "Aragorn")

	w := doJSON(t, r, http.MethodPost, "/api/v1/entities/"+string(e.ID)+"/aliases", AliasRequest{Alias: "Strider"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/v1/entities/strider", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/entities/"+string(e.ID)+"/aliases/Strider", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/entities/strider", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelationshipEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	frodo := createTestEntity(t, r, "Frodo")
	createTestEntity(t, r, "Sam")

	w := doJSON(t, r, http.MethodPost, "/api/v1/relationships", RelationshipRequest{
		Source: "Frodo", Type: "ally_of", Target: "Sam", Confidence: 0.9,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/entities/%s/relationships", frodo.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Total int `json:"total"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Total)
}

func TestRelationshipUnknownEndpointIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodPost, "/api/v1/relationships", RelationshipRequest{
		Source: "Frodo", Type: "ally_of", Target: "Nobody",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodPost, "/api/v1/scan", ScanRequest{DocumentID: "doc-1", Text: "Frodo slept."})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/documents/doc-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFlushRequiresConfirm(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodPost, "/api/v1/flush", FlushRequest{Confirm: false})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/flush", FlushRequest{Confirm: true})
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Entities int `json:"entities"`
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &stats)
	assert.Zero(t, stats.Entities)
}

func TestExportImportRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := w.Body.Bytes()

	other, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", bytes.NewReader(snapshot))
	rec := httptest.NewRecorder()
	other.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w = doJSON(t, other, http.MethodGet, "/api/v1/entities/frodo", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIntegrityEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	createTestEntity(t, r, "Frodo")

	w := doJSON(t, r, http.MethodGet, "/api/v1/integrity", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/integrity/repair", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerHandlerServes(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "registry.json")
	cfg.Server.Mode = "test"

	svc, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	srv := NewServer(cfg.Server, svc, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
