package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/config"
	"github.com/editstack/cutcore/internal/database"
	"github.com/editstack/cutcore/internal/logging"
	"github.com/editstack/cutcore/internal/session"
	"github.com/editstack/cutcore/pkg/models"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)
	return logger
}

// fakeStore backs the session manager and the ownership checks without a
// database.
type fakeStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	assets   map[string][]*models.MediaAsset
	saves    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]*models.Project),
		assets:   make(map[string][]*models.MediaAsset),
	}
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, database.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) SaveTimeline(ctx context.Context, projectID string, doc models.TimelineDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeStore) ListProjectAssets(ctx context.Context, projectID string) ([]*models.MediaAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets[projectID], nil
}

func readyAsset(projectID, id string, duration int64) *models.MediaAsset {
	return &models.MediaAsset{
		ID:            id,
		ProjectID:     projectID,
		Kind:          models.AssetKindVideo,
		Filename:      id + ".mp4",
		DurationTicks: duration,
		LoadState:     models.LoadStateReady,
	}
}

// seedProject stores a project with one video track and one ready source
// asset ten seconds long.
func seedProject(store *fakeStore, projectID string) {
	store.projects[projectID] = &models.Project{
		ID:   projectID,
		Name: "demo",
		Timeline: models.TimelineDocument{
			Timeline: models.Timeline{
				Tracks: []*models.Track{
					{ID: "v1", Kind: models.TrackKindVideo, Enabled: true},
				},
			},
		},
	}
	store.assets[projectID] = []*models.MediaAsset{readyAsset(projectID, "asset-1", 900_000)}
}

func newTestAPI(t *testing.T) (*API, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testLogger(t)
	store := newFakeStore()
	registry := assets.NewRegistry(assets.Options{Logger: logger})
	sessions := session.NewManager(store, registry, config.SessionConfig{
		HistoryLimit:     100,
		AutosaveInterval: time.Hour,
		IdleTimeout:      time.Hour,
	}, nil, logger)
	t.Cleanup(func() { _ = sessions.Close(context.Background()) })

	api := &API{
		cfg:      &config.Config{},
		projects: store,
		sessions: sessions,
		registry: registry,
		logger:   logger,
	}
	return api, store
}

func newTestRouter(api *API) *gin.Engine {
	router := gin.New()
	router.GET("/api/v1/projects/:id/timeline", api.getTimeline)
	router.POST("/api/v1/projects/:id/commands", api.applyCommand)
	router.POST("/api/v1/projects/:id/undo", api.undo)
	router.POST("/api/v1/projects/:id/redo", api.redo)
	router.GET("/api/v1/projects/:id/history", api.getHistory)
	router.POST("/api/v1/projects/:id/transaction/begin", api.beginTransaction)
	router.POST("/api/v1/projects/:id/transaction/commit", api.commitTransaction)
	router.POST("/api/v1/projects/:id/transaction/abort", api.abortTransaction)
	router.PUT("/api/v1/projects/:id/playhead", api.setPlayhead)
	router.PUT("/api/v1/projects/:id/selection", api.setSelection)
	router.GET("/api/v1/projects/:id/assets", api.listAssets)
	router.GET("/api/v1/assets/:id", api.getAsset)
	router.GET("/api/v1/assets/:id/waveform", api.getWaveform)
	router.DELETE("/api/v1/assets/:id", api.deleteAsset)
	router.POST("/api/v1/projects/:id/captions/import", api.importCaptions)
	router.GET("/api/v1/projects/:id/captions/:track_id/srt", api.exportCaptions)
	return router
}

// doJSON performs one request. A string body is sent verbatim; any other
// non-nil body is marshalled to JSON.
func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

type editResponse struct {
	Op      string               `json:"op"`
	Undone  string               `json:"undone"`
	Redone  string               `json:"redone"`
	Version int64                `json:"version"`
	History session.HistoryState `json:"history"`
}

type timelineResponse struct {
	Timeline models.Timeline      `json:"timeline"`
	Version  int64                `json:"version"`
	History  session.HistoryState `json:"history"`
}

const addElementA = `{"op":"element.add","track_id":"v1","element":{"id":"eA","asset_id":"asset-1","start_tick":0,"duration_ticks":9000,"trim_out_ticks":9000}}`
const addElementB = `{"op":"element.add","track_id":"v1","element":{"id":"eB","asset_id":"asset-1","start_tick":9000,"duration_ticks":9000,"trim_out_ticks":9000}}`

func getTimeline(t *testing.T, router *gin.Engine, projectID string) timelineResponse {
	t.Helper()
	w := doJSON(router, "GET", "/api/v1/projects/"+projectID+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp timelineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetTimelineLoadsDocument(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	resp := getTimeline(t, router, "p1")
	assert.Equal(t, int64(0), resp.Version)
	require.Len(t, resp.Timeline.Tracks, 1)
	assert.Equal(t, "v1", resp.Timeline.Tracks[0].ID)
	assert.False(t, resp.History.CanUndo)
	assert.True(t, api.registry.IsReady("asset-1"), "opening the session installs persisted assets")
}

func TestGetTimelineUnknownProject(t *testing.T) {
	api, _ := newTestAPI(t)
	router := newTestRouter(api)

	w := doJSON(router, "GET", "/api/v1/projects/ghost/timeline", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplyCommand(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	var resp editResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "element.add", resp.Op)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, 1, resp.History.UndoDepth)

	tl := getTimeline(t, router, "p1")
	require.Len(t, tl.Timeline.Tracks[0].Elements, 1)
	assert.Equal(t, "eA", tl.Timeline.Tracks[0].Elements[0].ID)
}

func TestApplyCommandRejectsOverlap(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	overlapping := `{"op":"element.add","track_id":"v1","element":{"id":"eX","asset_id":"asset-1","start_tick":4500,"duration_ticks":9000,"trim_out_ticks":9000}}`
	w = doJSON(router, "POST", "/api/v1/projects/p1/commands", overlapping)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tl := getTimeline(t, router, "p1")
	assert.Equal(t, int64(1), tl.Version, "rejected commands do not advance the document")
	assert.Len(t, tl.Timeline.Tracks[0].Elements, 1)
}

func TestApplyCommandUnknownTrack(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	raw := `{"op":"element.add","track_id":"ghost","element":{"asset_id":"asset-1","duration_ticks":9000}}`
	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", raw)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplyCommandUnknownAsset(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	raw := `{"op":"element.add","track_id":"v1","element":{"asset_id":"ghost","duration_ticks":9000}}`
	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", raw)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplyCommandBadPayload(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", `{"op":"element.teleport"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyCommandUnknownProject(t *testing.T) {
	api, _ := newTestAPI(t)
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/ghost/commands", addElementA)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp editResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "element.add", resp.Undone)
	assert.False(t, resp.History.CanUndo)
	assert.True(t, resp.History.CanRedo)

	tl := getTimeline(t, router, "p1")
	assert.Empty(t, tl.Timeline.Tracks[0].Elements)

	w = doJSON(router, "POST", "/api/v1/projects/p1/redo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "element.add", resp.Redone)
	assert.Equal(t, 1, resp.History.UndoDepth)
	assert.False(t, resp.History.CanRedo)

	tl = getTimeline(t, router, "p1")
	require.Len(t, tl.Timeline.Tracks[0].Elements, 1)
}

func TestUndoWithEmptyHistory(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/undo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/redo", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCompoundAppliesAtomically(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	raw := fmt.Sprintf(`{"op":"compound","label":"insert pair","commands":[%s,%s]}`, addElementA, addElementB)
	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", raw)
	require.Equal(t, http.StatusOK, w.Code)

	var resp editResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "insert pair", resp.Op)
	assert.Equal(t, 1, resp.History.UndoDepth, "a compound is one history entry")

	tl := getTimeline(t, router, "p1")
	require.Len(t, tl.Timeline.Tracks[0].Elements, 2)

	w = doJSON(router, "POST", "/api/v1/projects/p1/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)

	tl = getTimeline(t, router, "p1")
	assert.Empty(t, tl.Timeline.Tracks[0].Elements, "undoing a compound reverts every sub-edit")
}

func TestTransactionCommitCollapsesHistory(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/transaction/begin", gin.H{"label": "Razor edit"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)
	var resp editResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.History.InTransaction)

	w = doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementB)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/transaction/commit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.History.UndoDepth, "committed transaction is a single entry")
	assert.False(t, resp.History.InTransaction)

	w = doJSON(router, "POST", "/api/v1/projects/p1/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Razor edit", resp.Undone)

	tl := getTimeline(t, router, "p1")
	assert.Empty(t, tl.Timeline.Tracks[0].Elements)
}

func TestTransactionAbortRollsBack(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/transaction/begin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/transaction/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)

	tl := getTimeline(t, router, "p1")
	assert.Empty(t, tl.Timeline.Tracks[0].Elements)
	assert.Equal(t, 0, tl.History.UndoDepth)
	assert.False(t, tl.History.InTransaction)
}

func TestTransactionConflicts(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/transaction/commit", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "commit without an open transaction")

	w = doJSON(router, "POST", "/api/v1/projects/p1/transaction/begin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/v1/projects/p1/transaction/begin", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "transactions do not nest")
}

func TestSetPlayheadAndSelection(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "PUT", "/api/v1/projects/p1/playhead", gin.H{"tick": 4500})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "PUT", "/api/v1/projects/p1/selection", gin.H{"ids": []string{"eA"}})
	require.Equal(t, http.StatusOK, w.Code)

	tl := getTimeline(t, router, "p1")
	assert.Equal(t, int64(4500), tl.Timeline.PlayheadTick)
	assert.Equal(t, []string{"eA"}, tl.Timeline.Selection)
}

func TestSetPlayheadRejectsNegativeTick(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "PUT", "/api/v1/projects/p1/playhead", gin.H{"tick": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetSelectionUnknownElement(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "PUT", "/api/v1/projects/p1/selection", gin.H{"ids": []string{"ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetHistoryEndpoint(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/commands", addElementA)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/api/v1/projects/p1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var hist session.HistoryState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.True(t, hist.CanUndo)
	assert.Equal(t, "element.add", hist.NextUndo)
	assert.Equal(t, 1, hist.UndoDepth)
}
