package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editstack/cutcore/pkg/models"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,000
hello world

2
00:00:02,500 --> 00:00:04,000
second line
`

func importSRT(t *testing.T, router *gin.Engine, projectID, srt, language string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "captions.srt")
	require.NoError(t, err)
	_, err = io.WriteString(fw, srt)
	require.NoError(t, err)
	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/projects/"+projectID+"/captions/import", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	router.ServeHTTP(w, req)
	return w
}

func TestImportCaptionsCreatesUndoableTrack(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := importSRT(t, router, "p1", sampleSRT, "en")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		CaptionTrackID string `json:"caption_track_id"`
		Cues           int    `json:"cues"`
		Version        int64  `json:"version"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CaptionTrackID)
	assert.Equal(t, 2, resp.Cues)
	assert.Equal(t, int64(1), resp.Version)

	tl := getTimeline(t, router, "p1")
	require.Len(t, tl.Timeline.CaptionTracks, 1)
	ct := tl.Timeline.CaptionTracks[0]
	assert.Equal(t, resp.CaptionTrackID, ct.ID)
	assert.Equal(t, "en", ct.Language)
	require.Len(t, ct.Cues, 2)
	assert.Equal(t, int64(90_000), ct.Cues[0].StartTick)
	assert.Equal(t, int64(180_000), ct.Cues[0].EndTick)
	assert.Equal(t, "hello world", ct.Cues[0].Text)

	require.Len(t, tl.Timeline.Tracks, 2, "a caption-kind track joins the stack")
	captionTrack := tl.Timeline.Tracks[1]
	assert.Equal(t, models.TrackKindCaption, captionTrack.Kind)
	assert.Equal(t, ct.ID, captionTrack.CaptionTrackID)

	w = doJSON(router, "POST", "/api/v1/projects/p1/undo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tl = getTimeline(t, router, "p1")
	assert.Empty(t, tl.Timeline.CaptionTracks, "caption install reverts like any edit")
	assert.Len(t, tl.Timeline.Tracks, 1)
}

func TestImportCaptionsRejectsEmptyFile(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := importSRT(t, router, "p1", "\n", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportCaptionsRequiresFile(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "POST", "/api/v1/projects/p1/captions/import", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportCaptionsRoundTrip(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := importSRT(t, router, "p1", sampleSRT, "en")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		CaptionTrackID string `json:"caption_track_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(router, "GET", "/api/v1/projects/p1/captions/"+resp.CaptionTrackID+"/srt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-subrip", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "00:00:01,000 --> 00:00:02,000")
	assert.Contains(t, body, "hello world")
	assert.Contains(t, body, "00:00:02,500 --> 00:00:04,000")
	assert.Contains(t, body, "second line")
}

func TestExportCaptionsUnknownTrack(t *testing.T) {
	api, store := newTestAPI(t)
	seedProject(store, "p1")
	router := newTestRouter(api)

	w := doJSON(router, "GET", "/api/v1/projects/p1/captions/ghost/srt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
