package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/pkg/models"
)

const ingestTimeout = 2 * time.Minute

func (api *API) uploadAsset(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No media file provided"})
		return
	}

	if api.cfg.Assets.MaxSizeBytes > 0 && file.Size > api.cfg.Assets.MaxSizeBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds size limit"})
		return
	}

	tempPath := filepath.Join(api.cfg.Render.TempDir, "uploads", uuid.New().String()+filepath.Ext(file.Filename))
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stage upload"})
		return
	}
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	// Subscribe before registering so the terminal load event cannot be
	// missed; registration probes in the background.
	events, cancel := api.registry.Subscribe()
	assetID := api.registry.Register(assets.Descriptor{
		ProjectID: project.ID,
		Filename:  file.Filename,
		Source:    tempPath,
	})
	go api.finishIngest(assetID, project.ID, tempPath, events, cancel)

	c.JSON(http.StatusAccepted, gin.H{
		"asset_id":   assetID,
		"load_state": models.LoadStateLoading,
	})
}

// finishIngest waits for the probe to settle, then moves the staged file
// into object storage and persists the asset row. A failed probe keeps the
// in-memory failed entry for inspection but writes nothing durable.
func (api *API) finishIngest(assetID, projectID, tempPath string, events <-chan assets.LoadEvent, cancel func()) {
	defer cancel()
	defer os.Remove(tempPath)

	for evt := range events {
		if evt.AssetID != assetID {
			continue
		}
		switch evt.LoadState {
		case models.LoadStateReady:
			api.storeReadyAsset(assetID, projectID, tempPath)
		case models.LoadStateFailed:
			api.logger.WithAssetID(assetID).WithField("error", evt.Err).Warn("Media ingest failed")
		default:
			continue
		}
		return
	}
}

func (api *API) storeReadyAsset(assetID, projectID, tempPath string) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancelCtx()

	asset, err := api.registry.Get(assetID)
	if err != nil {
		api.logger.WithError(err).WithAssetID(assetID).Error("Probed asset vanished before store")
		return
	}

	key := storage.SourceKey(projectID, assetID, asset.Filename)
	if err := api.parallel.UploadFileParallel(ctx, key, tempPath); err != nil {
		api.logger.WithError(err).WithAssetID(assetID).Error("Failed to store media upload")
		_ = api.registry.Remove(assetID)
		return
	}

	// Swap the staged path for the durable object key before anything
	// references the asset by source.
	asset.SourceURL = key
	api.registry.Install(asset)

	if err := api.repo.CreateAsset(ctx, asset); err != nil {
		api.logger.WithError(err).WithAssetID(assetID).Error("Failed to persist asset")
	}
	_ = api.webhooks.NotifyAssetReady(ctx, asset)

	api.logger.WithAssetID(assetID).WithProjectID(projectID).Info("Media asset ingested")
}

func (api *API) listAssets(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	rows, err := api.projects.ListProjectAssets(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Overlay live registry state and append in-flight uploads the
	// database has not seen yet.
	seen := make(map[string]bool, len(rows))
	for i, a := range rows {
		if live, ok := api.registry.Lookup(a.ID); ok {
			rows[i] = live
		}
		seen[a.ID] = true
	}
	for _, a := range api.registry.List() {
		if a.ProjectID == project.ID && !seen[a.ID] {
			rows = append(rows, a)
		}
	}

	c.JSON(http.StatusOK, gin.H{"assets": rows})
}

func (api *API) getAsset(c *gin.Context) {
	asset, ok := api.findAsset(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, asset)
}

func (api *API) getWaveform(c *gin.Context) {
	asset, ok := api.findAsset(c)
	if !ok {
		return
	}

	if len(asset.Waveform) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Waveform not available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset_id": asset.ID,
		"blocks":   asset.Waveform,
	})
}

func (api *API) deleteAsset(c *gin.Context) {
	asset, ok := api.findAsset(c)
	if !ok {
		return
	}

	// Elements still pointing at the asset would render black after the
	// delete; refuse instead.
	if api.assetInUse(c, asset) {
		c.JSON(http.StatusConflict, gin.H{"error": "Asset is referenced by timeline elements"})
		return
	}

	_ = api.registry.Remove(asset.ID)

	if err := api.repo.DeleteAsset(c.Request.Context(), asset.ID); err != nil {
		respondError(c, err)
		return
	}

	if storage.IsObjectKey(asset.SourceURL) {
		if err := api.storage.Delete(c.Request.Context(), asset.SourceURL); err != nil {
			api.logger.WithError(err).WithAssetID(asset.ID).Warn("Failed to delete stored media")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Asset deleted", "asset_id": asset.ID})
}

// findAsset resolves the :id route param against the registry first and
// the database second, then enforces project ownership.
func (api *API) findAsset(c *gin.Context) (*models.MediaAsset, bool) {
	id := c.Param("id")

	asset, ok := api.registry.Lookup(id)
	if !ok {
		var err error
		asset, err = api.repo.GetAsset(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return nil, false
		}
	}

	if !api.userOwnsProject(c, asset.ProjectID) {
		return nil, false
	}

	return asset, true
}

// assetInUse reports whether any timeline element references the asset,
// preferring the live session over the stored document.
func (api *API) assetInUse(c *gin.Context, asset *models.MediaAsset) bool {
	var tl *models.Timeline
	if sess, ok := api.sessions.Get(asset.ProjectID); ok {
		tl = sess.Timeline()
	} else {
		project, err := api.projects.GetProject(c.Request.Context(), asset.ProjectID)
		if err != nil {
			return false
		}
		tl = &project.Timeline.Timeline
	}

	for _, track := range tl.Tracks {
		for _, e := range track.Elements {
			if e.AssetID == asset.ID {
				return true
			}
		}
	}
	return false
}
