package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/middleware"
	"github.com/editstack/cutcore/pkg/models"
)

func (api *API) createProject(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := middleware.GetUserID(c)

	project := &models.Project{
		ID:       uuid.New().String(),
		UserID:   userID,
		Name:     req.Name,
		Timeline: models.TimelineDocument{Timeline: *models.NewTimeline()},
	}

	if err := api.repo.CreateProject(c.Request.Context(), project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
		return
	}

	c.JSON(http.StatusCreated, project)
}

func (api *API) getProject(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	// An open session holds edits the stored document does not have yet.
	if sess, ok := api.sessions.Get(project.ID); ok {
		project.Timeline = models.TimelineDocument{Timeline: *sess.Timeline()}
	}

	c.JSON(http.StatusOK, project)
}

func (api *API) listProjects(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	projects, err := api.repo.ListProjects(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"limit":    limit,
		"offset":   offset,
	})
}

func (api *API) renameProject(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	if err := api.repo.RenameProject(c.Request.Context(), project.ID, req.Name); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": project.ID, "name": req.Name})
}

func (api *API) deleteProject(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	// Drop the live session first so autosave cannot recreate the row.
	api.sessions.Discard(project.ID)

	if err := api.repo.DeleteProject(c.Request.Context(), project.ID); err != nil {
		respondError(c, err)
		return
	}

	// Stored media and rendered outputs go with the project. Object
	// deletion is best effort; orphans are invisible without the rows.
	if err := api.storage.DeleteProjectObjects(c.Request.Context(), project.ID); err != nil {
		api.logger.WithError(err).WithProjectID(project.ID).Warn("Failed to delete project objects")
	}
	_ = api.cache.DeleteTimelineVersion(c.Request.Context(), project.ID)
	_ = api.cache.DeleteOutputs(c.Request.Context(), project.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Project deleted", "project_id": project.ID})
}

// ownedProject loads the project in the :id route param and enforces
// ownership. On failure it writes the error response and returns false.
func (api *API) ownedProject(c *gin.Context) (*models.Project, bool) {
	project, err := api.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	if userID, ok := middleware.GetUserID(c); ok && project.UserID != "" && project.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return nil, false
	}

	return project, true
}
