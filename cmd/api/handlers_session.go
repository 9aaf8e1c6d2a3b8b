package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/editstack/cutcore/internal/session"
	"github.com/editstack/cutcore/internal/tracing"
)

// openSession checks project ownership and opens (or reuses) the editing
// session. On failure it writes the error response and returns false.
func (api *API) openSession(c *gin.Context) (*session.Session, bool) {
	project, ok := api.ownedProject(c)
	if !ok {
		return nil, false
	}

	sess, err := api.sessions.Open(c.Request.Context(), project.ID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (api *API) getTimeline(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timeline": sess.Timeline(),
		"version":  sess.Version(),
		"history":  sess.History(),
	})
}

func (api *API) applyCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	cmd, err := decodeCommand(json.RawMessage(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	span, _ := tracing.StartSpan(c.Request.Context(), "timeline.apply")
	tracing.SetTag(span, "project_id", c.Param("id"))
	tracing.SetTag(span, "op", cmd.Name())

	err = sess.Apply(cmd)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"op":      cmd.Name(),
		"version": sess.Version(),
		"history": sess.History(),
	})
}

func (api *API) undo(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	label, ok := sess.Undo()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Nothing to undo"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"undone":  label,
		"version": sess.Version(),
		"history": sess.History(),
	})
}

func (api *API) redo(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	label, ok := sess.Redo()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Nothing to redo"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redone":  label,
		"version": sess.Version(),
		"history": sess.History(),
	})
}

func (api *API) getHistory(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, sess.History())
}

func (api *API) beginTransaction(c *gin.Context) {
	var req struct {
		Label string `json:"label"`
	}
	// Body is optional; an unnamed transaction is fine.
	_ = c.ShouldBindJSON(&req)

	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	if err := sess.Begin(req.Label); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Transaction started", "label": req.Label})
}

func (api *API) commitTransaction(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	if err := sess.Commit(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transaction committed",
		"version": sess.Version(),
		"history": sess.History(),
	})
}

func (api *API) abortTransaction(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	if err := sess.Abort(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transaction aborted",
		"version": sess.Version(),
	})
}

func (api *API) setPlayhead(c *gin.Context) {
	var req struct {
		Tick int64 `json:"tick"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	if err := sess.SetPlayhead(req.Tick); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"playhead_tick": req.Tick})
}

func (api *API) setSelection(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	if err := sess.SetSelection(req.IDs); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"selection": req.IDs})
}
