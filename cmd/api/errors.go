package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/editstack/cutcore/internal/assets"
	"github.com/editstack/cutcore/internal/captions"
	"github.com/editstack/cutcore/internal/database"
	"github.com/editstack/cutcore/internal/history"
	"github.com/editstack/cutcore/internal/timeline"
)

// respondError translates domain errors into HTTP statuses. Rejected
// mutations answer 4xx with the validation message; everything else is a
// 500 so clients never retry a server fault as if it were their own.
func respondError(c *gin.Context, err error) {
	var notFound *timeline.NotFoundError
	var conflict *timeline.ConflictError

	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, assets.ErrNotFound),
		errors.Is(err, captions.ErrJobNotFound),
		errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, assets.ErrNotReady),
		errors.Is(err, captions.ErrJobAlreadyActive),
		errors.Is(err, history.ErrTransactionActive),
		errors.Is(err, history.ErrNoTransaction),
		errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case timeline.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
