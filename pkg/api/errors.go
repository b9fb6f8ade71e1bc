package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/threadline-ai/mnemos/pkg/store"
)

// writeError maps service-layer errors to HTTP error responses. Validation
// failures are 422, missing resources 404, everything else an opaque 500.
func writeError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": validErr.Error()})
		return
	}
	if errors.Is(err, store.ErrInvalidInput) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "resource not found"})
		return
	}

	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}
