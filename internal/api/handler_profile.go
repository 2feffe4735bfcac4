package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"notifysync/internal/store"
)

// GetPushToken handles GET /api/profile/push_token.
func (h *Handler) GetPushToken(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	token, err := h.directory.GetPushToken(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "push_token": token})
}
