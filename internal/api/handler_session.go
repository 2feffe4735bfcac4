package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type postSessionRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// PostSession handles POST /api/session: the host signs in with an access
// token and the session follows the resolved user.
func (h *Handler) PostSession(c *gin.Context) {
	var req postSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_token is required"})
		return
	}

	h.auth.SetAccessToken(req.AccessToken)
	h.flushCache()
	err := h.session.Sync(c.Request.Context())

	userID := h.session.UserID()
	if userID == "" {
		h.auth.SetAccessToken("")
		status := http.StatusUnauthorized
		msg := "access token rejected"
		if err != nil {
			status = http.StatusBadGateway
			msg = err.Error()
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	resp := gin.H{"user_id": userID}
	if token := h.session.Token(); token != "" {
		resp["push_token"] = string(token)
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSession handles DELETE /api/session.
func (h *Handler) DeleteSession(c *gin.Context) {
	h.auth.SetAccessToken("")
	h.session.End()
	h.flushCache()
	c.Status(http.StatusNoContent)
}

func (h *Handler) flushCache() {
	if h.cache != nil {
		h.cache.Flush()
	}
}
