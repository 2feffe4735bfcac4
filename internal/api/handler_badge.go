package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type badgeRequest struct {
	Count *int `json:"count" binding:"required"`
}

// GetBadge handles GET /api/badge.
func (h *Handler) GetBadge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.dispatcher.BadgeCount()})
}

// PutBadge handles PUT /api/badge.
func (h *Handler) PutBadge(c *gin.Context) {
	var req badgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count is required"})
		return
	}
	if err := h.dispatcher.SetBadgeCount(*req.Count); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": *req.Count})
}
