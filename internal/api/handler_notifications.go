package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"notifysync/internal/model"
	"notifysync/internal/notification"
	"notifysync/internal/session"
)

type notificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
	Warning       string               `json:"warning,omitempty"`
}

func (h *Handler) requireUser(c *gin.Context) (string, bool) {
	userID := h.session.UserID()
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return "", false
	}
	return userID, true
}

func (h *Handler) snapshot() notificationsResponse {
	records, unread := h.notifications.Snapshot()
	if records == nil {
		records = []model.Notification{}
	}
	return notificationsResponse{Notifications: records, UnreadCount: unread}
}

// GetNotifications handles GET /api/notifications.
func (h *Handler) GetNotifications(c *gin.Context) {
	if _, ok := h.requireUser(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.snapshot())
}

// RefreshNotifications handles POST /api/notifications/refresh. Partial
// failures still return the current list, with a warning.
func (h *Handler) RefreshNotifications(c *gin.Context) {
	err := h.session.Refresh(c.Request.Context())
	if errors.Is(err, session.ErrNoSession) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}

	resp := h.snapshot()
	if err != nil {
		h.log.WithError(err).Warn("refresh incomplete")
		resp.Warning = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// MarkRead handles PUT /api/notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	if _, ok := h.requireUser(c); !ok {
		return
	}

	err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, notification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, notification.ErrReadStateWrite):
		// Applied locally; the remote write is not retried.
		c.JSON(http.StatusAccepted, gin.H{"warning": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// MarkAllRead handles PUT /api/notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, notification.ErrReadStateWrite):
		c.JSON(http.StatusAccepted, gin.H{"warning": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
