package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"notifysync/internal/dispatch"
	"notifysync/internal/payload"
	"notifysync/internal/push"
	"notifysync/internal/store"
)

// PostForegroundPush handles POST /api/push/foreground. The host forwards
// pushes that arrive while it is in the foreground.
func (h *Handler) PostForegroundPush(c *gin.Context) {
	var p dispatch.Push
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push payload"})
		return
	}

	pres := h.dispatcher.OnForegroundPush(c.Request.Context(), p)
	c.JSON(http.StatusOK, gin.H{
		"title": pres.Title,
		"body":  pres.Body,
		"alert": pres.Alert,
		"sound": pres.Sound,
		"badge": pres.Badge,
		"kind":  pres.Payload.Kind(),
	})
}

// testData is the data attached to a test push.
type testData struct {
	Type payload.Kind `json:"type"`
	payload.Test
}

// PostNotificationResponse handles POST /api/push/response. The host reports
// a tap on a delivered notification and gets back the parsed data.
func (h *Handler) PostNotificationResponse(c *gin.Context) {
	var r dispatch.Response
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid response payload"})
		return
	}

	p := h.dispatcher.OnNotificationResponse(c.Request.Context(), r)
	resp := gin.H{"kind": p.Kind()}
	if opaque, ok := p.(payload.Opaque); ok {
		resp["data"] = opaque.Raw
	} else {
		resp["data"] = p
	}
	c.JSON(http.StatusOK, resp)
}

type testPushRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Message string `json:"message"`
}

// PostTestPush handles POST /api/push/test: sends a message to the token
// published for the current user.
func (h *Handler) PostTestPush(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	if h.sender == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no push provider configured"})
		return
	}

	var req testPushRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Body == "" {
		req.Body = "Push notifications are working."
	}

	token, err := h.directory.GetPushToken(c.Request.Context(), userID)
	if errors.Is(err, store.ErrProfileNotFound) || (err == nil && token == "") {
		token = string(h.session.Token())
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if token == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no push token registered"})
		return
	}

	data, _ := json.Marshal(testData{
		Type: payload.KindTest,
		Test: payload.Test{Message: req.Message, Timestamp: time.Now().UnixMilli()},
	})
	receipt, err := h.sender.Send(c.Request.Context(), push.Message{
		To:    token,
		Title: req.Title,
		Body:  req.Body,
		Data:  data,
		Sound: "default",
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, receipt)
	case errors.Is(err, push.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, push.ErrTokenExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Warn("test push failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
