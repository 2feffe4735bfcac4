package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"notifysync/config"
	"notifysync/internal/mw"
)

// NewRouter creates and configures the control API router.
func NewRouter(cfg config.ServerConfig, deps Deps, log *logrus.Entry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log))

	handler := NewHandler(deps, log)

	rateLimiter := mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute))

	var caching gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Cache != nil {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		caching = mw.Cache(deps.Cache, ttl, func(c *gin.Context) string {
			userID := handler.session.UserID()
			if userID == "" {
				return ""
			}
			return c.Request.URL.Path + "|" + userID
		})
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/notifications", handler.GetNotifications)
		api.POST("/notifications/refresh", handler.RefreshNotifications)
		api.PUT("/notifications/read-all", handler.MarkAllRead)
		api.PUT("/notifications/:id/read", handler.MarkRead)

		api.POST("/session", handler.PostSession)
		api.DELETE("/session", handler.DeleteSession)

		api.POST("/push/foreground", handler.PostForegroundPush)
		api.POST("/push/test", handler.PostTestPush)
		api.POST("/push/response", handler.PostNotificationResponse)

		api.GET("/badge", handler.GetBadge)
		api.PUT("/badge", handler.PutBadge)

		api.GET("/profile/push_token", caching, handler.GetPushToken)
	}

	return r
}
