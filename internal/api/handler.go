package api

import (
	"context"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"notifysync/internal/dispatch"
	"notifysync/internal/model"
	"notifysync/internal/payload"
	"notifysync/internal/push"
	"notifysync/internal/registrar"
)

// Notifications is the state store as seen by the API.
type Notifications interface {
	Snapshot() ([]model.Notification, int)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// Session is the session coordinator as seen by the API.
type Session interface {
	UserID() string
	Token() registrar.DeviceToken
	Sync(ctx context.Context) error
	Refresh(ctx context.Context) error
	End()
}

// TokenSetter signs the auth client in or out.
type TokenSetter interface {
	SetAccessToken(token string)
}

// Directory reads the published push token.
type Directory interface {
	GetPushToken(ctx context.Context, userID string) (string, error)
}

// Dispatcher presents foreground pushes and tracks the badge.
type Dispatcher interface {
	OnForegroundPush(ctx context.Context, p dispatch.Push) dispatch.Presentation
	OnNotificationResponse(ctx context.Context, r dispatch.Response) payload.Payload
	BadgeCount() int
	SetBadgeCount(n int) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	notifications Notifications
	session       Session
	auth          TokenSetter
	directory     Directory
	dispatcher    Dispatcher
	sender        push.Sender
	cache         *cache.Cache
	log           *logrus.Entry
}

// Deps collects the handler's collaborators. Sender may be nil when no push
// provider is configured.
type Deps struct {
	Notifications Notifications
	Session       Session
	Auth          TokenSetter
	Directory     Directory
	Dispatcher    Dispatcher
	Sender        push.Sender
	Cache         *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, log *logrus.Entry) *Handler {
	return &Handler{
		notifications: deps.Notifications,
		session:       deps.Session,
		auth:          deps.Auth,
		directory:     deps.Directory,
		dispatcher:    deps.Dispatcher,
		sender:        deps.Sender,
		cache:         deps.Cache,
		log:           log,
	}
}
