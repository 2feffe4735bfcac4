package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"notifysync/config"
	"notifysync/internal/payload"
)

// DefaultTitle is shown when a push arrives without a title.
const DefaultTitle = "Notification"

// ErrNegativeBadge is returned by SetBadgeCount for counts below zero.
var ErrNegativeBadge = errors.New("badge count must not be negative")

// Push is a push notification received while the agent is in the foreground.
// Title and Body are nil when the provider left them out.
type Push struct {
	Title *string         `json:"title"`
	Body  *string         `json:"body"`
	Data  json.RawMessage `json:"data"`
}

// Response is the user tapping a delivered notification.
type Response struct {
	Push
	ActionID string `json:"action_id"`
}

// Presentation is what the host is asked to show for one push.
type Presentation struct {
	Title   string
	Body    string
	Alert   bool
	Sound   bool
	Badge   *int
	Payload payload.Payload
}

// Presenter shows a presentation to the user.
type Presenter interface {
	Present(ctx context.Context, p Presentation) error
}

// UnreadCounter reports the unread count used for the badge.
type UnreadCounter interface {
	UnreadCount() int
}

// Dispatcher turns foreground pushes into user-visible alerts. It never
// touches the notification collection; the matching row arrives through the
// realtime feed on its own.
type Dispatcher struct {
	cfg       config.HandlerConfig
	presenter Presenter
	unread    UnreadCounter
	log       *logrus.Entry

	mu    sync.Mutex
	badge int
}

// New creates a dispatcher. unread may be nil when badges are disabled.
func New(cfg config.HandlerConfig, presenter Presenter, unread UnreadCounter, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{cfg: cfg, presenter: presenter, unread: unread, log: log}
}

// OnForegroundPush presents p according to the handler configuration and
// returns what was presented.
func (d *Dispatcher) OnForegroundPush(ctx context.Context, p Push) Presentation {
	pres := Presentation{
		Title:   DefaultTitle,
		Alert:   d.cfg.ShowAlert,
		Sound:   d.cfg.PlaySound,
		Payload: payload.Parse(p.Data),
	}
	if p.Title != nil && *p.Title != "" {
		pres.Title = *p.Title
	}
	if p.Body != nil {
		pres.Body = *p.Body
	}
	if d.cfg.SetBadge && d.unread != nil {
		n := d.unread.UnreadCount()
		pres.Badge = &n
	}

	log := d.log.WithField("kind", pres.Payload.Kind())
	if !pres.Alert && !pres.Sound && pres.Badge == nil {
		log.Debug("foreground push suppressed by handler config")
		return pres
	}

	if err := d.presenter.Present(ctx, pres); err != nil {
		log.WithError(err).Warn("failed to present foreground push")
	}
	if pres.Badge != nil {
		d.mu.Lock()
		d.badge = *pres.Badge
		d.mu.Unlock()
	}
	return pres
}

// OnNotificationResponse records a tap on a notification and returns its
// parsed data so the host can route to the related content.
func (d *Dispatcher) OnNotificationResponse(ctx context.Context, r Response) payload.Payload {
	p := payload.Parse(r.Data)
	fields := logrus.Fields{"kind": p.Kind(), "action_id": r.ActionID}
	if post, ok := p.(payload.NewPost); ok {
		fields["post_id"] = post.PostID
	}
	d.log.WithFields(fields).Info("notification opened")
	return p
}

// BadgeCount returns the badge number last shown on the host.
func (d *Dispatcher) BadgeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badge
}

// SetBadgeCount overrides the badge number until the next foreground push
// sets it again.
func (d *Dispatcher) SetBadgeCount(n int) error {
	if n < 0 {
		return ErrNegativeBadge
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.badge = n
	return nil
}
