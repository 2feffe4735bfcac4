package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"notifysync/internal/auth"
	"notifysync/internal/model"
	"notifysync/internal/notification"
	"notifysync/internal/realtime"
	"notifysync/internal/registrar"
)

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("no active session")

// Authenticator reports the signed-in user, or nil.
type Authenticator interface {
	CurrentUser(ctx context.Context) (*auth.User, error)
}

// Lister fetches the full notification list for a user.
type Lister interface {
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
}

// Subscription is a live change feed.
type Subscription interface {
	Done() <-chan struct{}
	Err() error
}

// Subscriber opens and closes change feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, onInsert, onUpdate func(model.Notification)) (Subscription, error)
	Unsubscribe(sub Subscription)
}

// Registrar obtains the device push token.
type Registrar interface {
	Register(ctx context.Context) (registrar.DeviceToken, error)
}

// Publisher writes the device token to the user's directory record.
type Publisher interface {
	Publish(ctx context.Context, token registrar.DeviceToken, userID string) error
}

// feedEvent is a change delivered while a list load is in flight.
type feedEvent struct {
	record model.Notification
	update bool
}

// Manager ties the pieces of a signed-in session together. Every transition
// runs under one lock, so the previous user's feed is always closed and the
// collection cleared before the next user's feed opens.
type Manager struct {
	auth     Authenticator
	lister   Lister
	subs     Subscriber
	store    *notification.Store
	reg      Registrar
	dir      Publisher
	interval time.Duration
	log      *logrus.Entry

	mu    sync.Mutex
	user  *auth.User
	sub   Subscription
	token registrar.DeviceToken
	// gen counts transitions. Sync drops an auth result that was resolved
	// before a transition it did not make.
	gen uint64

	// Feed callbacks never take mu; Start holds it while the feed is live.
	feedMu  sync.Mutex
	loading bool
	pending []feedEvent
}

// Deps collects the collaborators of a Manager. Registrar and Publisher may
// be nil when push registration is unavailable.
type Deps struct {
	Auth      Authenticator
	Lister    Lister
	Subs      Subscriber
	Store     *notification.Store
	Registrar Registrar
	Publisher Publisher
}

func NewManager(deps Deps, pollInterval time.Duration, log *logrus.Entry) *Manager {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Manager{
		auth:     deps.Auth,
		lister:   deps.Lister,
		subs:     deps.Subs,
		store:    deps.Store,
		reg:      deps.Registrar,
		dir:      deps.Publisher,
		interval: pollInterval,
		log:      log,
	}
}

// User returns a copy of the current user, or nil.
func (m *Manager) User() *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// UserID returns the current user's id, or "".
func (m *Manager) UserID() string {
	if u := m.User(); u != nil {
		return u.ID
	}
	return ""
}

// Token returns the device token registered for this session, if any.
func (m *Manager) Token() registrar.DeviceToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Start begins a session for u, ending any previous one first. Failures of
// the individual steps are logged and returned together; none of them stop
// the session from starting.
func (m *Manager) Start(ctx context.Context, u *auth.User) error {
	if u == nil || u.ID == "" {
		return ErrNoSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, u)
}

func (m *Manager) startLocked(ctx context.Context, u *auth.User) error {
	m.endLocked()
	user := *u
	m.user = &user
	log := m.log.WithField("user_id", u.ID)
	log.Info("session started")

	var errs []error
	m.beginLoad()
	if err := m.subscribeLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.loadLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.registerLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// End closes the feed and clears the collection.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked()
}

func (m *Manager) endLocked() {
	m.gen++
	if m.sub != nil {
		m.subs.Unsubscribe(m.sub)
		m.sub = nil
	}
	if err := m.store.Reset(); err != nil {
		m.log.WithError(err).Debug("store already stopped")
	}
	if m.user != nil {
		m.log.WithField("user_id", m.user.ID).Info("session ended")
	}
	m.user = nil
	m.token = ""
}

func (m *Manager) subscribeLocked(ctx context.Context) error {
	sub, err := m.subs.Subscribe(ctx, m.user.ID, m.onInsert, m.onUpdate)
	if err != nil {
		return err
	}
	m.sub = sub
	return nil
}

func (m *Manager) onInsert(n model.Notification) {
	m.track(feedEvent{record: n})
	m.store.ApplyInsert(n)
}

func (m *Manager) onUpdate(n model.Notification) {
	m.track(feedEvent{record: n, update: true})
	m.store.ApplyUpdate(n)
}

// track records ev when a load is in flight. Recording happens before the
// event is applied, so an event is either replayed after the load or applied
// after it.
func (m *Manager) track(ev feedEvent) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	if m.loading {
		m.pending = append(m.pending, ev)
	}
}

func (m *Manager) beginLoad() {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	m.loading = true
	m.pending = nil
}

// finishLoad stops tracking and returns what arrived during the load.
func (m *Manager) finishLoad() []feedEvent {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	pending := m.pending
	m.loading = false
	m.pending = nil
	return pending
}

// loadLocked replaces the collection with the remote list, then replays feed
// events that arrived since beginLoad. The fetch may predate their rows.
func (m *Manager) loadLocked(ctx context.Context) error {
	records, err := m.lister.ListNotifications(ctx, m.user.ID)
	if err != nil {
		m.finishLoad()
		m.log.WithError(err).WithField("user_id", m.user.ID).Error("error fetching notifications")
		return fmt.Errorf("load notifications: %w", err)
	}
	if err := m.store.LoadInitial(records); err != nil {
		m.finishLoad()
		return err
	}
	for _, ev := range m.finishLoad() {
		if ev.update {
			m.store.ApplyUpdate(ev.record)
		} else {
			m.store.ApplyInsert(ev.record)
		}
	}
	return nil
}

func (m *Manager) registerLocked(ctx context.Context) error {
	if m.reg == nil {
		return nil
	}
	token, err := m.reg.Register(ctx)
	if err != nil {
		return err
	}
	m.token = token
	if m.dir == nil {
		return nil
	}
	return m.dir.Publish(ctx, token, m.user.ID)
}

func (m *Manager) dropped() bool {
	if m.sub == nil {
		return true
	}
	select {
	case <-m.sub.Done():
		return true
	default:
		return false
	}
}

// Refresh reloads the list for the current user. A feed that has dropped is
// reopened here; nothing reopens it automatically.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ErrNoSession
	}

	var errs []error
	m.beginLoad()
	if m.dropped() {
		if m.sub != nil {
			m.log.WithError(m.sub.Err()).Info("resubscribing after dropped feed")
			m.subs.Unsubscribe(m.sub)
			m.sub = nil
		}
		if err := m.subscribeLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.loadLocked(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sync asks the authenticator for the current user and starts or ends the
// session to match.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	u, err := m.auth.CurrentUser(ctx)
	if err != nil {
		m.log.WithError(err).Warn("could not resolve current user; keeping session")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		m.log.Debug("session changed during auth lookup; dropping stale result")
		return nil
	}

	current := ""
	if m.user != nil {
		current = m.user.ID
	}
	switch {
	case u == nil && current == "":
		return nil
	case u == nil:
		m.endLocked()
		return nil
	case u.ID == current:
		return nil
	case u.ID == "":
		return ErrNoSession
	default:
		return m.startLocked(ctx, u)
	}
}

// Run follows the signed-in user until ctx is cancelled, then closes the
// session.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("starting session manager")
	if err := m.Sync(ctx); err != nil {
		m.log.WithError(err).Warn("initial session sync incomplete")
	}

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.End()
			m.log.Info("session manager shutting down")
			return
		case <-timer.C:
			if err := m.Sync(ctx); err != nil {
				m.log.WithError(err).Debug("session sync incomplete")
			}
			timer.Reset(m.interval)
		}
	}
}

// BridgeSubscriber adapts a realtime bridge to Subscriber.
type BridgeSubscriber struct {
	Bridge *realtime.Bridge
}

func (b BridgeSubscriber) Subscribe(ctx context.Context, userID string, onInsert, onUpdate func(model.Notification)) (Subscription, error) {
	h, err := b.Bridge.Subscribe(ctx, userID, onInsert, onUpdate)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (b BridgeSubscriber) Unsubscribe(sub Subscription) {
	if h, ok := sub.(*realtime.Handle); ok {
		b.Bridge.Unsubscribe(h)
	}
}
