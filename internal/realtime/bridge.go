package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"notifysync/config"
	"notifysync/internal/model"
)

// ErrSubscription is returned when the channel cannot be joined, and recorded
// on a handle whose connection dropped.
var ErrSubscription = errors.New("realtime subscription failed")

const (
	notificationsTable  = "notifications"
	notificationsSchema = "public"
	writeWait           = 10 * time.Second
)

// Callback receives one decoded notification row.
type Callback func(model.Notification)

// TokenFunc returns the access token to present when joining a channel.
type TokenFunc func() string

// Bridge opens per-user change-feed subscriptions on the realtime server.
// At most one subscription is active at a time.
type Bridge struct {
	cfg    config.RealtimeConfig
	apiKey string
	token  TokenFunc
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu     sync.Mutex
	active *Handle
	// seq increases on every Subscribe; a join that finishes after a newer
	// Subscribe began is discarded.
	seq uint64
}

// NewBridge creates a bridge for the configured realtime endpoint.
func NewBridge(cfg config.RealtimeConfig, apiKey string, token TokenFunc, log *logrus.Entry) *Bridge {
	if token == nil {
		token = func() string { return "" }
	}
	return &Bridge{
		cfg:    cfg,
		apiKey: apiKey,
		token:  token,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

// Active returns the current subscription, or nil.
func (b *Bridge) Active() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Subscribe opens the change feed for userID. Any previous subscription is
// closed first, so events for two users are never delivered concurrently.
// The dial and join run without holding the bridge lock. If another
// Subscribe starts meanwhile, this one fails with ErrSubscription.
// The callbacks run on the handle's read goroutine and must not call Close.
func (b *Bridge) Subscribe(ctx context.Context, userID string, onInsert, onUpdate Callback) (*Handle, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: no user", ErrSubscription)
	}

	b.mu.Lock()
	prev := b.active
	b.active = nil
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	h, err := b.open(ctx, userID, onInsert, onUpdate)
	if err != nil {
		b.log.WithError(err).WithField("user_id", userID).Error("realtime subscription failed")
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq != seq {
		h.discard()
		return nil, fmt.Errorf("%w: superseded by a newer subscription", ErrSubscription)
	}
	b.active = h
	h.start()
	h.log.Info("subscribed to notification changes")
	return h, nil
}

// Unsubscribe closes h. Passing nil, or a handle that is already closed, is a
// no-op.
func (b *Bridge) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	b.mu.Lock()
	if b.active == h {
		b.active = nil
	}
	b.mu.Unlock()
	h.Close()
}

func (b *Bridge) endpoint() (string, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if b.apiKey != "" {
		q.Set("apikey", b.apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Bridge) open(ctx context.Context, userID string, onInsert, onUpdate Callback) (*Handle, error) {
	endpoint, err := b.endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	joinTimeout := b.cfg.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	conn, _, err := b.dialer.DialContext(dialCtx, endpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrSubscription, err)
	}

	h := &Handle{
		userID:    userID,
		topic:     "realtime:notifications:" + userID,
		conn:      conn,
		onInsert:  onInsert,
		onUpdate:  onUpdate,
		heartbeat: b.cfg.HeartbeatInterval,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		log:       b.log.WithField("user_id", userID),
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 30 * time.Second
	}

	if err := h.join(b.token(), joinTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	return h, nil
}

// Handle is one live subscription.
type Handle struct {
	userID    string
	topic     string
	conn      *websocket.Conn
	onInsert  Callback
	onUpdate  Callback
	heartbeat time.Duration
	log       *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// UserID is the user the subscription was opened for.
func (h *Handle) UserID() string { return h.userID }

// Done is closed once the subscription has stopped delivering events,
// whether it was closed or the connection dropped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the subscription stopped. It is nil while the handle is
// live and after a clean Close.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *Handle) start() {
	go h.readLoop()
	go h.heartbeatLoop()
}

// discard tears down a joined handle whose loops were never started.
func (h *Handle) discard() {
	close(h.done)
	h.Close()
}

// Close leaves the channel, closes the socket and waits for the read loop to
// exit. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closing)
		if err := h.send(h.topic, eventLeave, struct{}{}); err != nil {
			h.log.WithError(err).Debug("failed to send leave")
		}
		h.writeMu.Lock()
		_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = h.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.writeMu.Unlock()
		h.conn.Close()
	})
	<-h.done
	return nil
}

func (h *Handle) setErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *Handle) send(topic, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := uuid.NewString()
	msg := Message{Topic: topic, Event: event, Payload: body, Ref: &ref}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return h.conn.WriteJSON(msg)
}

// join sends phx_join and blocks until the server replies or the timeout
// passes. Frames for other topics that arrive first are skipped.
func (h *Handle) join(accessToken string, timeout time.Duration) error {
	var p joinPayload
	p.AccessToken = accessToken
	filter := "user_id=eq." + h.userID
	for _, event := range []string{"INSERT", "UPDATE"} {
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, changeBinding{
			Event:  event,
			Schema: notificationsSchema,
			Table:  notificationsTable,
			Filter: filter,
		})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ref := uuid.NewString()
	h.writeMu.Lock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = h.conn.WriteJSON(Message{Topic: h.topic, Event: eventJoin, Payload: body, Ref: &ref})
	h.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	if err := h.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	for {
		var msg Message
		if err := h.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await join reply: %w", err)
		}
		if msg.Topic != h.topic || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		if msg.Event != eventReply {
			return fmt.Errorf("unexpected %s during join", msg.Event)
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join rejected: %s %s", reply.Status, string(reply.Response))
		}
		return h.conn.SetReadDeadline(time.Time{})
	}
}

func (h *Handle) readDeadline() time.Time {
	return time.Now().Add(2*h.heartbeat + writeWait)
}

func (h *Handle) readLoop() {
	defer close(h.done)
	_ = h.conn.SetReadDeadline(h.readDeadline())

	for {
		var msg Message
		if err := h.conn.ReadJSON(&msg); err != nil {
			select {
			case <-h.closing:
			default:
				h.setErr(fmt.Errorf("%w: %w", ErrSubscription, err))
				h.log.WithError(err).Warn("realtime connection dropped")
				h.conn.Close()
			}
			return
		}
		_ = h.conn.SetReadDeadline(h.readDeadline())

		if h.handle(msg) {
			return
		}
	}
}

// handle processes one frame. It reports true when the channel is gone.
func (h *Handle) handle(msg Message) bool {
	switch msg.Event {
	case eventChanges:
		h.handleChange(msg.Payload)
	case eventError, eventClose:
		if msg.Topic != h.topic {
			return false
		}
		h.setErr(fmt.Errorf("%w: server sent %s", ErrSubscription, msg.Event))
		h.log.WithField("event", msg.Event).Warn("realtime channel closed by server")
		h.conn.Close()
		return true
	case eventSystem:
		var p replyPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil && p.Status == "error" {
			h.log.WithField("payload", string(msg.Payload)).Warn("realtime system error")
		}
	}
	return false
}

func (h *Handle) handleChange(raw json.RawMessage) {
	var p changePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.log.WithError(err).Warn("dropping malformed change event")
		return
	}
	if p.Data.Table != notificationsTable {
		return
	}

	rec, err := decodeRecord(p.Data.Record)
	if err != nil {
		h.log.WithError(err).Warn("dropping malformed notification row")
		return
	}
	if rec.UserID != "" && rec.UserID != h.userID {
		h.log.WithField("record_user", rec.UserID).Warn("dropping row for another user")
		return
	}

	switch p.Data.Type {
	case "INSERT":
		if h.onInsert != nil {
			h.onInsert(rec)
		}
	case "UPDATE":
		if h.onUpdate != nil {
			h.onUpdate(rec)
		}
	}
}

func (h *Handle) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.send(heartbeatTopic, eventHeartbeat, struct{}{}); err != nil {
				h.log.WithError(err).Debug("heartbeat failed")
				return
			}
		case <-h.closing:
			return
		case <-h.done:
			return
		}
	}
}
