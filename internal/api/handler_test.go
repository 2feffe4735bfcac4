package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifysync/config"
	"notifysync/internal/dispatch"
	"notifysync/internal/logging"
	"notifysync/internal/model"
	"notifysync/internal/notification"
	"notifysync/internal/payload"
	"notifysync/internal/push"
	"notifysync/internal/registrar"
	"notifysync/internal/session"
	"notifysync/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	userID     string
	token      registrar.DeviceToken
	syncUser   string
	syncErr    error
	refreshErr error
	ended      bool
}

func (f *fakeSession) UserID() string                    { return f.userID }
func (f *fakeSession) Token() registrar.DeviceToken      { return f.token }
func (f *fakeSession) Refresh(ctx context.Context) error { return f.refreshErr }

func (f *fakeSession) End() {
	f.ended = true
	f.userID = ""
}

func (f *fakeSession) Sync(ctx context.Context) error {
	f.userID = f.syncUser
	return f.syncErr
}

type fakeAuth struct{ token string }

func (f *fakeAuth) SetAccessToken(token string) { f.token = token }

type fakeDirectory struct {
	tokens map[string]string
	calls  int
}

func (f *fakeDirectory) GetPushToken(ctx context.Context, userID string) (string, error) {
	f.calls++
	token, ok := f.tokens[userID]
	if !ok {
		return "", store.ErrProfileNotFound
	}
	return token, nil
}

type fakeRemote struct{ err error }

func (f fakeRemote) MarkRead(ctx context.Context, id string, at time.Time) error { return f.err }
func (f fakeRemote) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	return 0, f.err
}

type fakeSender struct {
	sent []push.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg push.Message) (push.Receipt, error) {
	f.sent = append(f.sent, msg)
	return push.Receipt{Provider: "fake", ID: "r-1", Status: "ok"}, f.err
}

type fakePresenter struct{ shown []dispatch.Presentation }

func (f *fakePresenter) Present(ctx context.Context, p dispatch.Presentation) error {
	f.shown = append(f.shown, p)
	return nil
}

type fixture struct {
	router    *gin.Engine
	session   *fakeSession
	auth      *fakeAuth
	directory *fakeDirectory
	sender    *fakeSender
	presenter *fakePresenter
	store     *notification.Store
}

func newFixture(t *testing.T, remoteErr error) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := notification.NewStore(fakeRemote{err: remoteErr}, logging.Discard())
	st.Start(ctx)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.LoadInitial([]model.Notification{
		{ID: "n-1", UserID: "user-1", Title: "One", CreatedAt: base},
		{ID: "n-2", UserID: "user-1", Title: "Two", CreatedAt: base.Add(time.Minute)},
	}))

	f := &fixture{
		session:   &fakeSession{userID: "user-1", syncUser: "user-1"},
		auth:      &fakeAuth{},
		directory: &fakeDirectory{tokens: map[string]string{"user-1": "ExponentPushToken[abc]"}},
		sender:    &fakeSender{},
		presenter: &fakePresenter{},
		store:     st,
	}
	f.router = NewRouter(config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 30}, Deps{
		Notifications: st,
		Session:       f.session,
		Auth:          f.auth,
		Directory:     f.directory,
		Dispatcher:    dispatch.New(config.HandlerConfig{ShowAlert: true, SetBadge: true}, f.presenter, st, logging.Discard()),
		Sender:        f.sender,
		Cache:         cache.New(time.Minute, time.Minute),
	}, logging.Discard())
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetNotifications(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unread_count":2`)
	assert.Less(t, strings.Index(w.Body.String(), `"n-2"`), strings.Index(w.Body.String(), `"n-1"`))
}

func TestGetNotifications_NoSession(t *testing.T) {
	f := newFixture(t, nil)
	f.session.userID = ""

	w := f.do(http.MethodGet, "/api/notifications", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"not signed in"}`, w.Body.String())
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPut, "/api/notifications/n-1/read", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.store.UnreadCount())

	w = f.do(http.MethodPut, "/api/notifications/missing/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkRead_RemoteFailureKeepsLocalState(t *testing.T) {
	f := newFixture(t, assert.AnError)

	w := f.do(http.MethodPut, "/api/notifications/n-1/read", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, f.store.UnreadCount())
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPut, "/api/notifications/read-all", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.store.UnreadCount())
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodPost, "/api/notifications/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "warning")

	f.session.refreshErr = assert.AnError
	w = f.do(http.MethodPost, "/api/notifications/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "warning")

	f.session.refreshErr = session.ErrNoSession
	w = f.do(http.MethodPost, "/api/notifications/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostSession(t *testing.T) {
	f := newFixture(t, nil)
	f.session.userID = ""
	f.session.token = "ExponentPushToken[abc]"

	w := f.do(http.MethodPost, "/api/session", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/session", `{"access_token":"jwt"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1","push_token":"ExponentPushToken[abc]"}`, w.Body.String())
	assert.Equal(t, "jwt", f.auth.token)
}

func TestPostSession_Rejected(t *testing.T) {
	f := newFixture(t, nil)
	f.session.userID = ""
	f.session.syncUser = ""

	w := f.do(http.MethodPost, "/api/session", `{"access_token":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.auth.token)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, nil)
	f.auth.token = "jwt"

	w := f.do(http.MethodDelete, "/api/session", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.session.ended)
	assert.Empty(t, f.auth.token)
}

func TestPostForegroundPush(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/push/foreground", `{"body":"hi","data":{"type":"test","message":"x"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"Notification","body":"hi","alert":true,"sound":false,"badge":2,"kind":"test"}`, w.Body.String())
	require.Len(t, f.presenter.shown, 1)

	// The dispatcher never adds to the collection.
	assert.Equal(t, 2, f.store.UnreadCount())

	w = f.do(http.MethodPost, "/api/push/foreground", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostNotificationResponse(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/push/response", `{"title":"New post","data":{"type":"new_post","post_id":"p-1","user_id":"u-2"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"kind":"new_post","data":{"post_id":"p-1","user_id":"u-2","title":""}}`, w.Body.String())

	w = f.do(http.MethodPost, "/api/push/response", `{"data":{"type":"promo","code":"X"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"kind":"opaque","data":{"type":"promo","code":"X"}}`, w.Body.String())

	// Taps are not shown again.
	assert.Empty(t, f.presenter.shown)
}

func TestBadge(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/badge", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0}`, w.Body.String())

	// A foreground push sets the badge to the unread count.
	f.do(http.MethodPost, "/api/push/foreground", `{"body":"hi"}`)
	w = f.do(http.MethodGet, "/api/badge", "")
	assert.JSONEq(t, `{"count":2}`, w.Body.String())

	w = f.do(http.MethodPut, "/api/badge", `{"count":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, "/api/badge", "")
	assert.JSONEq(t, `{"count":0}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/badge", `{"count":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/badge", `{}`).Code)
}

func TestPostTestPush(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/push/test", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "ExponentPushToken[abc]", msg.To)
	assert.Equal(t, "Test notification", msg.Title)
	assert.Equal(t, "default", msg.Sound)

	parsed, ok := payload.Parse(msg.Data).(payload.Test)
	require.True(t, ok, string(msg.Data))
	assert.Empty(t, parsed.Message)
	assert.InDelta(t, time.Now().UnixMilli(), parsed.Timestamp, float64(time.Minute.Milliseconds()))
}

func TestPostTestPush_FallsBackToSessionToken(t *testing.T) {
	f := newFixture(t, nil)
	f.directory.tokens = map[string]string{}
	f.session.token = "ExponentPushToken[local]"

	w := f.do(http.MethodPost, "/api/push/test", `{"title":"Ping"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ExponentPushToken[local]", f.sender.sent[0].To)
	assert.Equal(t, "Ping", f.sender.sent[0].Title)
}

func TestPostTestPush_Errors(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.err = push.ErrTokenExpired
	assert.Equal(t, http.StatusGone, f.do(http.MethodPost, "/api/push/test", "").Code)

	f.sender.err = push.ErrDelivery
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodPost, "/api/push/test", "").Code)

	f.directory.tokens = map[string]string{}
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/push/test", "").Code)
}

func TestGetPushToken_Cached(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/profile/push_token", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1","push_token":"ExponentPushToken[abc]"}`, w.Body.String())

	f.do(http.MethodGet, "/api/profile/push_token", "")
	assert.Equal(t, 1, f.directory.calls)

	// Signing in again invalidates the cache.
	f.do(http.MethodPost, "/api/session", `{"access_token":"jwt"}`)
	f.do(http.MethodGet, "/api/profile/push_token", "")
	assert.Equal(t, 2, f.directory.calls)
}

func TestGetPushToken_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.directory.tokens = map[string]string{}

	w := f.do(http.MethodGet, "/api/profile/push_token", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
