package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifysync/config"
)

func newExpoServer(t *testing.T, response string, seen *[]map[string]any, auth *string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/--/api/v2/push/send" {
			http.NotFound(w, r)
			return
		}
		if auth != nil {
			*auth = r.Header.Get("Authorization")
		}
		var body []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*seen = append(*seen, body...)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExpoSender_Send(t *testing.T) {
	var seen []map[string]any
	var auth string
	srv := newExpoServer(t, `{"data":[{"status":"ok","id":"receipt-1"}]}`, &seen, &auth)
	s := NewExpoSender(srv.URL, "secret")

	receipt, err := s.Send(context.Background(), Message{
		To:    "ExponentPushToken[abc]",
		Title: "Test",
		Body:  "Hello",
		Data:  json.RawMessage(`{"type":"test","count":2}`),
		Sound: "default",
	})
	require.NoError(t, err)
	assert.Equal(t, Receipt{Provider: "expo", ID: "receipt-1", Status: "ok"}, receipt)
	assert.Equal(t, "Bearer secret", auth)

	require.Len(t, seen, 1)
	assert.Equal(t, "Test", seen[0]["title"])
	assert.Equal(t, "Hello", seen[0]["body"])
	assert.Equal(t, "default", seen[0]["sound"])
	data, ok := seen[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test", data["type"])
	assert.Equal(t, "2", data["count"])
}

func TestExpoSender_InvalidToken(t *testing.T) {
	s := NewExpoSender("http://127.0.0.1:1", "")
	_, err := s.Send(context.Background(), Message{To: "not-a-token"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpoSender_DeviceNotRegistered(t *testing.T) {
	var seen []map[string]any
	srv := newExpoServer(t, `{"data":[{"status":"error","message":"gone","details":{"error":"DeviceNotRegistered"}}]}`, &seen, nil)
	s := NewExpoSender(srv.URL, "")

	receipt, err := s.Send(context.Background(), Message{To: "ExponentPushToken[abc]", Title: "t"})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "error", receipt.Status)
}

func TestExpoSender_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewExpoSender(srv.URL, "").Send(context.Background(), Message{To: "ExponentPushToken[abc]"})
	assert.ErrorIs(t, err, ErrDelivery)
}

type mockNotifier struct {
	status  int
	err     error
	payload []byte
	sub     *webpush.Subscription
	options *webpush.Options
}

func (m *mockNotifier) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.payload, m.sub, m.options = payload, sub, options
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Status:     http.StatusText(m.status),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

const subscriptionToken = `{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"key","auth":"secret"}}`

func newWebPush(m *mockNotifier) *WebPushSender {
	s := NewWebPushSender(config.PushConfig{VAPIDSubject: "mailto:ops@example.com", VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv", TTL: 60})
	s.sender = m
	return s
}

func TestWebPushSender_Send(t *testing.T) {
	m := &mockNotifier{status: http.StatusCreated}
	receipt, err := newWebPush(m).Send(context.Background(), Message{To: subscriptionToken, Title: "Hi", Body: "There"})
	require.NoError(t, err)
	assert.Equal(t, "ok", receipt.Status)

	assert.Equal(t, "https://push.example.com/abc", m.sub.Endpoint)
	assert.Equal(t, "key", m.sub.Keys.P256dh)
	assert.Equal(t, "secret", m.sub.Keys.Auth)
	assert.Equal(t, 60, m.options.TTL)
	assert.JSONEq(t, `{"title":"Hi","body":"There"}`, string(m.payload))
}

func TestWebPushSender_Expired(t *testing.T) {
	m := &mockNotifier{status: http.StatusGone}
	_, err := newWebPush(m).Send(context.Background(), Message{To: subscriptionToken})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestWebPushSender_Failures(t *testing.T) {
	_, err := newWebPush(&mockNotifier{}).Send(context.Background(), Message{To: "ExponentPushToken[abc]"})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newWebPush(&mockNotifier{err: assert.AnError}).Send(context.Background(), Message{To: subscriptionToken})
	assert.ErrorIs(t, err, ErrDelivery)

	_, err = newWebPush(&mockNotifier{status: http.StatusBadRequest}).Send(context.Background(), Message{To: subscriptionToken})
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(context.Background(), config.PushConfig{Provider: "expo"})
	require.NoError(t, err)
	assert.IsType(t, &ExpoSender{}, s)

	s, err = NewSender(context.Background(), config.PushConfig{Provider: "webpush"})
	require.NoError(t, err)
	assert.IsType(t, &WebPushSender{}, s)

	_, err = NewSender(context.Background(), config.PushConfig{Provider: "pigeon"})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestStringData(t *testing.T) {
	assert.Nil(t, stringData(nil))
	assert.Nil(t, stringData(json.RawMessage(`null`)))
	assert.Equal(t, map[string]string{"data": `[1,2]`}, stringData(json.RawMessage(`[1,2]`)))
	assert.Equal(t, map[string]string{"a": "x", "b": "true", "c": `{"d":1}`, "e": ""},
		stringData(json.RawMessage(`{"a":"x","b":true,"c":{"d":1},"e":null}`)))
}
