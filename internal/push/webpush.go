package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"notifysync/config"
)

// notifier is the transport used by WebPushSender. It exists so tests can
// replace the real endpoint call.
type notifier interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webPushNotifier struct{}

func (webPushNotifier) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// WebPushSender delivers to a browser subscription. The token is the JSON
// encoded PushSubscription the browser produced.
type WebPushSender struct {
	options *webpush.Options
	sender  notifier
}

func NewWebPushSender(cfg config.PushConfig) *WebPushSender {
	return &WebPushSender{
		options: &webpush.Options{
			Subscriber:      cfg.VAPIDSubject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.TTL,
		},
		sender: webPushNotifier{},
	}
}

type webPushBody struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data,omitempty"`
	Sound string          `json:"sound,omitempty"`
}

func (s *WebPushSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(msg.To), &sub); err != nil || sub.Endpoint == "" {
		return Receipt{}, fmt.Errorf("%w: not a web push subscription", ErrInvalidToken)
	}

	body, err := json.Marshal(webPushBody{Title: msg.Title, Body: msg.Body, Data: msg.Data, Sound: msg.Sound})
	if err != nil {
		return Receipt{}, err
	}

	resp, err := s.sender.Send(ctx, body, &sub, s.options)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()

	receipt := Receipt{Provider: "webpush", Status: resp.Status}
	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return receipt, ErrTokenExpired
	case resp.StatusCode >= 300:
		return receipt, fmt.Errorf("%w: endpoint returned %s", ErrDelivery, resp.Status)
	}
	receipt.Status = "ok"
	return receipt, nil
}
