// Package push sends manual and test notifications through a push provider.
// Regular delivery is done by the backend; this path exists so the agent can
// check that a registered token actually receives messages.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"notifysync/config"
)

var (
	ErrInvalidToken = errors.New("invalid push token")
	ErrTokenExpired = errors.New("push token is no longer registered")
	ErrDelivery     = errors.New("push delivery failed")
	ErrProvider     = errors.New("unsupported push provider")
)

// Message is one outbound push.
type Message struct {
	To    string          `json:"to"`
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data,omitempty"`
	Sound string          `json:"sound,omitempty"`
}

// Receipt is what the provider returned for a message.
type Receipt struct {
	Provider string `json:"provider"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NewSender builds the sender for the configured provider.
func NewSender(ctx context.Context, cfg config.PushConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "expo":
		return NewExpoSender(cfg.ExpoHost, cfg.ExpoAccessToken), nil
	case "webpush":
		return NewWebPushSender(cfg), nil
	case "fcm":
		s, err := NewFCMSender(ctx, cfg.FCMCredentials)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrProvider, cfg.Provider)
	}
}

// stringData flattens a JSON object into the string map most providers
// accept. Non-object data is carried under a single "data" key.
func stringData(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]string{"data": string(raw)}
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out
}
