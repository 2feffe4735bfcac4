package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// ExpoSender sends through the Expo push service.
type ExpoSender struct {
	client *expo.PushClient
}

// NewExpoSender creates a sender. host may be empty for the public service.
func NewExpoSender(host, accessToken string) *ExpoSender {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	if accessToken != "" {
		httpClient.Transport = bearerTransport{token: accessToken, next: http.DefaultTransport}
	}
	return &ExpoSender{
		client: expo.NewPushClient(&expo.ClientConfig{
			Host:       host,
			HTTPClient: httpClient,
		}),
	}
}

// Send publishes msg. The SDK has no context support, so ctx is only checked
// before the request is made.
func (s *ExpoSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	token, err := expo.NewExponentPushToken(msg.To)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	response, err := s.client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{token},
		Title:    msg.Title,
		Body:     msg.Body,
		Data:     stringData(msg.Data),
		Sound:    msg.Sound,
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	receipt := Receipt{Provider: "expo", ID: response.ID, Status: response.Status}
	if err := response.ValidateResponse(); err != nil {
		var deviceErr *expo.DeviceNotRegisteredError
		if errors.As(err, &deviceErr) {
			return receipt, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return receipt, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return receipt, nil
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}
