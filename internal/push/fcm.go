package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender delivers to a raw FCM registration token.
type FCMSender struct {
	client messagingClient
}

// NewFCMSender initialises a Firebase app from the credentials file, or from
// the ambient Google credentials when the path is empty.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrInvalidToken
	}

	message := &messaging.Message{
		Token: msg.To,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: stringData(msg.Data),
	}
	if msg.Sound != "" {
		message.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Sound: msg.Sound, ChannelID: "default"},
		}
		message.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: msg.Sound}},
		}
	}

	id, err := s.client.Send(ctx, message)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return Receipt{Provider: "fcm"}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		if messaging.IsInvalidArgument(err) {
			return Receipt{Provider: "fcm"}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		return Receipt{Provider: "fcm"}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return Receipt{Provider: "fcm", ID: id, Status: "ok"}, nil
}
