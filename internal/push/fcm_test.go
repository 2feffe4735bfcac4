package push

import (
	"context"
	"encoding/json"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessaging struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeMessaging) Send(ctx context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return "", f.err
	}
	return "projects/demo/messages/1", nil
}

func TestFCMSender_Send(t *testing.T) {
	client := &fakeMessaging{}
	s := &FCMSender{client: client}

	receipt, err := s.Send(context.Background(), Message{
		To:    "fcm-token",
		Title: "Hi",
		Body:  "There",
		Data:  json.RawMessage(`{"type":"test"}`),
		Sound: "default",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/messages/1", receipt.ID)

	require.Len(t, client.sent, 1)
	m := client.sent[0]
	assert.Equal(t, "fcm-token", m.Token)
	assert.Equal(t, "Hi", m.Notification.Title)
	assert.Equal(t, map[string]string{"type": "test"}, m.Data)
	require.NotNil(t, m.Android)
	assert.Equal(t, "default", m.Android.Notification.ChannelID)
}

func TestFCMSender_Errors(t *testing.T) {
	s := &FCMSender{client: &fakeMessaging{}}
	_, err := s.Send(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	s = &FCMSender{client: &fakeMessaging{err: assert.AnError}}
	_, err = s.Send(context.Background(), Message{To: "fcm-token"})
	assert.ErrorIs(t, err, ErrDelivery)
}
