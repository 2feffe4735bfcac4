package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"notifysync/internal/registrar"
)

// ErrDirectorySync wraps a failed remote token write.
var ErrDirectorySync = errors.New("push token directory sync failed")

// Writer is the directory side of the remote data collaborator.
type Writer interface {
	UpdatePushToken(ctx context.Context, userID, token string) error
}

// Sync publishes the device token to the user's profile record.
type Sync struct {
	writer Writer
	log    *logrus.Entry
}

// New creates a directory sync.
func New(writer Writer, log *logrus.Entry) *Sync {
	return &Sync{writer: writer, log: log}
}

// Publish writes the token against userID. Without a user it does nothing;
// the caller publishes again after sign-in. Failures are logged and returned
// but are never fatal and never retried here.
func (s *Sync) Publish(ctx context.Context, token registrar.DeviceToken, userID string) error {
	if userID == "" {
		s.log.Debug("no authenticated user; push token not published")
		return nil
	}
	if token == "" {
		return nil
	}

	if err := s.writer.UpdatePushToken(ctx, userID, string(token)); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("error saving push token")
		return fmt.Errorf("%w: %w", ErrDirectorySync, err)
	}

	s.log.WithField("user_id", userID).Info("push token saved")
	return nil
}
