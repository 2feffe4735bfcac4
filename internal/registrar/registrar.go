package registrar

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DeviceToken identifies one device+app installation with one push provider.
type DeviceToken string

// PermissionStatus is the push permission grant reported by the platform.
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

var (
	ErrUnsupportedEnvironment = errors.New("push notifications require a physical device")
	ErrPermissionDenied       = errors.New("push notification permission not granted")
	ErrTokenFetchFailed       = errors.New("failed to fetch push token")
	ErrMissingProjectID       = errors.New("push project id is not configured")
)

// Importance levels understood by Android notification channels.
const (
	ImportanceDefault = 3
	ImportanceHigh    = 4
	ImportanceMax     = 5
)

// ChannelConfig describes an Android notification channel.
type ChannelConfig struct {
	ID               string
	Name             string
	Importance       int
	VibrationPattern []int
	LightColor       string
}

// DefaultChannel is the channel every Android install receives.
var DefaultChannel = ChannelConfig{
	ID:               "default",
	Name:             "default",
	Importance:       ImportanceMax,
	VibrationPattern: []int{0, 250, 250, 250},
	LightColor:       "#FF231F7C",
}

// Platform is the host device collaborator.
type Platform interface {
	IsPhysicalDevice() bool
	OS() string
	PermissionStatus(ctx context.Context) (PermissionStatus, error)
	RequestPermission(ctx context.Context) (PermissionStatus, error)
	SetNotificationChannel(ctx context.Context, channel ChannelConfig) error
}

// TokenProvider resolves a provider-issued token bound to a project.
type TokenProvider interface {
	PushToken(ctx context.Context, projectID string) (DeviceToken, error)
}

// Alerter shows a single user-visible message.
type Alerter interface {
	Alert(ctx context.Context, title, message string)
}

// Registrar obtains the device's push token.
type Registrar struct {
	projectID string
	platform  Platform
	tokens    TokenProvider
	alerts    Alerter
	log       *logrus.Entry
}

// New creates a registrar. The project id is required.
func New(projectID string, platform Platform, tokens TokenProvider, alerts Alerter, log *logrus.Entry) (*Registrar, error) {
	if projectID == "" {
		return nil, ErrMissingProjectID
	}
	return &Registrar{
		projectID: projectID,
		platform:  platform,
		tokens:    tokens,
		alerts:    alerts,
		log:       log,
	}, nil
}

// Register returns the device token. Any error means no token is available;
// none of them are worth retrying within the same session.
func (r *Registrar) Register(ctx context.Context) (DeviceToken, error) {
	if !r.platform.IsPhysicalDevice() {
		r.alerts.Alert(ctx, "Notifications", "Push notifications only work on physical devices.")
		return "", ErrUnsupportedEnvironment
	}

	status, err := r.platform.PermissionStatus(ctx)
	if err != nil {
		r.log.WithError(err).Warn("could not read notification permission")
		status = PermissionUndetermined
	}

	if status != PermissionGranted {
		// Ask exactly once; whatever the answer is stands for this call.
		status, err = r.platform.RequestPermission(ctx)
		if err != nil {
			r.log.WithError(err).Warn("notification permission request failed")
			status = PermissionDenied
		}
	}

	if status != PermissionGranted {
		r.alerts.Alert(ctx, "Notifications", "Permission for push notifications was not granted.")
		return "", ErrPermissionDenied
	}

	token, err := r.tokens.PushToken(ctx, r.projectID)
	if err != nil {
		r.log.WithError(err).Error("error fetching push token")
		return "", fmt.Errorf("%w: %w", ErrTokenFetchFailed, err)
	}

	if r.platform.OS() == "android" {
		if err := r.platform.SetNotificationChannel(ctx, DefaultChannel); err != nil {
			r.log.WithError(err).Warn("failed to configure default notification channel")
		}
	}

	r.log.Info("push token obtained")
	return token, nil
}
