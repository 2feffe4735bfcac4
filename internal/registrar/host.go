package registrar

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"notifysync/config"
)

// HostPlatform is a Platform backed by configuration. It stands in for the
// native bridge when the agent runs without one attached.
type HostPlatform struct {
	cfg config.DeviceConfig
	log *logrus.Entry

	mu         sync.Mutex
	permission PermissionStatus
	channels   map[string]ChannelConfig
}

// NewHostPlatform creates a platform from the device section of the config.
func NewHostPlatform(cfg config.DeviceConfig, log *logrus.Entry) *HostPlatform {
	return &HostPlatform{
		cfg:        cfg,
		log:        log,
		permission: PermissionStatus(cfg.Permission),
		channels:   make(map[string]ChannelConfig),
	}
}

func (h *HostPlatform) IsPhysicalDevice() bool { return h.cfg.Physical }

func (h *HostPlatform) OS() string { return h.cfg.OS }

func (h *HostPlatform) PermissionStatus(ctx context.Context) (PermissionStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permission, nil
}

// RequestPermission answers with the configured prompt answer. A denied
// grant stays denied, like on a real device.
func (h *HostPlatform) RequestPermission(ctx context.Context) (PermissionStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.permission == PermissionDenied {
		return h.permission, nil
	}
	answer := PermissionStatus(h.cfg.PromptAnswer)
	if answer != PermissionGranted {
		answer = PermissionDenied
	}
	h.permission = answer
	h.log.WithField("status", answer).Info("notification permission prompt answered")
	return answer, nil
}

// SetNotificationChannel records the channel; setting the same id again
// overwrites it.
func (h *HostPlatform) SetNotificationChannel(ctx context.Context, channel ChannelConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[channel.ID] = channel
	return nil
}

// Channels returns the configured channels by id.
func (h *HostPlatform) Channels() map[string]ChannelConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ChannelConfig, len(h.channels))
	for k, v := range h.channels {
		out[k] = v
	}
	return out
}

// NativeToken implements NativeTokenSource.
func (h *HostPlatform) NativeToken(ctx context.Context) (NativeToken, error) {
	if h.cfg.NativeToken == "" {
		return NativeToken{}, errors.New("no native push token configured")
	}
	return NativeToken{
		Type:     h.cfg.TokenType,
		Token:    h.cfg.NativeToken,
		DeviceID: h.cfg.DeviceID,
		AppID:    h.cfg.AppID,
	}, nil
}
