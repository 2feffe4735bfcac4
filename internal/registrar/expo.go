package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// DefaultExpoHost is the public Expo API host.
const DefaultExpoHost = "https://exp.host"

// NativeTokenSource yields the platform push token (FCM or APNs) that Expo
// exchanges for an Expo push token.
type NativeTokenSource interface {
	NativeToken(ctx context.Context) (NativeToken, error)
}

// NativeToken is the raw platform registration.
type NativeToken struct {
	Type        string // fcm or apns
	Token       string
	DeviceID    string
	AppID       string
	Development bool
}

// ExpoTokenProvider exchanges the native token for an Expo push token.
type ExpoTokenProvider struct {
	host   string
	client *http.Client
	native NativeTokenSource
}

// NewExpoTokenProvider creates a provider against the given Expo host.
func NewExpoTokenProvider(host string, native NativeTokenSource) *ExpoTokenProvider {
	if host == "" {
		host = DefaultExpoHost
	}
	return &ExpoTokenProvider{
		host:   host,
		client: &http.Client{Timeout: 30 * time.Second},
		native: native,
	}
}

type expoTokenRequest struct {
	Type        string `json:"type"`
	DeviceID    string `json:"deviceId"`
	Development bool   `json:"development"`
	AppID       string `json:"appId"`
	DeviceToken string `json:"deviceToken"`
	ProjectID   string `json:"projectId"`
}

type expoTokenResponse struct {
	Data struct {
		ExpoPushToken string `json:"expoPushToken"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// PushToken implements TokenProvider.
func (p *ExpoTokenProvider) PushToken(ctx context.Context, projectID string) (DeviceToken, error) {
	native, err := p.native.NativeToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read native push token: %w", err)
	}

	jsonBody, err := json.Marshal(expoTokenRequest{
		Type:        native.Type,
		DeviceID:    native.DeviceID,
		Development: native.Development,
		AppID:       native.AppID,
		DeviceToken: native.Token,
		ProjectID:   projectID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/--/api/v2/push/getExpoPushToken", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var tokenResp expoTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if len(tokenResp.Errors) > 0 {
		return "", fmt.Errorf("expo returned %s: %s", tokenResp.Errors[0].Code, tokenResp.Errors[0].Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	token, err := expo.NewExponentPushToken(tokenResp.Data.ExpoPushToken)
	if err != nil {
		return "", fmt.Errorf("invalid push token %q: %w", tokenResp.Data.ExpoPushToken, err)
	}
	return DeviceToken(token), nil
}
