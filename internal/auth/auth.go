package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"notifysync/config"
)

// ErrAuthUnavailable means the auth service could not be asked. It is
// distinct from "no user", which is reported as a nil user.
var ErrAuthUnavailable = errors.New("auth service unavailable")

// User is the signed-in user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Client resolves the current user from the access token the host signed
// in with.
type Client struct {
	cfg        config.AuthConfig
	httpClient *http.Client
	log        *logrus.Entry

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.AuthConfig, log *logrus.Entry) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
		token:      cfg.AccessToken,
	}
}

// SetAccessToken signs in with token, or signs out when token is empty.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

// AccessToken returns the current token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CurrentUser returns the signed-in user, or nil when there is none or the
// token is no longer valid.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	token := c.AccessToken()
	if token == "" {
		return nil, nil
	}
	if c.cfg.JWTSecret != "" {
		return c.verifyLocally(token), nil
	}
	return c.fetchUser(ctx, token)
}

func (c *Client) verifyLocally(token string) *User {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		return []byte(c.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.log.WithError(err).Warn("access token rejected")
		return nil
	}
	if cl.Subject == "" {
		c.log.Warn("access token has no subject")
		return nil
	}

	u := &User{ID: cl.Subject, Email: cl.Email}
	if cl.IssuedAt != nil {
		u.CreatedAt = cl.IssuedAt.Time
	}
	return u
}

func (c *Client) fetchUser(ctx context.Context, token string) (*User, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("%w: auth.url is not configured", ErrAuthUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.URL, "/")+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.WithField("status", resp.StatusCode).Warn("access token rejected")
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrAuthUnavailable, resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: decode user: %w", ErrAuthUnavailable, err)
	}
	if u.ID == "" {
		return nil, nil
	}
	return &u, nil
}
