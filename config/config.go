package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Push     PushConfig     `yaml:"push"`
	Device   DeviceConfig   `yaml:"device"`
	Handler  HandlerConfig  `yaml:"notification_handler"`
}

// ServerConfig holds the local control API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LogConfig controls the logrus logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// File enables rotated file output when non-empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DatabaseConfig holds the remote data connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

// AuthConfig describes how the current user is resolved.
type AuthConfig struct {
	URL                 string        `yaml:"url"`
	APIKey              string        `yaml:"api_key"`
	JWTSecret           string        `yaml:"jwt_secret"`
	AccessToken         string        `yaml:"-"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"`
}

// RealtimeConfig holds the realtime websocket endpoint.
type RealtimeConfig struct {
	URL                      string        `yaml:"url"`
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds"`
	HeartbeatInterval        time.Duration `yaml:"-"`
	JoinTimeoutSeconds       int           `yaml:"join_timeout_seconds"`
	JoinTimeout              time.Duration `yaml:"-"`
}

// PushConfig holds the push provider settings.
type PushConfig struct {
	ProjectID       string `yaml:"project_id"`
	ExpoHost        string `yaml:"expo_host"`
	ExpoAccessToken string `yaml:"expo_access_token"`
	Provider        string `yaml:"provider"` // expo, webpush or fcm
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`
	TTL             int    `yaml:"ttl"`
	FCMCredentials  string `yaml:"fcm_credentials_file"`
}

// DeviceConfig describes the host device when no native bridge is attached.
type DeviceConfig struct {
	Physical bool   `yaml:"physical"`
	OS       string `yaml:"os"`
	// Permission is the current grant: granted, denied or undetermined.
	Permission string `yaml:"permission"`
	// PromptAnswer is what the user answers when prompted.
	PromptAnswer string `yaml:"prompt_answer"`
	NativeToken  string `yaml:"native_token"`
	TokenType    string `yaml:"token_type"` // fcm or apns
	DeviceID     string `yaml:"device_id"`
	AppID        string `yaml:"app_id"`
}

// HandlerConfig mirrors how a foreground push is presented.
type HandlerConfig struct {
	ShowAlert bool `yaml:"show_alert"`
	PlaySound bool `yaml:"play_sound"`
	SetBadge  bool `yaml:"set_badge"`
}

var (
	ErrMissingProjectID   = errors.New("push.project_id is required")
	ErrMissingRealtimeURL = errors.New("realtime.url is required")
)

// Load reads the configuration from the given path, then applies .env and
// environment overrides.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaultConfig()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration errors that must stop the agent from starting.
func (c *Config) Validate() error {
	if c.Push.ProjectID == "" {
		return fmt.Errorf("invalid configuration: %w", ErrMissingProjectID)
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("invalid configuration: %w", ErrMissingRealtimeURL)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NOTIFYD_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NOTIFYD_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("NOTIFYD_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("NOTIFYD_ACCESS_TOKEN"); v != "" {
		cfg.Auth.AccessToken = v
	}
	if v := os.Getenv("NOTIFYD_PROJECT_ID"); v != "" {
		cfg.Push.ProjectID = v
	}
}

// defaultConfig holds the values of boolean keys, which cannot be told apart
// from an explicit false once decoded. yaml only overwrites keys that are
// present in the file.
func defaultConfig() Config {
	return Config{
		Device: DeviceConfig{Physical: true},
		Handler: HandlerConfig{
			ShowAlert: true,
			PlaySound: true,
			SetBadge:  true,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Auth.PollIntervalSeconds <= 0 {
		cfg.Auth.PollIntervalSeconds = 15
	}
	cfg.Auth.PollInterval = time.Duration(cfg.Auth.PollIntervalSeconds) * time.Second

	if cfg.Realtime.HeartbeatIntervalSeconds <= 0 {
		cfg.Realtime.HeartbeatIntervalSeconds = 30
	}
	cfg.Realtime.HeartbeatInterval = time.Duration(cfg.Realtime.HeartbeatIntervalSeconds) * time.Second
	if cfg.Realtime.JoinTimeoutSeconds <= 0 {
		cfg.Realtime.JoinTimeoutSeconds = 10
	}
	cfg.Realtime.JoinTimeout = time.Duration(cfg.Realtime.JoinTimeoutSeconds) * time.Second

	if cfg.Push.Provider == "" {
		cfg.Push.Provider = "expo"
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Device.OS == "" {
		cfg.Device.OS = "android"
	}
	if cfg.Device.Permission == "" {
		logrus.Debug("device.permission is not set; defaulting to undetermined")
		cfg.Device.Permission = "undetermined"
	}
	if cfg.Device.TokenType == "" {
		cfg.Device.TokenType = "fcm"
	}
}
