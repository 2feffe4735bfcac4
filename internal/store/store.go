package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notifysync/internal/model"
)

// ErrProfileNotFound is returned when the user has no directory record.
var ErrProfileNotFound = errors.New("profile not found")

// Store defines the remote data operations the notification subsystem needs.
type Store interface {
	UpdatePushToken(ctx context.Context, userID, token string) error
	GetPushToken(ctx context.Context, userID string) (string, error)
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// UpdatePushToken writes the token into the user's profile, creating the row
// when it does not exist yet.
func (s *gormStore) UpdatePushToken(ctx context.Context, userID, token string) error {
	profile := model.Profile{
		ID:        userID,
		PushToken: &token,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"push_token", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		return fmt.Errorf("failed to upsert push token for user %s: %w", userID, err)
	}
	return nil
}

// GetPushToken returns the token currently published for the user, or an
// empty string when none is set.
func (s *gormStore) GetPushToken(ctx context.Context, userID string) (string, error) {
	var profile model.Profile
	err := s.db.WithContext(ctx).
		Select("id", "push_token").
		First(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrProfileNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile %s: %w", userID, err)
	}
	if profile.PushToken == nil {
		return "", nil
	}
	return *profile.PushToken, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *gormStore) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	var rows []model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return rows, nil
}

// MarkRead flags a single notification as read.
func (s *gormStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{"read": true, "read_at": at}).Error
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead flips every unread row of the user in one conditional update.
func (s *gormStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{"read": true, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read for user %s: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}
