package model

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is one row of the per-user notifications table.
type Notification struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	UserID    string         `gorm:"index;size:64;not null" json:"user_id"`
	Title     string         `gorm:"not null" json:"title"`
	Body      string         `gorm:"not null" json:"body"`
	Data      datatypes.JSON `json:"data,omitempty"`
	Read      bool           `gorm:"not null;default:false;index" json:"read"`
	SentAt    time.Time      `json:"sent_at"`
	ReadAt    *time.Time     `json:"read_at"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

