package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	NotificationQueued = "queued"
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// NotificationEvent is the dispatcher outbox: one row per emitted event.
type NotificationEvent struct {
	ID         string `gorm:"primaryKey;type:varchar(26)"`
	Type       string `gorm:"type:varchar(20);not null;index"`
	Instrument string `gorm:"type:varchar(20);not null"`
	SignalID   string `gorm:"type:varchar(36);not null;index"`

	Title   string         `gorm:"type:varchar(200);not null"`
	Body    string         `gorm:"type:text"`
	Payload datatypes.JSON `gorm:"type:jsonb"`

	Status    string  `gorm:"type:varchar(20);not null;default:'queued';index"`
	Attempts  int     `gorm:"not null;default:0"`
	LastError *string `gorm:"type:text"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	SentAt    *time.Time
}

func (NotificationEvent) TableName() string {
	return "notification_events"
}
