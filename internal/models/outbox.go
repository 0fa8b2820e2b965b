package models

import (
	"time"
)

// OutboxEvent is one pending delivery of an event to one sink. Rows are
// written in the same transaction as the state change they describe.
type OutboxEvent struct {
	ID            uint       `gorm:"primaryKey"`
	EventKey      string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_outbox_event_sink"`
	Sink          string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_outbox_event_sink"`
	Kind          string     `gorm:"type:varchar(50);not null"`
	Payload       string     `gorm:"type:text;not null"`
	Attempts      int        `gorm:"default:0;not null"`
	NextAttemptAt time.Time  `gorm:"not null;index"`
	LockedUntil   *time.Time `gorm:"index"`
	DeliveredAt   *time.Time `gorm:"index"`
	FailedAt      *time.Time
	LastError     string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (e *OutboxEvent) Done() bool {
	return e.DeliveredAt != nil || e.FailedAt != nil
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
