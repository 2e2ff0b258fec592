package models

import (
	"time"

	"gorm.io/datatypes"
)

// DLQ holds outbox events the dashboard index rejected. RetryDLQ replays
// unresolved rows until they succeed or reach the attempt limit.
type DLQ struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	OutboxID   int64  `gorm:"index"`
	EntityType string `gorm:"size:32;not null"`
	EntityID   string `gorm:"size:36;index"`
	Op         string `gorm:"size:8;not null"`
	ErrorMsg   string
	Payload    datatypes.JSON
	Attempts   int  `gorm:"not null;default:0;index:idx_dlq_pending,priority:2"`
	Resolved   bool `gorm:"not null;default:false;index:idx_dlq_pending,priority:1"`
	RetriedAt  *time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
}
