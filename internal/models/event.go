package models

import (
	"time"

	"github.com/google/uuid"
)

type EventLevel string

const (
	LevelDebug   EventLevel = "DEBUG"
	LevelInfo    EventLevel = "INFO"
	LevelWarning EventLevel = "WARNING"
	LevelError   EventLevel = "ERROR"
)

// Event is one append-only audit record. ID is assigned by the
// database and breaks timestamp ties in insertion order.
type Event struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_event_run_device" json:"run_id"`
	DeviceID  *uuid.UUID `gorm:"type:uuid;index:idx_event_run_device" json:"device_id,omitempty"`
	Port      *int       `json:"port,omitempty"`
	TS        time.Time  `gorm:"column:ts;not null;index" json:"ts"`
	Level     EventLevel `gorm:"type:text;not null" json:"level"`
	Message   string     `gorm:"type:text;not null" json:"message"`
	Raw       string     `gorm:"type:text" json:"raw,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
}

type Events []*Event
