package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
	"gorm.io/gorm"
)

// Log is the append-only audit trail of a run. Rows are never updated
// or deleted while the run exists; readers order by (ts, id).
type Log struct {
	db  *gorm.DB
	bus Bus
	now func() time.Time
}

// NewLog returns a Log backed by db that mirrors appends onto bus.
func NewLog(db *gorm.DB, bus Bus) *Log {
	if bus == nil {
		bus = Nop{}
	}
	return &Log{db: db, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

// Entry is the input to Append.
type Entry struct {
	JobID     uuid.UUID
	RunID     uuid.UUID
	DeviceID  *uuid.UUID
	Port      *int
	Level     models.EventLevel
	Message   string
	Raw       string
	ErrorCode string
}

// Append persists one entry and publishes it to live subscribers.
func (l *Log) Append(ctx context.Context, e Entry) (*models.Event, error) {
	row := &models.Event{
		RunID:     e.RunID,
		DeviceID:  e.DeviceID,
		Port:      e.Port,
		TS:        l.now(),
		Level:     e.Level,
		Message:   e.Message,
		Raw:       e.Raw,
		ErrorCode: e.ErrorCode,
	}

	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}

	published := Event{
		Type:      TypeDeviceLog,
		JobID:     e.JobID,
		RunID:     e.RunID,
		Timestamp: row.TS,
	}
	if e.DeviceID != nil {
		published.DeviceID = *e.DeviceID
	}
	if payload, err := json.Marshal(row); err == nil {
		published.Payload = payload
	}
	l.bus.Publish(published)

	return row, nil
}

// ListRequest selects events of a run, optionally for one device.
type ListRequest struct {
	RunID    uuid.UUID
	DeviceID *uuid.UUID
	AfterID  uint64
	Limit    int
}

// List returns events ordered by timestamp then insertion order.
func (l *Log) List(ctx context.Context, req ListRequest) (models.Events, error) {
	q := l.db.WithContext(ctx).Where("run_id = ?", req.RunID)

	if req.DeviceID != nil {
		q = q.Where("device_id = ?", *req.DeviceID)
	}
	if req.AfterID > 0 {
		q = q.Where("id > ?", req.AfterID)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}

	events := make(models.Events, 0)
	if err := q.Order("ts ASC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
