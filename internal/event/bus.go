package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeJobCreated      Type = "job_created"
	TypeJobDeleted      Type = "job_deleted"
	TypeRunStarted      Type = "run_started"
	TypeRunCompleted    Type = "run_completed"
	TypeRunCancelled    Type = "run_cancelled"
	TypeDeviceStarted   Type = "device_started"
	TypeDeviceSucceeded Type = "device_succeeded"
	TypeDeviceFailed    Type = "device_failed"
	TypeDeviceSkipped   Type = "device_skipped"
	TypeDeviceLog       Type = "device_log"
)

// Event is a transient notification published to live subscribers.
// The durable audit trail is the Log.
type Event struct {
	Type      Type            `json:"type"`
	JobID     uuid.UUID       `json:"job_id,omitempty"`
	RunID     uuid.UUID       `json:"run_id,omitempty"`
	DeviceID  uuid.UUID       `json:"device_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Filter defines criteria for receiving events.
type Filter struct {
	JobID    uuid.UUID
	RunID    uuid.UUID
	DeviceID uuid.UUID
	Types    []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

func (b *bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter.matches(e) {
			select {
			case ch <- e:
			default:
				// slow subscriber, drop
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (f Filter) matches(e Event) bool {
	if f.JobID != uuid.Nil && f.JobID != e.JobID {
		return false
	}
	if f.RunID != uuid.Nil && f.RunID != e.RunID {
		return false
	}
	if f.DeviceID != uuid.Nil && f.DeviceID != e.DeviceID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(ctx context.Context, _ Filter) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
