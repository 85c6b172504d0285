package event

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
)

// ForRun builds a run-level notification carrying the run as payload.
func ForRun(t Type, r *models.Run) Event {
	e := Event{Type: t, JobID: r.JobID, RunID: r.ID}
	if payload, err := json.Marshal(r); err == nil {
		e.Payload = payload
	}
	return e
}

// ForDevice builds a device-level notification carrying the run device
// as payload.
func ForDevice(t Type, jobID uuid.UUID, rd *models.RunDevice) Event {
	e := Event{Type: t, JobID: jobID, RunID: rd.RunID, DeviceID: rd.DeviceID}
	if payload, err := json.Marshal(rd); err == nil {
		e.Payload = payload
	}
	return e
}
