package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/run"
	"github.com/switchyard-net/switchyard/pkg/log"
)

type deviceExecutor struct {
	run    *models.Run
	store  *run.Store
	pusher *Pusher
	bus    event.Bus
	events *event.Log
	halt   bool
}

// NewDeviceExecutor returns the executor that pushes one device of r,
// persists its outcome and applies the run's failure policy.
func NewDeviceExecutor(r *models.Run, store *run.Store, pusher *Pusher, bus event.Bus, events *event.Log) DeviceExecutor {
	if r == nil || store == nil || pusher == nil || events == nil {
		panic("device executor requires run, store, pusher and event log")
	}
	if bus == nil {
		bus = event.Nop{}
	}

	policy, _ := run.ParseFailurePolicy(r.FailurePolicy)
	return (&deviceExecutor{
		run:    r,
		store:  store,
		pusher: pusher,
		bus:    bus,
		events: events,
		halt:   policy == run.FailurePolicyHalt,
	}).Execute
}

func (e *deviceExecutor) Execute(ctx context.Context, rd *models.RunDevice) {
	if rd == nil {
		return
	}

	ctx = run.WithDevice(run.WithContext(ctx, rd.RunID), rd.DeviceID)
	RecordTransition(ctx, e.events, e.run.JobID, rd, models.LevelInfo, "status: running", "")
	e.bus.Publish(event.ForDevice(event.TypeDeviceStarted, e.run.JobID, rd))
	log.Info("device push started", "run_id", rd.RunID, "device_id", rd.DeviceID, "hostname", rd.Hostname, "port", rd.Port)

	out, err := e.pusher.Push(ctx, e.run.JobID, rd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("device push interrupted", "run_id", rd.RunID, "device_id", rd.DeviceID)
			return
		}
		out = run.Outcome{Status: models.DeviceStatusFailed, ErrorCode: faults.CodeOf(err), ErrorMessage: err.Error()}
	}

	persistCtx := context.WithoutCancel(ctx)
	ok, err := e.store.Finish(persistCtx, rd.ID, out)
	if err != nil {
		log.Error("failed to persist device outcome", "run_id", rd.RunID, "device_id", rd.DeviceID, "error", err)
		return
	}
	if !ok {
		log.Info("device left running state before its outcome was stored", "run_id", rd.RunID, "device_id", rd.DeviceID)
		return
	}

	if done, err := e.store.Device(persistCtx, rd.ID); err == nil {
		rd = done
	}

	eventType, level := event.TypeDeviceSucceeded, models.LevelInfo
	if out.Status == models.DeviceStatusFailed {
		eventType, level = event.TypeDeviceFailed, models.LevelError
	}
	RecordTransition(persistCtx, e.events, e.run.JobID, rd, level, "status: "+string(out.Status), out.ErrorCode)
	e.bus.Publish(event.ForDevice(eventType, e.run.JobID, rd))
	log.Info("device push finished",
		"run_id", rd.RunID, "device_id", rd.DeviceID, "status", out.Status,
		"error_code", out.ErrorCode, "attempts", rd.Attempts)

	if out.Status == models.DeviceStatusFailed && e.halt {
		e.haltRun(persistCtx, rd)
	}
}

// haltRun skips every queued device once a device has failed under the
// halt policy.
func (e *deviceExecutor) haltRun(ctx context.Context, failed *models.RunDevice) {
	reason := fmt.Sprintf("skipped after %s failed", failed.Hostname)

	skipped, err := e.store.SkipQueued(ctx, failed.RunID, faults.CodeDependencyFailed, reason)
	if err != nil {
		log.Error("failed to skip queued devices", "run_id", failed.RunID, "error", err)
		return
	}

	for _, rd := range skipped {
		SkippedNotice(ctx, e.bus, e.events, e.run.JobID, rd, faults.CodeDependencyFailed, reason)
	}
}

// SkippedNotice records a skipped device in the audit trail and on the
// bus. rd is the row as read before it was skipped.
func SkippedNotice(ctx context.Context, bus event.Bus, events *event.Log, jobID uuid.UUID, rd *models.RunDevice, code, reason string) {
	rd.Status = models.DeviceStatusSkipped
	rd.ErrorCode = code
	rd.ErrorMessage = reason

	RecordTransition(ctx, events, jobID, rd, models.LevelWarning, reason, code)
	bus.Publish(event.ForDevice(event.TypeDeviceSkipped, jobID, rd))
}

// InterruptedNotice records a device failed by restart recovery. rd is
// the row as read before it was failed.
func InterruptedNotice(ctx context.Context, bus event.Bus, events *event.Log, jobID uuid.UUID, rd *models.RunDevice, reason string) {
	rd.Status = models.DeviceStatusFailed
	rd.ErrorCode = faults.CodeInterrupted
	rd.ErrorMessage = reason

	RecordTransition(ctx, events, jobID, rd, models.LevelError, "status: failed: "+reason, faults.CodeInterrupted)
	bus.Publish(event.ForDevice(event.TypeDeviceFailed, jobID, rd))
}

// RecordTransition appends a device-scoped entry to the durable event
// log. Failures are logged and otherwise ignored.
func RecordTransition(ctx context.Context, events *event.Log, jobID uuid.UUID, rd *models.RunDevice, level models.EventLevel, message, code string) {
	deviceID, port := rd.DeviceID, rd.Port
	if _, err := events.Append(context.WithoutCancel(ctx), event.Entry{
		JobID:     jobID,
		RunID:     rd.RunID,
		DeviceID:  &deviceID,
		Port:      &port,
		Level:     level,
		Message:   message,
		ErrorCode: code,
	}); err != nil {
		log.Error("failed to append device event", "run_id", rd.RunID, "device_id", deviceID, "error", err)
	}
}
