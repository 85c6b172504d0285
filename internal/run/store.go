package run

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/metrics"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/render"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FailurePolicy string

const (
	FailurePolicyContinue FailurePolicy = "continue"
	FailurePolicyHalt     FailurePolicy = "halt"
)

// ParseFailurePolicy resolves a policy name, defaulting to continue.
func ParseFailurePolicy(raw string) (FailurePolicy, bool) {
	switch FailurePolicy(raw) {
	case "", FailurePolicyContinue:
		return FailurePolicyContinue, true
	case FailurePolicyHalt:
		return FailurePolicyHalt, true
	}
	return "", false
}

// Store persists runs and their per-device rows. Every state change is
// a conditional update on the expected current status, so transitions
// only move forward and a lost race is reported instead of applied.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

type StartRequest struct {
	JobID         uuid.UUID
	Parallelism   int
	FailurePolicy FailurePolicy
}

// Start creates a running Run and one queued RunDevice per device of
// the job inside a single transaction. It fails with a conflict when
// another run of the job is active, and with a precondition or
// conflict error when ports are missing or shared. Devices are
// snapshotted so later edits do not leak into the run.
func (s *Store) Start(ctx context.Context, req StartRequest) (*models.Run, error) {
	if req.Parallelism < 1 {
		return nil, faults.NewValidationError(faults.Issue{Field: "parallelism", Message: "parallelism must be >= 1"})
	}
	if req.FailurePolicy == "" {
		req.FailurePolicy = FailurePolicyContinue
	}

	var created *models.Run

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, "id = ?", req.JobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return faults.NewNotFoundError("job", req.JobID.String())
			}
			return err
		}
		if err := models.LockJob(tx, req.JobID); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.Run{}).
			Where("job_id = ? AND status = ?", req.JobID, models.RunStatusRunning).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return faults.NewConflictError("job", "a run is already active for this job")
		}

		var devices models.Devices
		if err := tx.Where("job_id = ?", req.JobID).Order("seq ASC, id ASC").Find(&devices).Error; err != nil {
			return err
		}

		if err := policy.CheckPorts(devices); err != nil {
			return err
		}

		now := s.now()
		jobID := req.JobID
		r := &models.Run{
			ID:            uuid.New(),
			JobID:         req.JobID,
			Parallelism:   req.Parallelism,
			FailurePolicy: string(req.FailurePolicy),
			Status:        models.RunStatusRunning,
			ActiveJobID:   &jobID,
			StartedAt:     now,
		}

		if err := tx.Create(r).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return faults.NewConflictError("job", "a run is already active for this job")
			}
			return err
		}

		rows := make(models.RunDevices, 0, len(devices))
		for i, d := range devices {
			rows = append(rows, snapshot(r.ID, i+1, d))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}

		r.Devices = rows
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(
		"run started",
		"run_id", created.ID,
		"job_id", created.JobID,
		"devices", len(created.Devices),
		"parallelism", created.Parallelism,
		"failure_policy", created.FailurePolicy,
	)

	return created, nil
}

func snapshot(runID uuid.UUID, position int, d *models.Device) *models.RunDevice {
	rd := &models.RunDevice{
		ID:       uuid.New(),
		RunID:    runID,
		DeviceID: d.ID,
		Position: position,
		Hostname: d.Hostname,
		MgmtIP:   d.MgmtIP,
		Mask:     d.Mask,
		Gateway:  d.Gateway,
		MgmtVLAN: d.MgmtVLAN,
		Vendor:   d.Vendor,
		Port:     *d.Port,
		Status:   models.DeviceStatusQueued,
	}

	// a device that cannot render still gets a row; the worker fails it
	// with the template error so siblings are unaffected
	if p, err := render.Render(d); err == nil {
		rd.TemplateHash = p.Hash
		if cmds, err := json.Marshal(p.Commands); err == nil {
			rd.Commands = datatypes.JSON(cmds)
		}
	}

	return rd
}

// Claim moves a queued device to running. It returns false when the
// row is no longer queued, for example after a cancellation.
func (s *Store) Claim(ctx context.Context, runDeviceID uuid.UUID) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.RunDevice{}).
		Where("id = ? AND status = ?", runDeviceID, models.DeviceStatusQueued).
		Updates(map[string]interface{}{
			"status":     models.DeviceStatusRunning,
			"started_at": now,
		})

	return s.transitioned(result, "device")
}

// RecordAttempt stores the number of push attempts made so far.
func (s *Store) RecordAttempt(ctx context.Context, runDeviceID uuid.UUID, attempt int) error {
	return s.db.WithContext(ctx).
		Model(&models.RunDevice{}).
		Where("id = ? AND status = ?", runDeviceID, models.DeviceStatusRunning).
		Update("attempts", attempt).Error
}

// Outcome is the terminal result of a device push.
type Outcome struct {
	Status       models.DeviceStatus
	ErrorCode    string
	ErrorMessage string
	Blocks       interface{}
}

// Finish moves a running device to success or failed.
func (s *Store) Finish(ctx context.Context, runDeviceID uuid.UUID, out Outcome) (bool, error) {
	if out.Status != models.DeviceStatusSuccess && out.Status != models.DeviceStatusFailed {
		return false, faults.NewValidationError(faults.Issue{Field: "status", Message: "finish requires success or failed"})
	}

	updates := map[string]interface{}{
		"status":        out.Status,
		"error_code":    out.ErrorCode,
		"error_message": out.ErrorMessage,
		"finished_at":   s.now(),
	}
	if out.Blocks != nil {
		if raw, err := json.Marshal(out.Blocks); err == nil {
			updates["blocks"] = datatypes.JSON(raw)
		}
	}

	result := s.db.WithContext(ctx).
		Model(&models.RunDevice{}).
		Where("id = ? AND status = ?", runDeviceID, models.DeviceStatusRunning).
		Updates(updates)

	return s.transitioned(result, "device")
}

// Skip moves a single queued device to skipped.
func (s *Store) Skip(ctx context.Context, runDeviceID uuid.UUID, code, message string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.RunDevice{}).
		Where("id = ? AND status = ?", runDeviceID, models.DeviceStatusQueued).
		Updates(map[string]interface{}{
			"status":        models.DeviceStatusSkipped,
			"error_code":    code,
			"error_message": message,
			"finished_at":   s.now(),
		})

	return s.transitioned(result, "device")
}

// SkipQueued skips every remaining queued device of a run and returns
// the affected rows.
func (s *Store) SkipQueued(ctx context.Context, runID uuid.UUID, code, message string) (models.RunDevices, error) {
	var skipped models.RunDevices

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND status = ?", runID, models.DeviceStatusQueued).
			Order("position ASC").
			Find(&skipped).Error; err != nil {
			return err
		}
		if len(skipped) == 0 {
			return nil
		}

		return tx.Model(&models.RunDevice{}).
			Where("run_id = ? AND status = ?", runID, models.DeviceStatusQueued).
			Updates(map[string]interface{}{
				"status":        models.DeviceStatusSkipped,
				"error_code":    code,
				"error_message": message,
				"finished_at":   s.now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	return skipped, nil
}

// FailRunning fails every running device of a run and returns the
// affected rows. Used when a process restarts with pushes that never
// reported back.
func (s *Store) FailRunning(ctx context.Context, runID uuid.UUID, code, message string) (models.RunDevices, error) {
	var failed models.RunDevices

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND status = ?", runID, models.DeviceStatusRunning).
			Order("position ASC").
			Find(&failed).Error; err != nil {
			return err
		}
		if len(failed) == 0 {
			return nil
		}

		return tx.Model(&models.RunDevice{}).
			Where("run_id = ? AND status = ?", runID, models.DeviceStatusRunning).
			Updates(map[string]interface{}{
				"status":        models.DeviceStatusFailed,
				"error_code":    code,
				"error_message": message,
				"finished_at":   s.now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	return failed, nil
}

// Cancel flags a running run as cancelled. It returns false when the
// run is not running or was already cancelled.
func (s *Store) Cancel(ctx context.Context, runID uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("id = ? AND status = ? AND cancelled = ?", runID, models.RunStatusRunning, false).
		Update("cancelled", true)

	return s.transitioned(result, "run")
}

// Aggregate derives the run status from terminal device statuses.
func Aggregate(statuses []models.DeviceStatus) models.RunStatus {
	var success, failed int
	for _, st := range statuses {
		switch st {
		case models.DeviceStatusSuccess:
			success++
		case models.DeviceStatusFailed:
			failed++
		case models.DeviceStatusQueued, models.DeviceStatusRunning:
			return models.RunStatusRunning
		}
	}

	switch {
	case len(statuses) > 0 && success == len(statuses):
		return models.RunStatusSuccess
	case len(statuses) > 0 && failed == len(statuses):
		return models.RunStatusFailed
	}
	return models.RunStatusPartial
}

// Complete computes the aggregate status once every device is terminal
// and closes the run, releasing the job for the next rollout.
func (s *Store) Complete(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	var (
		completed models.Run
		closed    bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var statuses []models.DeviceStatus
		if err := tx.Model(&models.RunDevice{}).
			Where("run_id = ?", runID).
			Pluck("status", &statuses).Error; err != nil {
			return err
		}

		status := Aggregate(statuses)
		if status == models.RunStatusRunning {
			return &faults.PreconditionError{Operation: "complete run", Precondition: "all devices terminal"}
		}

		now := s.now()
		result := tx.Model(&models.Run{}).
			Where("id = ? AND status = ?", runID, models.RunStatusRunning).
			Updates(map[string]interface{}{
				"status":        status,
				"ended_at":      now,
				"active_job_id": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			metrics.TransitionContentionTotal.WithLabelValues("run").Inc()
		}
		closed = result.RowsAffected > 0

		return tx.First(&completed, "id = ?", runID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("run", runID.String())
		}
		return nil, err
	}

	if closed && completed.EndedAt != nil {
		metrics.RunsTotal.WithLabelValues(string(completed.Status)).Inc()
		metrics.RunDurationSeconds.WithLabelValues(string(completed.Status)).
			Observe(completed.EndedAt.Sub(completed.StartedAt).Seconds())
	}

	if closed {
		log.Info("run completed", "run_id", runID, "status", completed.Status)
	}

	return &completed, nil
}

func (s *Store) Get(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	var r models.Run
	if err := s.db.WithContext(ctx).First(&r, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("run", runID.String())
		}
		return nil, err
	}
	return &r, nil
}

type ListRequest struct {
	JobID  uuid.UUID
	Status models.RunStatus
	Limit  int
	Offset int
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, req ListRequest) (models.Runs, error) {
	q := s.db.WithContext(ctx)
	if req.JobID != uuid.Nil {
		q = q.Where("job_id = ?", req.JobID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q = q.Offset(req.Offset)
	}

	runs := make(models.Runs, 0)
	if err := q.Order("started_at DESC").Order("id ASC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Active returns the running run of a job, or nil.
func (s *Store) Active(ctx context.Context, jobID uuid.UUID) (*models.Run, error) {
	var r models.Run
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, models.RunStatusRunning).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// HasActive reports whether the job has a running run.
func (s *Store) HasActive(ctx context.Context, jobID uuid.UUID) (bool, error) {
	r, err := s.Active(ctx, jobID)
	return r != nil, err
}

// Devices returns the rows of a run in queue order.
func (s *Store) Devices(ctx context.Context, runID uuid.UUID) (models.RunDevices, error) {
	devices := make(models.RunDevices, 0)
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Order("device_id ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Device returns a single run device row.
func (s *Store) Device(ctx context.Context, runDeviceID uuid.UUID) (*models.RunDevice, error) {
	var rd models.RunDevice
	if err := s.db.WithContext(ctx).First(&rd, "id = ?", runDeviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("run device", runDeviceID.String())
		}
		return nil, err
	}
	return &rd, nil
}

func (s *Store) transitioned(result *gorm.DB, kind string) (bool, error) {
	if result.Error != nil {
		if isContentionErr(result.Error) {
			metrics.TransitionContentionTotal.WithLabelValues(kind).Inc()
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		// another writer moved the row first
		metrics.TransitionContentionTotal.WithLabelValues(kind).Inc()
		return false, nil
	}
	return true, nil
}

func isContentionErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
