package job

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/db"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/gorm"
)

type Job interface {
	WithDatabase(*gorm.DB) Job
	WithBus(event.Bus) Job
	List(*ListRequest) (models.Jobs, error)
	Get(uuid.UUID) (*models.Job, error)
	Devices(uuid.UUID) (models.Devices, error)
	Create(*CreateRequest) (*models.Job, error)
	Delete(uuid.UUID) error
}

type jobService struct {
	ctx context.Context
	db  *gorm.DB
	bus event.Bus
}

// Service returns a job service bound to ctx. Without WithDatabase it
// uses the process-wide connection.
func Service(ctx context.Context) Job {
	return &jobService{ctx: ctx}
}

func (j *jobService) WithDatabase(conn *gorm.DB) Job {
	j.db = conn
	return j
}

func (j *jobService) WithBus(bus event.Bus) Job {
	j.bus = bus
	return j
}

func (j *jobService) publish(t event.Type, id uuid.UUID) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(event.Event{
		Type:      t,
		JobID:     id,
		Timestamp: time.Now().UTC(),
	})
}

func (j *jobService) q() *gorm.DB {
	if j.db == nil {
		j.db = db.Connection()
	}
	return j.db.WithContext(j.ctx)
}

type ListRequest struct {
	Limit    uint64
	Offset   uint64
	Customer string
}

func (j *jobService) List(req *ListRequest) (models.Jobs, error) {
	var (
		jobs = make(models.Jobs, 0)
		q    = j.q()
	)

	if req.Customer != "" {
		q = q.Where("customer = ?", req.Customer)
	}

	if req.Limit > 0 {
		q = q.Limit(int(req.Limit))
	}

	if req.Offset > 0 {
		q = q.Offset(int(req.Offset))
	}

	if err := q.Order("created_at DESC").Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}

	return jobs, nil
}

// Get returns the job with its devices in import order.
func (j *jobService) Get(id uuid.UUID) (*models.Job, error) {
	job := &models.Job{}

	err := j.q().
		Preload("Devices", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq ASC, id ASC") }).
		First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.NewNotFoundError("job", id.String())
	}

	return job, err
}

func (j *jobService) Devices(id uuid.UUID) (models.Devices, error) {
	if _, err := j.exists(id); err != nil {
		return nil, err
	}

	devices := make(models.Devices, 0)
	if err := j.q().Where("job_id = ?", id).Order("seq ASC, id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}

	return devices, nil
}

type CreateRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	Customer string `json:"customer" validate:"max=128"`
}

func (j *jobService) Create(req *CreateRequest) (*models.Job, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, faults.NewValidationError(faults.Issue{Field: "name", Message: "name is required"})
	}

	job := &models.Job{
		ID:       uuid.New(),
		Name:     name,
		Customer: strings.TrimSpace(req.Customer),
	}

	if err := j.q().Create(job).Error; err != nil {
		return nil, err
	}

	log.Info("job created", "job_id", job.ID, "name", job.Name)
	j.publish(event.TypeJobCreated, job.ID)

	return job, nil
}

// Delete removes the job together with its devices and run history.
// A job with a running run cannot be deleted.
func (j *jobService) Delete(id uuid.UUID) error {
	err := j.q().Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&models.Job{}, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return faults.NewNotFoundError("job", id.String())
			}
			return err
		}
		if err := models.LockJob(tx, id); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.Run{}).
			Where("job_id = ? AND status = ?", id, models.RunStatusRunning).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return faults.NewConflictError("job", "cannot delete a job while a run is active")
		}

		var runIDs []uuid.UUID
		if err := tx.Model(&models.Run{}).Where("job_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
			return err
		}
		if len(runIDs) > 0 {
			if err := tx.Where("run_id IN ?", runIDs).Delete(&models.Event{}).Error; err != nil {
				return err
			}
			if err := tx.Where("run_id IN ?", runIDs).Delete(&models.RunDevice{}).Error; err != nil {
				return err
			}
			if err := tx.Where("job_id = ?", id).Delete(&models.Run{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("job_id = ?", id).Delete(&models.Device{}).Error; err != nil {
			return err
		}

		return tx.Delete(&models.Job{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	log.Info("job deleted", "job_id", id)
	j.publish(event.TypeJobDeleted, id)

	return nil
}

func (j *jobService) exists(id uuid.UUID) (*models.Job, error) {
	job := &models.Job{}
	if err := j.q().First(job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("job", id.String())
		}
		return nil, err
	}
	return job, nil
}
