package device

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/metrics"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/render"
	"github.com/switchyard-net/switchyard/pkg/db"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/gorm"
)

type Device interface {
	WithDatabase(*gorm.DB) Device
	Get(uuid.UUID) (*models.Device, error)
	Import(uuid.UUID, io.Reader) (*inventory.Result, error)
	Create(uuid.UUID, inventory.Row) (*models.Device, error)
	Update(uuid.UUID, inventory.Patch) (*models.Device, error)
	Delete(uuid.UUID) error
	Preview(uuid.UUID) (*render.Preview, error)
	PreviewJob(uuid.UUID) (render.Previews, error)
	DryRun(uuid.UUID, *policy.Policy) (*policy.Result, error)
}

type deviceService struct {
	ctx context.Context
	db  *gorm.DB
}

// Service returns a device service bound to ctx. Without WithDatabase
// it uses the process-wide connection.
func Service(ctx context.Context) Device {
	return &deviceService{ctx: ctx}
}

func (d *deviceService) WithDatabase(conn *gorm.DB) Device {
	d.db = conn
	return d
}

func (d *deviceService) conn() *gorm.DB {
	if d.db == nil {
		d.db = db.Connection()
	}
	return d.db
}

func (d *deviceService) Get(id uuid.UUID) (*models.Device, error) {
	device := &models.Device{}
	if err := d.conn().WithContext(d.ctx).First(device, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("device", id.String())
		}
		return nil, err
	}
	return device, nil
}

// Import parses a CSV inventory and persists every valid row.
func (d *deviceService) Import(jobID uuid.UUID, r io.Reader) (*inventory.Result, error) {
	rows, err := inventory.ParseCSV(r)
	if err != nil {
		return nil, err
	}
	return inventory.Import(d.ctx, d.conn(), jobID, rows)
}

func (d *deviceService) Create(jobID uuid.UUID, row inventory.Row) (*models.Device, error) {
	return inventory.Create(d.ctx, d.conn(), jobID, row)
}

func (d *deviceService) Update(id uuid.UUID, p inventory.Patch) (*models.Device, error) {
	return inventory.Update(d.ctx, d.conn(), id, p)
}

func (d *deviceService) Delete(id uuid.UUID) error {
	if err := inventory.Remove(d.ctx, d.conn(), id); err != nil {
		return err
	}
	log.Info("device deleted", "device_id", id)
	return nil
}

func (d *deviceService) Preview(id uuid.UUID) (*render.Preview, error) {
	device, err := d.Get(id)
	if err != nil {
		return nil, err
	}
	return render.Render(device)
}

// PreviewJob renders every device of the job in import order. Nothing
// is persisted.
func (d *deviceService) PreviewJob(jobID uuid.UUID) (render.Previews, error) {
	devices, err := d.jobDevices(jobID)
	if err != nil {
		return nil, err
	}

	previews := make(render.Previews, 0, len(devices))
	for _, device := range devices {
		p, err := render.Render(device)
		if err != nil {
			return nil, faults.NewValidationError(faults.Issue{
				DeviceID: device.ID.String(),
				Field:    "template",
				Message:  err.Error(),
			})
		}
		previews = append(previews, p)
	}

	return previews, nil
}

// DryRun evaluates the job's devices against the policy without
// touching hardware.
func (d *deviceService) DryRun(jobID uuid.UUID, p *policy.Policy) (*policy.Result, error) {
	devices, err := d.jobDevices(jobID)
	if err != nil {
		return nil, err
	}

	res, err := p.DryRun(devices)
	switch {
	case err != nil:
		metrics.DryRunsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	case res.Success:
		metrics.DryRunsTotal.WithLabelValues("passed").Inc()
	default:
		metrics.DryRunsTotal.WithLabelValues("failed").Inc()
	}

	log.Info("dry-run evaluated", "job_id", jobID, "devices", len(devices), "success", res.Success, "errors", len(res.Errors))

	return res, nil
}

func (d *deviceService) jobDevices(jobID uuid.UUID) (models.Devices, error) {
	q := d.conn().WithContext(d.ctx)

	if err := q.First(&models.Job{}, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("job", jobID.String())
		}
		return nil, err
	}

	var devices models.Devices
	if err := q.Where("job_id = ?", jobID).Order("seq ASC, id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}
