package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/gorm"
)

// Import validates rows against the job's devices and persists the
// accepted ones in one transaction. Rejected rows create nothing.
func Import(ctx context.Context, db *gorm.DB, jobID uuid.UUID, rows []Row) (*Result, error) {
	var res *Result

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadJobDevices(tx, jobID)
		if err != nil {
			return err
		}

		res = NewValidator(jobID, existing).Validate(rows)

		return persist(tx, jobID, res.Accepted)
	})
	if err != nil {
		return nil, err
	}

	log.Info(
		"inventory imported",
		"job_id", jobID,
		"rows", len(rows),
		"accepted", len(res.Accepted),
		"rejected_fields", len(res.Errors),
	)

	return res, nil
}

// Create validates and persists a single manually entered device
// through the same path as a CSV import.
func Create(ctx context.Context, db *gorm.DB, jobID uuid.UUID, row Row) (*models.Device, error) {
	var device *models.Device

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadJobDevices(tx, jobID)
		if err != nil {
			return err
		}

		d, issues := NewValidator(jobID, existing).Row(row)
		if len(issues) > 0 {
			return faults.NewValidationError(issues...)
		}

		device = d
		return persist(tx, jobID, models.Devices{d})
	})
	if err != nil {
		return nil, err
	}

	return device, nil
}

func loadJobDevices(tx *gorm.DB, jobID uuid.UUID) (models.Devices, error) {
	var job models.Job
	if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("job", jobID.String())
		}
		return nil, err
	}

	var devices models.Devices
	if err := tx.Where("job_id = ?", jobID).Order("seq ASC, id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func persist(tx *gorm.DB, jobID uuid.UUID, devices models.Devices) error {
	if len(devices) == 0 {
		return nil
	}

	var next int64
	if err := tx.Model(&models.Device{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&next).Error; err != nil {
		return err
	}

	for _, d := range devices {
		next++
		d.Seq = next
	}

	return tx.Create(&devices).Error
}

// Patch carries the mutable device fields. Nil fields are left as they
// are; a zero Port unassigns the console port.
type Patch struct {
	Hostname *string `json:"hostname,omitempty"`
	MgmtIP   *string `json:"mgmt_ip,omitempty"`
	Mask     *string `json:"mask,omitempty"`
	Gateway  *string `json:"gateway,omitempty"`
	Vendor   *string `json:"vendor,omitempty"`
	Model    *string `json:"model,omitempty"`
	MgmtVLAN *int    `json:"mgmt_vlan,omitempty"`
	Port     *int    `json:"port,omitempty"`
}

// Update applies a patch through the same validation as import. The
// device's own hostname and port do not count as duplicates. Edits are
// refused while the job has a running run.
func Update(ctx context.Context, db *gorm.DB, deviceID uuid.UUID, p Patch) (*models.Device, error) {
	var device *models.Device

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadDevice(tx, deviceID)
		if err != nil {
			return err
		}
		if err := guardActiveRun(tx, current.JobID); err != nil {
			return err
		}

		existing, err := loadJobDevices(tx, current.JobID)
		if err != nil {
			return err
		}
		others := make(models.Devices, 0, len(existing))
		for _, d := range existing {
			if d.ID != current.ID {
				others = append(others, d)
			}
		}

		d, issues := NewValidator(current.JobID, others).Row(p.apply(current))
		if len(issues) > 0 {
			return faults.NewValidationError(issues...)
		}

		current.Hostname = d.Hostname
		current.MgmtIP = d.MgmtIP
		current.Mask = d.Mask
		current.Gateway = d.Gateway
		current.Vendor = d.Vendor
		current.Model = d.Model
		current.MgmtVLAN = d.MgmtVLAN
		current.Port = d.Port

		device = current
		return tx.Save(current).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info("device updated", "job_id", device.JobID, "device_id", device.ID)

	return device, nil
}

// Remove deletes a device unless its job has a running run.
func Remove(ctx context.Context, db *gorm.DB, deviceID uuid.UUID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadDevice(tx, deviceID)
		if err != nil {
			return err
		}
		if err := guardActiveRun(tx, current.JobID); err != nil {
			return err
		}
		return tx.Delete(current).Error
	})
}

func (p Patch) apply(d *models.Device) Row {
	r := Row{
		Hostname: d.Hostname,
		MgmtIP:   d.MgmtIP,
		Mask:     d.Mask,
		Gateway:  d.Gateway,
		Vendor:   string(d.Vendor),
		Model:    d.Model,
		MgmtVLAN: optionalInt(d.MgmtVLAN),
		Port:     optionalInt(d.Port),
	}

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.Hostname, p.Hostname)
	set(&r.MgmtIP, p.MgmtIP)
	set(&r.Mask, p.Mask)
	set(&r.Gateway, p.Gateway)
	set(&r.Vendor, p.Vendor)
	set(&r.Model, p.Model)

	if p.MgmtVLAN != nil {
		r.MgmtVLAN = optionalInt(p.MgmtVLAN)
		if *p.MgmtVLAN == 0 {
			r.MgmtVLAN = ""
		}
	}
	if p.Port != nil {
		r.Port = optionalInt(p.Port)
		if *p.Port == 0 {
			r.Port = ""
		}
	}

	return r
}

func optionalInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func loadDevice(tx *gorm.DB, deviceID uuid.UUID) (*models.Device, error) {
	var d models.Device
	if err := tx.First(&d, "id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("device", deviceID.String())
		}
		return nil, err
	}
	return &d, nil
}

// guardActiveRun locks the job and rejects device mutation while one of
// its runs is active.
func guardActiveRun(tx *gorm.DB, jobID uuid.UUID) error {
	if err := models.LockJob(tx, jobID); err != nil {
		return err
	}

	var n int64
	if err := tx.Model(&models.Run{}).
		Where("job_id = ? AND (status = ? OR active_job_id IS NOT NULL)", jobID, models.RunStatusRunning).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return faults.NewConflictError("job", "devices cannot change while a run is active")
	}
	return nil
}
