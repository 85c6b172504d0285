package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusPartial RunStatus = "partial"
)

// Terminal reports whether the run has reached a final status.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning && s != ""
}

type DeviceStatus string

const (
	DeviceStatusQueued  DeviceStatus = "queued"
	DeviceStatusRunning DeviceStatus = "running"
	DeviceStatusSuccess DeviceStatus = "success"
	DeviceStatusFailed  DeviceStatus = "failed"
	DeviceStatusSkipped DeviceStatus = "skipped"
)

// Terminal reports whether the device status is a sink state.
func (s DeviceStatus) Terminal() bool {
	switch s {
	case DeviceStatusSuccess, DeviceStatusFailed, DeviceStatusSkipped:
		return true
	}
	return false
}

type Run struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	JobID         uuid.UUID    `gorm:"type:uuid;index;not null" json:"job_id"`
	Parallelism   int          `gorm:"not null" json:"parallelism"`
	FailurePolicy string       `gorm:"type:text;not null;default:continue" json:"failure_policy"`
	Status        RunStatus    `gorm:"type:text;index;not null" json:"status"`
	ActiveJobID   *uuid.UUID   `gorm:"type:uuid;uniqueIndex" json:"-"`
	Cancelled     bool         `gorm:"not null;default:false" json:"cancelled"`
	StartedAt     time.Time    `gorm:"not null" json:"started_at"`
	EndedAt       *time.Time   `json:"ended_at,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
	Devices       []*RunDevice `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"devices,omitempty"`
	Events        []*Event     `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"-"`
}

type Runs []*Run

type RunDevice struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_run_device" json:"run_id"`
	DeviceID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_run_device" json:"device_id"`
	Position     int            `gorm:"not null" json:"position"`
	Hostname     string         `gorm:"not null" json:"hostname"`
	MgmtIP       string         `gorm:"column:mgmt_ip;not null" json:"mgmt_ip"`
	Mask         string         `gorm:"not null" json:"mask"`
	Gateway      string         `gorm:"not null" json:"gateway"`
	MgmtVLAN     *int           `gorm:"column:mgmt_vlan" json:"mgmt_vlan,omitempty"`
	Vendor       Vendor         `gorm:"type:text;not null" json:"vendor"`
	Port         int            `gorm:"not null" json:"port"`
	Status       DeviceStatus   `gorm:"type:text;index;not null" json:"status"`
	TemplateHash string         `gorm:"not null" json:"template_hash"`
	Commands     datatypes.JSON `json:"commands,omitempty"`
	Blocks       datatypes.JSON `json:"blocks,omitempty"`
	Attempts     int            `gorm:"not null;default:0" json:"attempts"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

// Snapshot rebuilds the frozen device view captured when the run started.
func (rd *RunDevice) Snapshot() *Device {
	port := rd.Port
	return &Device{
		ID:       rd.DeviceID,
		Hostname: rd.Hostname,
		MgmtIP:   rd.MgmtIP,
		Mask:     rd.Mask,
		Gateway:  rd.Gateway,
		MgmtVLAN: rd.MgmtVLAN,
		Vendor:   rd.Vendor,
		Port:     &port,
	}
}

type RunDevices []*RunDevice
