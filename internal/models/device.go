package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Vendor names a configuration profile family.
type Vendor string

const (
	VendorGeneric Vendor = "generic"
	VendorCisco   Vendor = "cisco"
)

// Vendors is the closed set of supported vendors in display order.
var Vendors = []Vendor{VendorGeneric, VendorCisco}

var vendorAliases = map[string]Vendor{
	"":          VendorGeneric,
	"generic":   VendorGeneric,
	"cisco":     VendorCisco,
	"cisco_ios": VendorCisco,
	"ios":       VendorCisco,
}

// ParseVendor resolves a user supplied vendor name, including aliases.
// Empty input resolves to the generic vendor.
func ParseVendor(raw string) (Vendor, bool) {
	v, ok := vendorAliases[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}

const (
	MinPort = 1
	MaxPort = 16
)

type Device struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	Seq       int64     `gorm:"not null;index" json:"seq"`
	Hostname  string    `gorm:"not null" json:"hostname"`
	MgmtIP    string    `gorm:"column:mgmt_ip;not null" json:"mgmt_ip"`
	Mask      string    `gorm:"not null" json:"mask"`
	Gateway   string    `gorm:"not null" json:"gateway"`
	Vendor    Vendor    `gorm:"type:text;not null;default:generic" json:"vendor"`
	Model     string    `json:"model,omitempty"`
	MgmtVLAN  *int      `gorm:"column:mgmt_vlan" json:"mgmt_vlan,omitempty"`
	Port      *int      `json:"port"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

type Devices []*Device
