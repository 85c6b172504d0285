package models

import (
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Customer  string    `json:"customer,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
	Devices   []*Device `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"devices,omitempty"`
	Runs      []*Run    `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

type Jobs []*Job
