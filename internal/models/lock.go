package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LockJob writes the job row inside tx so the transaction holds it
// until commit. Run start and device mutation both lock the job before
// reading, which orders them against each other. It returns
// gorm.ErrRecordNotFound when the job does not exist.
func LockJob(tx *gorm.DB, jobID uuid.UUID) error {
	result := tx.Model(&Job{}).
		Where("id = ?", jobID).
		Update("updated_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
