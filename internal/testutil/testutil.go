package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	// shared-cache memory databases report table locks instead of
	// waiting, so writers are serialised on one connection
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	tb.Cleanup(func() { CloseDB(db) })

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}

// SeedJob persists a job with n generic devices on sequential ports
// and addresses in 10.0.0.0/24.
func SeedJob(tb testing.TB, db *gorm.DB, n int) (*models.Job, models.Devices) {
	tb.Helper()

	job := &models.Job{ID: uuid.New(), Name: "seed"}
	if err := db.Create(job).Error; err != nil {
		tb.Fatalf("create job: %v", err)
	}

	devices := make(models.Devices, 0, n)
	for i := 1; i <= n; i++ {
		port := i
		d := &models.Device{
			ID:       uuid.New(),
			JobID:    job.ID,
			Seq:      int64(i),
			Hostname: fmt.Sprintf("sw-%02d", i),
			MgmtIP:   fmt.Sprintf("10.0.0.%d", i+10),
			Mask:     "255.255.255.0",
			Gateway:  "10.0.0.1",
			Vendor:   models.VendorGeneric,
			Port:     &port,
		}
		if err := db.Create(d).Error; err != nil {
			tb.Fatalf("create device: %v", err)
		}
		devices = append(devices, d)
	}

	return job, devices
}

// SeedRun persists a bare run row for jobID, for tests that only need
// a valid foreign key.
func SeedRun(tb testing.TB, db *gorm.DB, jobID uuid.UUID) *models.Run {
	tb.Helper()

	r := &models.Run{
		ID:            uuid.New(),
		JobID:         jobID,
		Parallelism:   1,
		FailurePolicy: "continue",
		Status:        models.RunStatusSuccess,
		StartedAt:     time.Now().UTC(),
	}
	if err := db.Create(r).Error; err != nil {
		tb.Fatalf("create run: %v", err)
	}
	return r
}
