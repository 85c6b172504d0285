package stats

import (
	"context"
	"time"

	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/db"
	"gorm.io/gorm"
)

// StatsResponse is the top-level rollout statistics payload.
type StatsResponse struct {
	Runs        RunStats     `json:"runs"`
	Devices     DeviceStats  `json:"devices"`
	TopErrors   []ErrorCount `json:"top_errors"`
	SlowestJobs []SlowestJob `json:"slowest_jobs"`
}

// RunStats contains aggregate run statistics.
type RunStats struct {
	Total              int64   `json:"total"`
	Active             int64   `json:"active"`
	Recent             int64   `json:"recent"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// DeviceStats aggregates per-device push outcomes across all runs.
type DeviceStats struct {
	Pushed      int64   `json:"pushed"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	AvgAttempts float64 `json:"avg_attempts"`
}

// ErrorCount is how often an error code ended a device push.
type ErrorCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// SlowestJob describes a job whose runs take longest on average.
type SlowestJob struct {
	JobID              string  `json:"job_id"`
	Name               string  `json:"name"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

const topN = 5

type Stats interface {
	WithDatabase(*gorm.DB) Stats
	Get() (*StatsResponse, error)
}

type statsService struct {
	ctx context.Context
	db  *gorm.DB
}

func Service(ctx context.Context) Stats {
	return &statsService{ctx: ctx}
}

func (s *statsService) WithDatabase(conn *gorm.DB) Stats {
	s.db = conn
	return s
}

func (s *statsService) q() *gorm.DB {
	if s.db == nil {
		s.db = db.Connection()
	}
	return s.db.WithContext(s.ctx)
}

// durationExpr returns a SQL expression for the seconds between two
// timestamp columns. Postgres uses EXTRACT(EPOCH FROM ...), SQLite uses
// JULIANDAY arithmetic.
func (s *statsService) durationExpr(start, end string) string {
	if s.q().Dialector.Name() == "postgres" {
		return "EXTRACT(EPOCH FROM (" + end + " - " + start + "))"
	}
	return "(JULIANDAY(" + end + ") - JULIANDAY(" + start + ")) * 86400"
}

// Get computes aggregate statistics from runs and run devices.
func (s *statsService) Get() (*StatsResponse, error) {
	resp := &StatsResponse{
		TopErrors:   []ErrorCount{},
		SlowestJobs: []SlowestJob{},
	}

	if err := s.runs(&resp.Runs); err != nil {
		return nil, err
	}

	if err := s.devices(&resp.Devices); err != nil {
		return nil, err
	}

	if err := s.q().Model(&models.RunDevice{}).
		Select("error_code AS code, COUNT(*) AS count").
		Where("status = ? AND error_code <> ''", models.DeviceStatusFailed).
		Group("error_code").
		Order("count DESC, code").
		Limit(topN).
		Scan(&resp.TopErrors).Error; err != nil {
		return nil, err
	}

	if err := s.q().Table("runs").
		Select("runs.job_id AS job_id, jobs.name AS name, AVG("+s.durationExpr("runs.started_at", "runs.ended_at")+") AS avg_duration_seconds").
		Joins("JOIN jobs ON jobs.id = runs.job_id").
		Where("runs.ended_at IS NOT NULL").
		Group("runs.job_id, jobs.name").
		Order("avg_duration_seconds DESC").
		Limit(topN).
		Scan(&resp.SlowestJobs).Error; err != nil {
		return nil, err
	}

	return resp, nil
}

func (s *statsService) runs(out *RunStats) error {
	runs := func() *gorm.DB { return s.q().Model(&models.Run{}) }

	if err := runs().Count(&out.Total).Error; err != nil {
		return err
	}

	if err := runs().Where("status = ?", models.RunStatusRunning).Count(&out.Active).Error; err != nil {
		return err
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := runs().Where("started_at >= ?", since).Count(&out.Recent).Error; err != nil {
		return err
	}

	var finished, succeeded int64
	if err := runs().Where("status <> ?", models.RunStatusRunning).Count(&finished).Error; err != nil {
		return err
	}
	if err := runs().Where("status = ?", models.RunStatusSuccess).Count(&succeeded).Error; err != nil {
		return err
	}
	if finished > 0 {
		out.SuccessRate = float64(succeeded) / float64(finished)
	}

	var avg struct{ Avg *float64 }
	if err := runs().
		Select("AVG(" + s.durationExpr("started_at", "ended_at") + ") AS avg").
		Where("ended_at IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return err
	}
	if avg.Avg != nil {
		out.AvgDurationSeconds = *avg.Avg
	}

	return nil
}

func (s *statsService) devices(out *DeviceStats) error {
	var rows []struct {
		Status models.DeviceStatus
		Count  int64
	}
	if err := s.q().Model(&models.RunDevice{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}

	for _, r := range rows {
		switch r.Status {
		case models.DeviceStatusSuccess:
			out.Success = r.Count
		case models.DeviceStatusFailed:
			out.Failed = r.Count
		case models.DeviceStatusSkipped:
			out.Skipped = r.Count
		}
	}
	out.Pushed = out.Success + out.Failed

	var avg struct{ Avg *float64 }
	if err := s.q().Model(&models.RunDevice{}).
		Select("AVG(attempts) AS avg").
		Where("attempts > 0").
		Scan(&avg).Error; err != nil {
		return err
	}
	if avg.Avg != nil {
		out.AvgAttempts = *avg.Avg
	}

	return nil
}
