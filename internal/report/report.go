// Package report folds a finished run into audit exports. Output is a
// pure function of persisted state, so building twice yields identical
// bytes.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"gorm.io/gorm"
)

// Columns is the CSV header.
var Columns = []string{
	"hostname",
	"mgmt_ip",
	"port",
	"vendor",
	"status",
	"started_at",
	"finished_at",
	"duration_seconds",
	"error_code",
	"error_message",
	"template_hash",
	"blocks_summary",
}

type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Row struct {
	Position        int      `json:"position"`
	DeviceID        string   `json:"device_id"`
	Hostname        string   `json:"hostname"`
	MgmtIP          string   `json:"mgmt_ip"`
	Port            int      `json:"port"`
	Vendor          string   `json:"vendor"`
	Status          string   `json:"status"`
	StartedAt       string   `json:"started_at,omitempty"`
	FinishedAt      string   `json:"finished_at,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Attempts        int      `json:"attempts"`
	ErrorCode       string   `json:"error_code,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	TemplateHash    string   `json:"template_hash"`
	BlocksSummary   string   `json:"blocks_summary,omitempty"`
	ErrorEvents     int      `json:"error_events"`
}

type Report struct {
	RunID         string  `json:"run_id"`
	JobID         string  `json:"job_id"`
	JobName       string  `json:"job_name"`
	Status        string  `json:"status"`
	Parallelism   int     `json:"parallelism"`
	FailurePolicy string  `json:"failure_policy"`
	Cancelled     bool    `json:"cancelled"`
	StartedAt     string  `json:"started_at"`
	EndedAt       string  `json:"ended_at"`
	Summary       Summary `json:"summary"`
	Devices       []Row   `json:"devices"`
}

// Build assembles the report of a terminal run.
func Build(ctx context.Context, db *gorm.DB, runID uuid.UUID) (*Report, error) {
	var r models.Run
	if err := db.WithContext(ctx).First(&r, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, faults.NewNotFoundError("run", runID.String())
		}
		return nil, err
	}
	if !r.Status.Terminal() {
		return nil, faults.NewConflictError("run", "report is available once the run has finished")
	}

	var job models.Job
	if err := db.WithContext(ctx).First(&job, "id = ?", r.JobID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var devices models.RunDevices
	if err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Order("device_id ASC").
		Find(&devices).Error; err != nil {
		return nil, err
	}

	errorEvents, err := countErrors(ctx, db, runID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:         r.ID.String(),
		JobID:         r.JobID.String(),
		JobName:       job.Name,
		Status:        string(r.Status),
		Parallelism:   r.Parallelism,
		FailurePolicy: r.FailurePolicy,
		Cancelled:     r.Cancelled,
		StartedAt:     timestamp(&r.StartedAt),
		EndedAt:       timestamp(r.EndedAt),
		Devices:       make([]Row, 0, len(devices)),
	}

	for _, rd := range devices {
		row := Row{
			Position:      rd.Position,
			DeviceID:      rd.DeviceID.String(),
			Hostname:      rd.Hostname,
			MgmtIP:        rd.MgmtIP,
			Port:          rd.Port,
			Vendor:        string(rd.Vendor),
			Status:        string(rd.Status),
			StartedAt:     timestamp(rd.StartedAt),
			FinishedAt:    timestamp(rd.FinishedAt),
			Attempts:      rd.Attempts,
			ErrorCode:     rd.ErrorCode,
			ErrorMessage:  rd.ErrorMessage,
			TemplateHash:  rd.TemplateHash,
			BlocksSummary: blocksSummary(rd.Blocks),
			ErrorEvents:   errorEvents[rd.DeviceID],
		}
		if rd.StartedAt != nil && rd.FinishedAt != nil {
			d := rd.FinishedAt.Sub(*rd.StartedAt).Round(time.Millisecond).Seconds()
			row.DurationSeconds = &d
		}

		rep.Summary.Total++
		switch rd.Status {
		case models.DeviceStatusSuccess:
			rep.Summary.Success++
		case models.DeviceStatusFailed:
			rep.Summary.Failed++
		case models.DeviceStatusSkipped:
			rep.Summary.Skipped++
		}

		rep.Devices = append(rep.Devices, row)
	}

	return rep, nil
}

func countErrors(ctx context.Context, db *gorm.DB, runID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		DeviceID uuid.UUID
		Count    int
	}

	err := db.WithContext(ctx).
		Model(&models.Event{}).
		Select("device_id, COUNT(*) AS count").
		Where("run_id = ? AND level = ? AND device_id IS NOT NULL", runID, models.LevelError).
		Group("device_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.DeviceID] = row.Count
	}
	return counts, nil
}

// JSON renders the report as indented JSON with a trailing newline.
func (r *Report) JSON() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// CSV renders one row per device in queue order.
func (r *Report) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Columns); err != nil {
		return nil, err
	}
	for _, row := range r.Devices {
		duration := ""
		if row.DurationSeconds != nil {
			duration = strconv.FormatFloat(*row.DurationSeconds, 'f', 3, 64)
		}

		if err := w.Write([]string{
			row.Hostname,
			row.MgmtIP,
			strconv.Itoa(row.Port),
			row.Vendor,
			row.Status,
			row.StartedAt,
			row.FinishedAt,
			duration,
			row.ErrorCode,
			row.ErrorMessage,
			row.TemplateHash,
			row.BlocksSummary,
		}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename is the suggested download name for a format.
func (r *Report) Filename(ext string) string {
	return fmt.Sprintf("run-%s.%s", r.RunID, ext)
}

func timestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// blocksSummary flattens recorded block outcomes to "name=status" pairs.
func blocksSummary(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var blocks []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Name+"="+b.Status)
	}
	return strings.Join(parts, "; ")
}
