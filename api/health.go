package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/gorm"
)

var startedAt = time.Now()

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status     Status        `json:"status"`
	Uptime     time.Duration `json:"uptime"`
	Database   string        `json:"database"`
	ActiveRuns int64         `json:"active_runs"`
}

// Status enumerates the health states of switchyard.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
)

type health struct {
	db *gorm.DB
}

// Health reports uptime, database reachability and the number of runs
// in progress. An unreachable database yields 503.
func (h health) Health(c echo.Context) error {
	resp := HealthResponse{
		Status:   Healthy,
		Uptime:   time.Since(startedAt),
		Database: "ok",
	}

	if h.db == nil {
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.Warn("health check failed to reach database", "error", err)
		resp.Status = Degraded
		resp.Database = "unreachable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	if err := h.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("status = ?", models.RunStatusRunning).
		Count(&resp.ActiveRuns).Error; err != nil {
		log.Warn("health check failed to count runs", "error", err)
	}

	return c.JSON(http.StatusOK, resp)
}
