package bind

import (
	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/api/rest/controller/device"
	"github.com/switchyard-net/switchyard/api/rest/controller/event"
	"github.com/switchyard-net/switchyard/api/rest/controller/job"
	"github.com/switchyard-net/switchyard/api/rest/controller/port"
	"github.com/switchyard-net/switchyard/api/rest/controller/run"
	"github.com/switchyard-net/switchyard/api/rest/controller/stats"
	internalevent "github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/scheduler"
	"gorm.io/gorm"
)

// Dependencies are the long-lived handles the controllers share.
type Dependencies struct {
	DB        *gorm.DB
	Bus       internalevent.Bus
	Scheduler *scheduler.Scheduler
	Policy    *policy.Policy
	Transport string
	BasePath  string
}

func All(g *echo.Group, deps Dependencies) {
	Public(g, deps)
}

func Public(g *echo.Group, deps Dependencies) {
	// jobs
	{
		ctrl := job.New(deps.DB, deps.Bus)
		g.GET("/jobs", ctrl.List)
		g.GET("/jobs/:id", ctrl.Get)
		g.POST("/jobs", ctrl.Post)
		g.DELETE("/jobs/:id", ctrl.Delete)
		g.GET("/jobs/:id/devices", ctrl.Devices)
	}

	// devices
	{
		ctrl := device.New(deps.DB, deps.Policy)
		g.POST("/jobs/:id/import", ctrl.Import)
		g.POST("/jobs/:id/devices", ctrl.Post)
		g.GET("/jobs/:id/devices/:device_id/preview", ctrl.Preview)
		g.POST("/jobs/:id/preview", ctrl.PreviewJob)
		g.POST("/jobs/:id/dry-run", ctrl.DryRun)
		g.GET("/devices/:id", ctrl.Get)
		g.PATCH("/devices/:id", ctrl.Patch)
		g.DELETE("/devices/:id", ctrl.Delete)
	}

	// runs
	{
		ctrl := run.New(deps.Scheduler)
		g.POST("/runs", ctrl.Post)
		g.GET("/runs", ctrl.List)
		g.GET("/runs/:id", ctrl.Get)
		g.GET("/runs/:id/devices", ctrl.Devices)
		g.GET("/runs/:id/events", ctrl.Events)
		g.POST("/runs/:id/cancel", ctrl.Cancel)
		g.GET("/runs/:id/report.json", ctrl.ReportJSON)
		g.GET("/runs/:id/report.csv", ctrl.ReportCSV)
	}

	// stats
	g.GET("/stats", stats.New(deps.DB).Get)

	// ports
	g.GET("/ports", port.New(deps.Transport, deps.BasePath).List)

	// live events
	g.GET("/events", event.New(deps.Bus).Stream)
}
