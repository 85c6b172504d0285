package run

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/report"
	"github.com/switchyard-net/switchyard/internal/run"
	"github.com/switchyard-net/switchyard/internal/scheduler"
)

type Controller struct {
	scheduler *scheduler.Scheduler
}

func New(s *scheduler.Scheduler) *Controller {
	return &Controller{scheduler: s}
}

// Post accepts a run and returns it while devices are pushed in the
// background.
func (ctrl *Controller) Post(c echo.Context) error {
	req := &scheduler.StartRequest{}

	if err := c.Bind(req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	r, err := ctrl.scheduler.Start(c.Request().Context(), *req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, r)
}

func (ctrl *Controller) List(c echo.Context) error {
	req := run.ListRequest{Status: models.RunStatus(c.QueryParam("status"))}

	if jobID := c.QueryParam("job_id"); jobID != "" {
		id, err := uuid.Parse(jobID)
		if err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
		req.JobID = id
	}

	var err error
	if req.Limit, err = intParam(c, "limit"); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	if req.Offset, err = intParam(c, "offset"); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	runs, err := ctrl.scheduler.Store().List(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, runs)
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	r, err := ctrl.scheduler.Store().Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, r)
}

// Devices returns the run's per-device rows in queue order.
func (ctrl *Controller) Devices(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	ctx := c.Request().Context()
	if _, err := ctrl.scheduler.Store().Get(ctx, id); err != nil {
		return err
	}

	devices, err := ctrl.scheduler.Store().Devices(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, devices)
}

// Events returns the run's audit log. Pollers pass after_id to fetch
// only new entries.
func (ctrl *Controller) Events(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	req := event.ListRequest{RunID: id}

	if deviceID := c.QueryParam("device_id"); deviceID != "" {
		did, err := uuid.Parse(deviceID)
		if err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
		req.DeviceID = &did
	}

	if after := c.QueryParam("after_id"); after != "" {
		if req.AfterID, err = strconv.ParseUint(after, 10, 64); err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
	}

	if req.Limit, err = intParam(c, "limit"); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	ctx := c.Request().Context()
	if _, err := ctrl.scheduler.Store().Get(ctx, id); err != nil {
		return err
	}

	events, err := ctrl.scheduler.Events().List(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, events)
}

func (ctrl *Controller) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	r, err := ctrl.scheduler.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, r)
}

func (ctrl *Controller) ReportJSON(c echo.Context) error {
	rep, err := ctrl.report(c)
	if err != nil {
		return err
	}

	out, err := rep.JSON()
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+rep.Filename("json"))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, out)
}

func (ctrl *Controller) ReportCSV(c echo.Context) error {
	rep, err := ctrl.report(c)
	if err != nil {
		return err
	}

	out, err := rep.CSV()
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+rep.Filename("csv"))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", out)
}

func (ctrl *Controller) report(c echo.Context) (*report.Report, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.ErrBadRequest.SetInternal(err)
	}

	return report.Build(c.Request().Context(), ctrl.scheduler.Store().DB(), id)
}

func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
