package job

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	jsvc "github.com/switchyard-net/switchyard/api/rest/service/job"
	"github.com/switchyard-net/switchyard/internal/event"
	"gorm.io/gorm"
)

type Controller struct {
	db  *gorm.DB
	bus event.Bus
}

func New(db *gorm.DB, bus event.Bus) *Controller {
	return &Controller{db: db, bus: bus}
}

func (ctrl *Controller) service(c echo.Context) jsvc.Job {
	return jsvc.Service(c.Request().Context()).WithDatabase(ctrl.db).WithBus(ctrl.bus)
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	jobs, err := ctrl.service(c).List(req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, jobs)
}

func parseListRequest(c echo.Context) (req *jsvc.ListRequest, err error) {
	req = &jsvc.ListRequest{
		Customer: c.QueryParam("customer"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.ParseUint(limit, 10, 64); err != nil {
			return nil, err
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return nil, err
		}
	}

	return
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	j, err := ctrl.service(c).Get(id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, j)
}

func (ctrl *Controller) Post(c echo.Context) error {
	req := &jsvc.CreateRequest{}

	if err := c.Bind(req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	j, err := ctrl.service(c).Create(req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, j)
}

func (ctrl *Controller) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if err := ctrl.service(c).Delete(id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Devices lists the devices of a job in import order.
func (ctrl *Controller) Devices(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	devices, err := ctrl.service(c).Devices(id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, devices)
}
