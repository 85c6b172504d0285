package device

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	dsvc "github.com/switchyard-net/switchyard/api/rest/service/device"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/policy"
	"gorm.io/gorm"
)

// maxImportBytes bounds an uploaded inventory.
const maxImportBytes = 4 << 20

type Controller struct {
	db     *gorm.DB
	policy *policy.Policy
}

func New(db *gorm.DB, p *policy.Policy) *Controller {
	if p == nil {
		p = policy.Default()
	}
	return &Controller{db: db, policy: p}
}

func (ctrl *Controller) service(c echo.Context) dsvc.Device {
	return dsvc.Service(c.Request().Context()).WithDatabase(ctrl.db)
}

// Import accepts a CSV inventory either as the multipart field "file"
// or as the raw request body.
func (ctrl *Controller) Import(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	body, err := inventoryBody(c)
	if err != nil {
		return err
	}

	res, err := ctrl.service(c).Import(jobID, body)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}

func inventoryBody(c echo.Context) (io.Reader, error) {
	req := c.Request()

	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required").SetInternal(err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxImportBytes))
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxImportBytes))
	if err != nil {
		return nil, echo.ErrBadRequest.SetInternal(err)
	}
	return bytes.NewReader(data), nil
}

type CreateRequest struct {
	Hostname string `json:"hostname" validate:"required"`
	MgmtIP   string `json:"mgmt_ip" validate:"required"`
	Mask     string `json:"mask" validate:"required"`
	Gateway  string `json:"gateway" validate:"required"`
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	MgmtVLAN *int   `json:"mgmt_vlan"`
	Port     *int   `json:"port"`
}

func (r *CreateRequest) row() inventory.Row {
	row := inventory.Row{
		Hostname: r.Hostname,
		MgmtIP:   r.MgmtIP,
		Mask:     r.Mask,
		Gateway:  r.Gateway,
		Vendor:   r.Vendor,
		Model:    r.Model,
	}
	if r.MgmtVLAN != nil {
		row.MgmtVLAN = strconv.Itoa(*r.MgmtVLAN)
	}
	if r.Port != nil {
		row.Port = strconv.Itoa(*r.Port)
	}
	return row
}

// Post adds one manually entered device to a job.
func (ctrl *Controller) Post(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	req := &CreateRequest{}
	if err := c.Bind(req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return err
	}

	d, err := ctrl.service(c).Create(jobID, req.row())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, d)
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	d, err := ctrl.service(c).Get(id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, d)
}

// Patch edits the mutable fields of a device. A port of 0 unassigns it.
func (ctrl *Controller) Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	req := inventory.Patch{}
	if err := c.Bind(&req); err != nil {
		return err
	}

	d, err := ctrl.service(c).Update(id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, d)
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

// Preview renders a single device of a job.
func (ctrl *Controller) Preview(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	deviceID, err := uuid.Parse(c.Param("device_id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	svc := ctrl.service(c)

	d, err := svc.Get(deviceID)
	if err != nil {
		return err
	}
	if d.JobID != jobID {
		return faults.NewNotFoundError("device", deviceID.String())
	}

	p, err := svc.Preview(deviceID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, p)
}

// PreviewJob renders every device of a job.
func (ctrl *Controller) PreviewJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	previews, err := ctrl.service(c).PreviewJob(jobID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, previews)
}

// DryRun evaluates the job against the configured policy. Rule
// violations come back with success=false; a missing or shared port is
// an error response instead.
func (ctrl *Controller) DryRun(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	res, err := ctrl.service(c).DryRun(jobID, ctrl.policy)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}
