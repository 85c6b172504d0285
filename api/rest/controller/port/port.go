package port

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/internal/console"
	"github.com/switchyard-net/switchyard/internal/models"
)

type Controller struct {
	transport string
	basePath  string
}

func New(transport, basePath string) *Controller {
	return &Controller{transport: transport, basePath: basePath}
}

type ListResponse struct {
	Transport string `json:"transport"`
	BasePath  string `json:"base_path,omitempty"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Available []int  `json:"available"`
}

// List reports which console ports are present on this host. Ports
// behind a console server cannot be probed, so every port in range is
// listed.
func (ctrl *Controller) List(c echo.Context) error {
	resp := ListResponse{
		Transport: ctrl.transport,
		Min:       models.MinPort,
		Max:       models.MaxPort,
	}

	if ctrl.transport == console.TransportSSH {
		for p := models.MinPort; p <= models.MaxPort; p++ {
			resp.Available = append(resp.Available, p)
		}
	} else {
		resp.BasePath = ctrl.basePath
		resp.Available = console.Discover(ctrl.basePath)
	}

	if resp.Available == nil {
		resp.Available = []int{}
	}

	return c.JSON(http.StatusOK, resp)
}
