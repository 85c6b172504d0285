package stats

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/api/rest/service/stats"
	"gorm.io/gorm"
)

type Controller struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Controller {
	return &Controller{db: db}
}

// Get returns aggregated rollout statistics.
func (ctrl *Controller) Get(c echo.Context) error {
	resp, err := stats.Service(c.Request().Context()).WithDatabase(ctrl.db).Get()
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
