package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/pkg/log"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type conflictDetails struct {
	Resource string `json:"resource"`
	Port     int    `json:"port,omitempty"`
}

// ErrorHandler renders domain faults as structured JSON. Unknown
// errors are logged and reported without their internal text.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := Translate(err)
	if status >= http.StatusInternalServerError {
		log.Error(
			"request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Error("failed to write error response", "error", err)
	}
}

// Translate maps an error to its HTTP status and response body.
func Translate(err error) (int, ErrorResponse) {
	var (
		validation   *faults.ValidationError
		precondition *faults.PreconditionError
		conflict     *faults.ConflictError
		notFound     *faults.NotFoundError
		httpErr      *echo.HTTPError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Code:    "validation_failed",
			Message: summary(validation.Issues, "validation failed"),
			Details: validation.Issues,
		}
	case errors.As(err, &precondition):
		resp := ErrorResponse{
			Code:    "precondition_failed",
			Message: precondition.Precondition,
		}
		if len(precondition.Issues) > 0 {
			resp.Details = precondition.Issues
		}
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{
			Code:    "conflict",
			Message: conflict.Reason,
			Details: conflictDetails{Resource: conflict.Resource, Port: conflict.Port},
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{
			Code:    "not_found",
			Message: notFound.Error(),
		}
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, ErrorResponse{
			Code:    strings.ReplaceAll(strings.ToLower(http.StatusText(httpErr.Code)), " ", "_"),
			Message: msg,
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Code:    "internal",
		Message: "internal server error",
	}
}

func summary(issues []faults.Issue, fallback string) string {
	switch len(issues) {
	case 0:
		return fallback
	case 1:
		return issues[0].String()
	}
	return issues[0].String() + " (and more)"
}
