package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/switchyard-net/switchyard/api/rest/bind"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/scheduler"
	"github.com/switchyard-net/switchyard/pkg/env"
	"gorm.io/gorm"
)

// PasscodeHeader carries the optional API passcode.
const PasscodeHeader = "X-Passcode"

var (
	metricsOnce sync.Once
	metrics     *prometheus.Prometheus
)

type Options struct {
	DB        *gorm.DB
	Bus       event.Bus
	Scheduler *scheduler.Scheduler
	Policy    *policy.Policy
	Env       env.Environment
}

type Server struct {
	echo *echo.Echo
	port int
}

// New wires switchyard's HTTP API without starting it.
func New(opts Options) *Server {
	if opts.Bus == nil {
		opts.Bus = event.Nop{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.Env.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, PasscodeHeader},
	}))

	if opts.Env.APIPasscode != "" {
		e.Use(passcode(opts.Env.APIPasscode))
	}

	// health
	e.GET("/health", health{db: opts.DB}.Health)

	// metrics
	metricsOnce.Do(func() {
		metrics = prometheus.NewPrometheus("switchyard", nil)
	})
	metrics.Use(e)

	// REST
	bind.All(e.Group("/v1"), bind.Dependencies{
		DB:        opts.DB,
		Bus:       opts.Bus,
		Scheduler: opts.Scheduler,
		Policy:    opts.Policy,
		Transport: opts.Env.Transport,
		BasePath:  opts.Env.SerialBasePath,
	})

	return &Server{echo: e, port: opts.Env.Port}
}

// passcode guards every route but the health check. Browsers' event
// streams cannot set headers, so the query parameter is accepted too.
func passcode(expected string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + PasscodeHeader + ",query:passcode",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Request().Method == http.MethodOptions
		},
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1, nil
		},
	})
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%v", s.port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
