package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/switchyard-net/switchyard/pkg/log"
)

var variables = defaults()

// Process the environment variables set for switchyard.
func Process() error {
	if err := envconfig.Process("switchyard", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	if variables.DefaultParallelism < 1 {
		return errors.Errorf("default parallelism must be >= 1, got %d", variables.DefaultParallelism)
	}

	if variables.MaxParallelism < variables.DefaultParallelism {
		return errors.Errorf(
			"max parallelism %d is below default parallelism %d",
			variables.MaxParallelism,
			variables.DefaultParallelism,
		)
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Override replaces the active environment. Intended for tests
// and for the offline CLI commands that never call Process.
func Override(e Environment) {
	*variables = e
}

// Defaults returns an Environment populated with the tag defaults
// without reading the process environment.
func Defaults() Environment {
	return *defaults()
}

func defaults() *Environment {
	e := new(Environment)
	if err := envconfig.Process("switchyard_defaults_unset", e); err != nil {
		panic(err)
	}
	return e
}

// Environment defines the environment variables used
// by switchyard.
type Environment struct {
	LogLevel              string        `default:"info"`
	Port                  int           `default:"8080"`
	DatabaseType          string        `default:"sqlite"`
	DatabaseDSN           string        `default:"file:switchyard.db?_busy_timeout=5000&_foreign_keys=on"`
	DefaultParallelism    int           `default:"4"`
	MaxParallelism        int           `default:"16"`
	RetryAttempts         uint64        `default:"3"`
	RetryInitialInterval  time.Duration `default:"1s"`
	RetryMaxInterval      time.Duration `default:"10s"`
	FailurePolicy         string        `default:"continue"`
	Transport             string        `default:"serial"`
	SerialBasePath        string        `default:"/dev/port"`
	SerialBaudRate        int           `default:"9600"`
	PromptTimeout         time.Duration `default:"10s"`
	ConsoleServerAddr     string        `default:""`
	ConsoleServerUser     string        `default:""`
	ConsoleServerPassword string        `default:""`
	KnownHostsPath        string        `default:""`
	PolicyFile            string        `default:""`
	APIPasscode           string        `default:""`
	CORSOrigins           []string      `default:"*"`
	ShutdownTimeout       time.Duration `default:"10s"`
}
