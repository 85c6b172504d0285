package client

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/switchyard-net/switchyard/pkg/env"
)

const (
	envBaseURL = "SWITCHYARD_BASE_URL"
	envHost    = "SWITCHYARD_HOST"
)

// Config captures how the CLI reaches a switchyard instance.
type Config struct {
	BaseURL     *url.URL
	HTTPTimeout time.Duration
	Passcode    string
}

// LoadConfig resolves the API location from the environment, falling
// back to the local instance on the configured port.
func LoadConfig(vars env.Environment) (*Config, error) {
	baseURL := strings.TrimSpace(os.Getenv(envBaseURL))

	if baseURL == "" {
		host := strings.TrimSpace(os.Getenv(envHost))
		if host == "" {
			host = "127.0.0.1"
		}

		if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
			baseURL = host
		} else {
			baseURL = "http://" + host
		}

		if !strings.Contains(baseURL[strings.Index(baseURL, "://")+3:], ":") {
			port := vars.Port
			if port == 0 {
				port = 8080
			}
			baseURL = fmt.Sprintf("%s:%d", strings.TrimRight(baseURL, "/"), port)
		}
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	return &Config{
		BaseURL:     u,
		HTTPTimeout: 10 * time.Second,
		Passcode:    vars.APIPasscode,
	}, nil
}
