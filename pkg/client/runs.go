package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
)

// RunsService provides access to runs and their exports.
type RunsService struct {
	client *Client
}

// Get fetches a run.
func (s *RunsService) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	if err := s.client.do(ctx, http.MethodGet, "/v1/runs/"+id.String(), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Devices lists the run's device rows in queue order.
func (s *RunsService) Devices(ctx context.Context, id uuid.UUID) (models.RunDevices, error) {
	var devices models.RunDevices
	if err := s.client.do(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Events returns the run's event log after the given event id.
// A zero afterID starts from the beginning.
func (s *RunsService) Events(ctx context.Context, id uuid.UUID, afterID uint64, limit int) (models.Events, error) {
	query := url.Values{}
	if afterID > 0 {
		query.Set("after_id", strconv.FormatUint(afterID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var events models.Events
	if err := s.client.do(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/events", query, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Report downloads the raw export in the requested format.
func (s *RunsService) Report(ctx context.Context, id uuid.UUID, format string) ([]byte, error) {
	switch format {
	case "json", "csv":
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}

	resp, err := s.client.send(ctx, http.MethodGet, "/v1/runs/"+id.String()+"/report."+format, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
