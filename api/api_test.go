package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/switchyard-net/switchyard/api/rest/service/stats"
	"github.com/switchyard-net/switchyard/internal/console"
	"github.com/switchyard-net/switchyard/internal/console/consoletest"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/render"
	"github.com/switchyard-net/switchyard/internal/report"
	"github.com/switchyard-net/switchyard/internal/scheduler"
	"github.com/switchyard-net/switchyard/internal/testutil"
	"github.com/switchyard-net/switchyard/internal/worker"
	"github.com/switchyard-net/switchyard/pkg/env"
	"gorm.io/gorm"
)

const inventoryCSV = `hostname,mgmt_ip,mask,gateway,vendor
sw-01,10.0.0.11,255.255.255.0,10.0.0.1,generic
sw-02,10.0.0.12,/24,10.0.0.1,cisco_ios
sw-03,10.0.0.999,24,10.0.0.1,
sw-04,10.0.0.14,255.255.255.0,10.0.0.1,generic
sw-05,10.0.0.15,255.255.255.0,10.0.0.1,generic
`

type testServer struct {
	handler   http.Handler
	db        *gorm.DB
	scheduler *scheduler.Scheduler
}

func newTestServer(t *testing.T, dialer console.Dialer, vars env.Environment) *testServer {
	t.Helper()

	db := testutil.OpenTestDB(t)
	bus := event.New()
	s := scheduler.New(context.Background(), db, bus, dialer, scheduler.Config{
		DefaultParallelism: 2,
		MaxParallelism:     4,
		FailurePolicy:      "continue",
		Retry:              worker.RetrySettings{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		PromptTimeout:      time.Second,
	})
	t.Cleanup(s.Wait)

	srv := New(Options{DB: db, Bus: bus, Scheduler: s, Policy: policy.Default(), Env: vars})
	return &testServer{handler: srv.Handler(), db: db, scheduler: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	contentType := echo.MIMEApplicationJSON
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
		contentType = "text/csv"
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (ts *testServer) createJob(t *testing.T) *models.Job {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/v1/jobs", map[string]string{"name": "branch rollout", "customer": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job models.Job
	decode(t, rec, &job)
	return &job
}

func (ts *testServer) assignPorts(t *testing.T, devices models.Devices) {
	t.Helper()

	for i, d := range devices {
		rec := ts.do(t, http.MethodPatch, "/v1/devices/"+d.ID.String(), map[string]int{"port": i + 1})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func (ts *testServer) devices(t *testing.T, jobID fmt.Stringer) models.Devices {
	t.Helper()

	rec := ts.do(t, http.MethodGet, "/v1/jobs/"+jobID.String()+"/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var devices models.Devices
	decode(t, rec, &devices)
	return devices
}

func TestRolloutLifecycle(t *testing.T) {
	bank := consoletest.Bank{
		1: &consoletest.Device{},
		2: &consoletest.Device{Output: map[string]string{"show ip interface brief": "Vlan1  10.0.0.12  YES manual up  up"}},
		3: &consoletest.Device{},
		4: &consoletest.Device{},
	}
	ts := newTestServer(t, bank, env.Defaults())
	job := ts.createJob(t)

	// import keeps the valid rows and reports the bad one
	rec := ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/import", inventoryCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var imported inventory.Result
	decode(t, rec, &imported)
	assert.Len(t, imported.Accepted, 4)
	require.Len(t, imported.Errors, 1)
	assert.Equal(t, 3, imported.Errors[0].Row)
	assert.Equal(t, "10.0.0.99", imported.Errors[0].Suggestion)

	// without ports nothing can be checked or started
	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/dry-run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	devices := ts.devices(t, job.ID)
	require.Len(t, devices, 4)
	ts.assignPorts(t, devices)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/dry-run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dry policy.Result
	decode(t, rec, &dry)
	assert.True(t, dry.Success)
	require.Len(t, dry.Devices, 4)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var previews render.Previews
	decode(t, rec, &previews)
	require.Len(t, previews, 4)
	for i, p := range previews {
		assert.Equal(t, dry.Devices[i].Hash, p.Hash)
	}

	rec = ts.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{"job_id": job.ID, "parallelism": 2})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started models.Run
	decode(t, rec, &started)
	assert.Equal(t, models.RunStatusRunning, started.Status)

	ts.scheduler.Wait()

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var finished models.Run
	decode(t, rec, &finished)
	assert.Equal(t, models.RunStatusSuccess, finished.Status)

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String()+"/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows models.RunDevices
	decode(t, rec, &rows)
	require.Len(t, rows, 4)
	for i, rd := range rows {
		// the dry-run hash is what the run pushed
		assert.Equal(t, dry.Devices[i].Hash, rd.TemplateHash)
		assert.Equal(t, models.DeviceStatusSuccess, rd.Status)
	}

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/runs/%s/events?device_id=%s", started.ID, rows[0].DeviceID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events models.Events
	decode(t, rec, &events)
	require.NotEmpty(t, events)
	for _, e := range events {
		require.NotNil(t, e.DeviceID)
		assert.Equal(t, rows[0].DeviceID, *e.DeviceID)
	}

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String()+"/report.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), ".csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), strings.Join(report.Columns, ",")))
	first := rec.Body.String()

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String()+"/report.csv", nil)
	assert.Equal(t, first, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String()+"/report.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep report.Report
	decode(t, rec, &rep)
	assert.Equal(t, report.Summary{Total: 4, Success: 4}, rep.Summary)

	rec = ts.do(t, http.MethodGet, "/v1/runs?job_id="+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs models.Runs
	decode(t, rec, &runs)
	assert.Len(t, runs, 1)
}

func TestRunConflictsAndDeviceLock(t *testing.T) {
	release := make(chan struct{})
	bank := consoletest.Bank{1: &consoletest.Device{}, 2: &consoletest.Device{}}
	dialer := console.DialerFunc(func(ctx context.Context, port int) (io.ReadWriteCloser, error) {
		<-release
		return bank.Dial(ctx, port)
	})

	ts := newTestServer(t, dialer, env.Defaults())
	job, devices := testutil.SeedJob(t, ts.db, 2)

	rec := ts.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{"job_id": job.ID})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started models.Run
	decode(t, rec, &started)

	rec = ts.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{"job_id": job.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "conflict", body.Code)

	rec = ts.do(t, http.MethodPatch, "/v1/devices/"+devices[0].ID.String(), map[string]int{"port": 9})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/devices/"+devices[0].ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/runs/"+started.ID.String()+"/report.json", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	ts.scheduler.Wait()

	rec = ts.do(t, http.MethodPost, "/v1/runs/"+started.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	testutil.AssertCount(t, ts.db, &models.Run{}, 0)
	testutil.AssertCount(t, ts.db, &models.Device{}, 0)
}

func TestDuplicatePortRejectedBeforeRendering(t *testing.T) {
	ts := newTestServer(t, consoletest.Bank{}, env.Defaults())
	job, devices := testutil.SeedJob(t, ts.db, 3)

	// bypass the edit validation to reach the run precondition
	require.NoError(t, ts.db.Model(devices[2]).Update("port", 2).Error)

	for _, path := range []string{"/v1/jobs/" + job.ID.String() + "/dry-run", "/v1/runs"} {
		rec := ts.do(t, http.MethodPost, path, map[string]interface{}{"job_id": job.ID})
		require.Equal(t, http.StatusConflict, rec.Code, path)

		var body ErrorResponse
		decode(t, rec, &body)
		assert.Contains(t, body.Message, "port 2")
	}

	testutil.AssertCount(t, ts.db, &models.Run{}, 0)
	testutil.AssertCount(t, ts.db, &models.RunDevice{}, 0)
}

func TestMultipartImportAndManualDevice(t *testing.T) {
	ts := newTestServer(t, consoletest.Bank{}, env.Defaults())
	job := ts.createJob(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "inventory.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(inventoryCSV))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/import", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var imported inventory.Result
	decode(t, rec, &imported)
	assert.Len(t, imported.Accepted, 4)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/devices", map[string]interface{}{
		"hostname": "sw-06", "mgmt_ip": "10.0.0.16", "mask": "24", "gateway": "10.0.0.1", "port": 6,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/devices", map[string]interface{}{
		"hostname": "sw-07", "mgmt_ip": "10.0.0.17", "mask": "24", "gateway": "10.0.0.1", "port": 6,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "validation_failed", body.Code)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+job.ID.String()+"/devices", map[string]interface{}{"hostname": "sw-08"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	devices := ts.devices(t, job.ID)
	require.Len(t, devices, 5)
	assert.Equal(t, "sw-06", devices[4].Hostname)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/devices/%s/preview", job.ID, devices[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var preview render.Preview
	decode(t, rec, &preview)
	assert.Len(t, preview.ShortHash, render.ShortHashLen)
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, consoletest.Bank{}, env.Defaults())

	rec := ts.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/runs/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/jobs", map[string]string{"customer": "acme"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "name: is required", body.Message)

	rec = ts.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, consoletest.Bank{}, env.Defaults())
	job, _ := testutil.SeedJob(t, ts.db, 0)
	r := testutil.SeedRun(t, ts.db, job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// publish until the stream has subscribed and the request ends
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.scheduler.Bus().Publish(event.ForRun(event.TypeRunStarted, r))
				ts.scheduler.Bus().Publish(event.Event{Type: event.TypeRunStarted, RunID: job.ID})
			}
		}
	}()

	req := httptest.NewRequest(http.MethodGet, "/v1/events?run_id="+r.ID.String(), nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, ": ping"))
	assert.Contains(t, body, "event: run_started\ndata: ")
	assert.Contains(t, body, r.ID.String())
	assert.NotContains(t, body, `"run_id":"`+job.ID.String())

	rec = ts.do(t, http.MethodGet, "/v1/events?run_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasscode(t *testing.T) {
	vars := env.Defaults()
	vars.APIPasscode = "s3cret"
	ts := newTestServer(t, consoletest.Bank{}, vars)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(PasscodeHeader, "wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(PasscodeHeader, "s3cret")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsActiveRuns(t *testing.T) {
	ts := newTestServer(t, consoletest.Bank{}, env.Defaults())
	job, _ := testutil.SeedJob(t, ts.db, 0)
	r := testutil.SeedRun(t, ts.db, job.ID)
	require.NoError(t, ts.db.Model(r).Update("status", models.RunStatusRunning).Error)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	decode(t, rec, &body)
	assert.Equal(t, Healthy, body.Status)
	assert.Equal(t, int64(1), body.ActiveRuns)

	rec = ts.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary stats.StatsResponse
	decode(t, rec, &summary)
	assert.Equal(t, int64(1), summary.Runs.Total)
	assert.Equal(t, int64(1), summary.Runs.Active)
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{faults.NewValidationError(faults.Issue{Field: "mgmt_ip", Message: "invalid IPv4"}), http.StatusUnprocessableEntity, "validation_failed"},
		{&faults.PreconditionError{Operation: "rollout", Precondition: "job has no devices"}, http.StatusUnprocessableEntity, "precondition_failed"},
		{&faults.ConflictError{Resource: "port", Reason: "port 2 assigned twice", Port: 2}, http.StatusConflict, "conflict"},
		{faults.NewNotFoundError("run", "x"), http.StatusNotFound, "not_found"},
		{echo.ErrBadRequest, http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		status, body := Translate(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Code)
		assert.NotContains(t, body.Message, "disk on fire")
	}
}
