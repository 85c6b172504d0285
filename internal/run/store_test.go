package run

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/inventory"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/render"
	"github.com/switchyard-net/switchyard/internal/testutil"
)

func TestStartSnapshotsDevicesInQueueOrder(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, devices := testutil.SeedJob(t, db, 3)

	store := NewStore(db)
	r, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 2})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusRunning, r.Status)
	assert.Equal(t, string(FailurePolicyContinue), r.FailurePolicy)
	require.Len(t, r.Devices, 3)

	rows, err := store.Devices(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for i, rd := range rows {
		d := devices[i]
		assert.Equal(t, i+1, rd.Position)
		assert.Equal(t, d.ID, rd.DeviceID)
		assert.Equal(t, models.DeviceStatusQueued, rd.Status)
		assert.Equal(t, *d.Port, rd.Port)

		preview, err := render.Render(d)
		require.NoError(t, err)
		assert.Equal(t, preview.Hash, rd.TemplateHash)

		var cmds []string
		require.NoError(t, json.Unmarshal(rd.Commands, &cmds))
		assert.Equal(t, preview.Commands, cmds)

		snap, err := render.Render(rd.Snapshot())
		require.NoError(t, err)
		assert.Equal(t, rd.TemplateHash, snap.Hash)
	}
}

func TestDryRunHashEqualsRunHash(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, devices := testutil.SeedJob(t, db, 4)

	dry, err := policy.Default().DryRun(devices)
	require.NoError(t, err)
	require.True(t, dry.Success)

	r, err := NewStore(db).Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.NoError(t, err)

	for i, rd := range r.Devices {
		assert.Equal(t, dry.Devices[i].Hash, rd.TemplateHash)
	}
}

func TestStartRejectsSecondActiveRun(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, _ := testutil.SeedJob(t, db, 2)

	store := NewStore(db)
	_, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.NoError(t, err)

	_, err = store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.ErrorIs(t, err, faults.ErrConflict)

	testutil.AssertCount(t, db, &models.Run{}, 1)
	testutil.AssertCount(t, db, &models.RunDevice{}, 2)

	active, err := store.HasActive(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActiveJobIndexBlocksRacingInsert(t *testing.T) {
	db := testutil.OpenTestDB(t)
	job, _ := testutil.SeedJob(t, db, 1)

	jobID := job.ID
	first := &models.Run{ID: uuid.New(), JobID: job.ID, Parallelism: 1, Status: models.RunStatusRunning, ActiveJobID: &jobID}
	require.NoError(t, db.Create(first).Error)

	second := &models.Run{ID: uuid.New(), JobID: job.ID, Parallelism: 1, Status: models.RunStatusRunning, ActiveJobID: &jobID}
	assert.Error(t, db.Create(second).Error)
}

func TestStartRejectsDuplicatePortsWithoutRows(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, devices := testutil.SeedJob(t, db, 3)
	require.NoError(t, db.Model(devices[2]).Update("port", 2).Error)

	_, err := NewStore(db).Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.ErrorIs(t, err, faults.ErrConflict)

	var ce *faults.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Port)

	testutil.AssertCount(t, db, &models.Run{}, 0)
	testutil.AssertCount(t, db, &models.RunDevice{}, 0)
}

func TestStartValidation(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	job, _ := testutil.SeedJob(t, db, 1)
	_, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 0})
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = store.Start(ctx, StartRequest{JobID: uuid.New(), Parallelism: 1})
	assert.ErrorIs(t, err, faults.ErrNotFound)

	empty, _ := testutil.SeedJob(t, db, 0)
	_, err = store.Start(ctx, StartRequest{JobID: empty.ID, Parallelism: 1})
	assert.ErrorIs(t, err, faults.ErrPrecondition)
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, _ := testutil.SeedJob(t, db, 2)

	store := NewStore(db)
	r, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.NoError(t, err)
	a, b := r.Devices[0].ID, r.Devices[1].ID

	ok, err := store.Finish(ctx, a, Outcome{Status: models.DeviceStatusSuccess})
	require.NoError(t, err)
	assert.False(t, ok, "queued device cannot finish")

	ok, err = store.Claim(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok, "running device cannot be claimed twice")

	require.NoError(t, store.RecordAttempt(ctx, a, 2))

	ok, err = store.Finish(ctx, a, Outcome{
		Status:       models.DeviceStatusFailed,
		ErrorCode:    faults.CodeCLIError,
		ErrorMessage: "Invalid input",
		Blocks:       []map[string]string{{"name": "Bootstrap", "status": "failed"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Finish(ctx, a, Outcome{Status: models.DeviceStatusSuccess})
	require.NoError(t, err)
	assert.False(t, ok, "terminal state is a sink")

	skipped, err := store.SkipQueued(ctx, r.ID, faults.CodeCancelled, "run cancelled")
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, b, skipped[0].ID)

	ok, err = store.Claim(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	rd, err := store.Device(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusFailed, rd.Status)
	assert.Equal(t, 2, rd.Attempts)
	assert.Equal(t, faults.CodeCLIError, rd.ErrorCode)
	assert.NotNil(t, rd.StartedAt)
	assert.NotNil(t, rd.FinishedAt)
	assert.JSONEq(t, `[{"name":"Bootstrap","status":"failed"}]`, string(rd.Blocks))
}

func TestAggregate(t *testing.T) {
	s, f, k := models.DeviceStatusSuccess, models.DeviceStatusFailed, models.DeviceStatusSkipped

	cases := []struct {
		in   []models.DeviceStatus
		want models.RunStatus
	}{
		{[]models.DeviceStatus{s, s, s}, models.RunStatusSuccess},
		{[]models.DeviceStatus{f, f}, models.RunStatusFailed},
		{[]models.DeviceStatus{s, f, s, s}, models.RunStatusPartial},
		{[]models.DeviceStatus{s, k}, models.RunStatusPartial},
		{[]models.DeviceStatus{k, k}, models.RunStatusPartial},
		{[]models.DeviceStatus{s, models.DeviceStatusRunning}, models.RunStatusRunning},
		{[]models.DeviceStatus{models.DeviceStatusQueued}, models.RunStatusRunning},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Aggregate(tc.in), "%v", tc.in)
	}
}

func TestCompleteReleasesJob(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, _ := testutil.SeedJob(t, db, 2)

	store := NewStore(db)
	r, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 2})
	require.NoError(t, err)

	_, err = store.Complete(ctx, r.ID)
	require.ErrorIs(t, err, faults.ErrPrecondition)

	for i, rd := range r.Devices {
		ok, err := store.Claim(ctx, rd.ID)
		require.NoError(t, err)
		require.True(t, ok)

		status := models.DeviceStatusSuccess
		if i == 1 {
			status = models.DeviceStatusFailed
		}
		_, err = store.Finish(ctx, rd.ID, Outcome{Status: status})
		require.NoError(t, err)
	}

	done, err := store.Complete(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, done.Status)
	assert.NotNil(t, done.EndedAt)
	assert.Nil(t, done.ActiveJobID)

	active, err := store.HasActive(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, active)

	next, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.NoError(t, err)

	runs, err := store.List(ctx, ListRequest{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, next.ID, runs[0].ID)
}

func TestCancelAndFailRunning(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, _ := testutil.SeedJob(t, db, 2)

	store := NewStore(db)
	r, err := store.Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	require.NoError(t, err)

	ok, err := store.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Claim(ctx, r.Devices[0].ID)
	require.NoError(t, err)

	failed, err := store.FailRunning(ctx, r.ID, faults.CodeInterrupted, "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r.Devices[0].ID, failed[0].ID)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestStartOrdersAgainstDeviceEdit(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	job, devices := testutil.SeedJob(t, db, 2)
	original := *devices[0].Port

	var (
		wg       sync.WaitGroup
		r        *models.Run
		startErr error
		editErr  error
	)
	port := 9
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, startErr = NewStore(db).Start(ctx, StartRequest{JobID: job.ID, Parallelism: 1})
	}()
	go func() {
		defer wg.Done()
		_, editErr = inventory.Update(ctx, db, devices[0].ID, inventory.Patch{Port: &port})
	}()
	wg.Wait()

	require.NoError(t, startErr)
	require.Len(t, r.Devices, 2)
	if editErr == nil {
		assert.Equal(t, port, r.Devices[0].Port)
	} else {
		assert.ErrorIs(t, editErr, faults.ErrConflict)
		assert.Equal(t, original, r.Devices[0].Port)
	}

	port = 10
	_, err := inventory.Update(ctx, db, devices[1].ID, inventory.Patch{Port: &port})
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestParseFailurePolicy(t *testing.T) {
	p, ok := ParseFailurePolicy("")
	assert.True(t, ok)
	assert.Equal(t, FailurePolicyContinue, p)

	p, ok = ParseFailurePolicy("halt")
	assert.True(t, ok)
	assert.Equal(t, FailurePolicyHalt, p)

	_, ok = ParseFailurePolicy("abort")
	assert.False(t, ok)
}

func TestContextHelpers(t *testing.T) {
	runID, deviceID := uuid.New(), uuid.New()
	ctx := WithDevice(WithContext(context.Background(), runID), deviceID)

	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, runID, got)

	got, ok = DeviceFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, deviceID, got)

	_, ok = DeviceFromContext(context.Background())
	assert.False(t, ok)
}
