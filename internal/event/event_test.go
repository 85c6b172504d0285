package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/testutil"
)

func TestBusFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New()
	runID := uuid.New()

	all, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	scoped, err := b.Subscribe(ctx, Filter{RunID: runID, Types: []Type{TypeDeviceFailed}})
	require.NoError(t, err)

	b.Publish(Event{Type: TypeDeviceSucceeded, RunID: runID})
	b.Publish(Event{Type: TypeDeviceFailed, RunID: uuid.New()})
	b.Publish(Event{Type: TypeDeviceFailed, RunID: runID})

	for i := 0; i < 3; i++ {
		select {
		case e := <-all:
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	select {
	case e := <-scoped:
		assert.Equal(t, TypeDeviceFailed, e.Type)
		assert.Equal(t, runID, e.RunID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scoped event")
	}

	select {
	case e := <-scoped:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBusClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New().Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestLogAppendAndOrder(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	job, _ := testutil.SeedJob(t, db, 0)
	runID := testutil.SeedRun(t, db, job.ID).ID
	otherRunID := testutil.SeedRun(t, db, job.ID).ID
	devA, devB := uuid.New(), uuid.New()

	b := New()
	sub, err := b.Subscribe(ctx, Filter{RunID: runID, DeviceID: devA})
	require.NoError(t, err)

	l := NewLog(db, b)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for _, msg := range []string{"first", "second", "third"} {
		_, err := l.Append(ctx, Entry{RunID: runID, DeviceID: &devA, Level: models.LevelInfo, Message: msg})
		require.NoError(t, err)
	}
	_, err = l.Append(ctx, Entry{RunID: runID, DeviceID: &devB, Level: models.LevelError, Message: "other", ErrorCode: "CLI_ERROR"})
	require.NoError(t, err)
	_, err = l.Append(ctx, Entry{RunID: otherRunID, DeviceID: &devA, Level: models.LevelInfo, Message: "foreign"})
	require.NoError(t, err)

	events, err := l.List(ctx, ListRequest{RunID: runID, DeviceID: &devA})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)
	assert.Equal(t, "third", events[2].Message)

	all, err := l.List(ctx, ListRequest{RunID: runID})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "CLI_ERROR", all[3].ErrorCode)

	tail, err := l.List(ctx, ListRequest{RunID: runID, AfterID: all[1].ID})
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	select {
	case e := <-sub:
		assert.Equal(t, TypeDeviceLog, e.Type)
		assert.Contains(t, string(e.Payload), `"message":"first"`)
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}
}
