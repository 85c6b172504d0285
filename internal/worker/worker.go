package worker

import (
	"context"
	"time"

	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/log"
)

type DeviceClaimer interface {
	ClaimNext(ctx context.Context) (*models.RunDevice, error)
}

type DeviceExecutor func(ctx context.Context, rd *models.RunDevice)

// Worker dispatches the devices of one run onto a bounded pool. It
// returns once nothing is left to claim and every push has finished.
type Worker struct {
	claimer      DeviceClaimer
	pool         *Pool
	pollInterval time.Duration
	executor     DeviceExecutor
}

func NewWorker(claimer DeviceClaimer, pool *Pool, pollInterval time.Duration, executor DeviceExecutor) *Worker {
	if claimer == nil {
		panic("worker requires device claimer")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if executor == nil {
		executor = func(context.Context, *models.RunDevice) {}
	}

	return &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		// hold a slot before claiming so a device never sits in
		// running while it waits for a worker
		if err := w.pool.Acquire(ctx); err != nil {
			w.pool.Wait()
			return nil
		}

		rd, err := w.claimer.ClaimNext(ctx)
		if err != nil {
			w.pool.Release()
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}

			log.Error("failed to claim next device", "error", err)
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		if rd == nil {
			w.pool.Release()
			w.pool.Wait()
			return nil
		}

		w.pool.Go(func() {
			w.executor(ctx, rd)
		})
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
