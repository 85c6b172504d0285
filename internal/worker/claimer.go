package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/run"
)

// candidateBatch bounds how many queued rows are read per claim.
const candidateBatch = 8

// Claimer hands out the queued devices of one run in queue order.
type Claimer struct {
	runID uuid.UUID
	store *run.Store
}

func NewClaimer(runID uuid.UUID, store *run.Store) *Claimer {
	if store == nil {
		panic("worker claimer requires run store")
	}
	return &Claimer{runID: runID, store: store}
}

// ClaimNext moves the lowest-positioned queued device to running and
// returns it, or returns nil when nothing is left to dispatch.
func (c *Claimer) ClaimNext(ctx context.Context) (*models.RunDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for {
		var candidates models.RunDevices
		err := c.store.DB().WithContext(ctx).
			Where("run_id = ? AND status = ?", c.runID, models.DeviceStatusQueued).
			Order("position ASC").
			Limit(candidateBatch).
			Find(&candidates).Error
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		for _, candidate := range candidates {
			ok, err := c.store.Claim(ctx, candidate.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				// skipped or claimed elsewhere
				continue
			}
			return c.store.Device(ctx, candidate.ID)
		}
	}
}
