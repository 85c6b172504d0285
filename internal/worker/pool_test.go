package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolWaitsForSubmittedTasks(t *testing.T) {
	pool := NewPool(2)
	var completed, running, peak int32

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&completed, 1)
		}))
	}

	pool.Wait()

	assert.Equal(t, int32(6), atomic.LoadInt32(&completed))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolSubmitHonorsContextCancelWhenFull(t *testing.T) {
	pool := NewPool(1)
	started := make(chan struct{})
	block := make(chan struct{})

	require.NoError(t, pool.Submit(context.Background(), func() {
		close(started)
		<-block
	}))

	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, pool.Submit(ctx, func() {}), context.Canceled)

	close(block)
	pool.Wait()
}

func TestPoolReleaseFreesUnusedSlot(t *testing.T) {
	pool := NewPool(1)
	assert.Equal(t, 1, pool.Size())

	require.NoError(t, pool.Acquire(context.Background()))
	pool.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Acquire(ctx))
	pool.Release()

	assert.Equal(t, 1, NewPool(0).Size())
}
