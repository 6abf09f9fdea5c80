package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewWorkerPool(workers, 32, zerolog.Nop())

	var current, peak int64
	pool.Start(context.Background())
	for i := 0; i < 32; i++ {
		require.NoError(t, pool.Submit("task", func(ctx context.Context) error {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	pool.Drain()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(workers))
	assert.Positive(t, atomic.LoadInt64(&peak))
}

func TestWorkerPoolDrainWaitsForQueuedTasks(t *testing.T) {
	pool := NewWorkerPool(2, 8, zerolog.Nop())

	var done int64
	pool.Start(context.Background())
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit("task", func(ctx context.Context) error {
			atomic.AddInt64(&done, 1)
			return nil
		}))
	}
	pool.Drain()

	assert.Equal(t, int64(8), atomic.LoadInt64(&done))
}

func TestWorkerPoolTaskErrorDoesNotStopOthers(t *testing.T) {
	pool := NewWorkerPool(1, 4, zerolog.Nop())

	var done int64
	pool.Start(context.Background())
	require.NoError(t, pool.Submit("boom", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, pool.Submit("after", func(ctx context.Context) error {
		atomic.AddInt64(&done, 1)
		return nil
	}))
	pool.Drain()

	assert.Equal(t, int64(1), atomic.LoadInt64(&done))
}

func TestWorkerPoolSubmitFailsWhenQueueFull(t *testing.T) {
	// Never started: nothing drains the queue, so the capacity is the
	// whole budget.
	pool := NewWorkerPool(1, 1, zerolog.Nop())

	require.NoError(t, pool.Submit("first", func(ctx context.Context) error { return nil }))
	err := pool.Submit("second", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestWorkerPoolCancelledContextSkipsQueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewWorkerPool(2, 8, zerolog.Nop())
	var ran int64
	pool.Start(ctx)
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit("task", func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}
	pool.Drain()

	assert.Zero(t, atomic.LoadInt64(&ran), "tasks queued after cancellation are skipped, not run")
}
