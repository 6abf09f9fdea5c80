package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFiresImmediatelyAndOnInterval(t *testing.T) {
	var count int64
	job := Job{
		Name:     "test_job",
		Areas:    []string{"SE1"},
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context, area string) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	s := New([]Job{job}, nil, zerolog.Nop())
	s.Run(ctx)

	got := atomic.LoadInt64(&count)
	assert.GreaterOrEqual(t, got, int64(2), "should have fired at startup plus at least one tick")
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	var running int32
	var overlapped bool
	var mu sync.Mutex

	release := make(chan struct{})
	job := Job{
		Name:     "slow_job",
		Areas:    []string{"SE1"},
		Interval: time.Hour,
		Run: func(ctx context.Context, area string) error {
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				mu.Lock()
				overlapped = true
				mu.Unlock()
				return nil
			}
			<-release
			atomic.StoreInt32(&running, 0)
			return nil
		},
	}

	s := New([]Job{job}, nil, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(context.Background(), job, "SE1")
	}()

	// Give the first tick time to acquire the running flag before firing a
	// concurrent second one.
	time.Sleep(20 * time.Millisecond)
	s.tick(context.Background(), job, "SE1")

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlapped, "concurrent tick should be skipped, not run the job body")
}

func TestTickClearsRunningFlagAfterError(t *testing.T) {
	job := Job{
		Name:     "erroring_job",
		Areas:    []string{"SE1"},
		Interval: time.Hour,
		Run: func(ctx context.Context, area string) error {
			return context.DeadlineExceeded
		},
	}
	s := New([]Job{job}, nil, zerolog.Nop())
	s.tick(context.Background(), job, "SE1")

	s.mu.Lock()
	running := s.running["erroring_job:SE1"]
	s.mu.Unlock()
	require.False(t, running)
}
