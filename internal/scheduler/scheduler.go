// Package scheduler is the process-local periodic dispatcher. Each job
// gets its own goroutine and ticker, so a slow job never delays another
// job's cadence, and at most one instance of a given (job, area) pair is
// in flight at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nordflow/ingest/internal/metrics"
)

// JobFunc is one scheduled unit of work for one area.
type JobFunc func(ctx context.Context, area string) error

// Job configures a single periodic task.
type Job struct {
	Name         string
	Areas        []string
	Interval     time.Duration
	MisfireGrace time.Duration
	Run          JobFunc
}

// Scheduler runs a fixed set of Jobs, one ticker-driven goroutine per
// (job, area) pair, enforcing a serial instance limit of 1 per pair.
type Scheduler struct {
	jobs    []Job
	metrics *metrics.Registry
	log     zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds a Scheduler over the given jobs.
func New(jobs []Job, m *metrics.Registry, log zerolog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, metrics: m, log: log, running: map[string]bool{}}
}

// Run blocks, dispatching every configured job on its own ticker until ctx
// is cancelled. Each job also fires once immediately at startup.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		for _, area := range job.Areas {
			job, area := job, area
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runLoop(ctx, job, area)
			}()
		}
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job, area string) {
	s.tick(ctx, job, area)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job, area)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job, area string) {
	key := job.Name + ":" + area

	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		s.log.Warn().Str("job", job.Name).Str("area", area).Msg("scheduler: previous run still in flight, skipping tick")
		if s.metrics != nil {
			s.metrics.JobMisfires.WithLabelValues(job.Name).Inc()
		}
		return
	}
	s.running[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[key] = false
		s.mu.Unlock()
	}()

	grace := job.MisfireGrace
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, job.Interval+grace)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx, area)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Error().Err(err).Str("job", job.Name).Str("area", area).Dur("duration", duration).Msg("scheduler: job run failed")
	} else {
		s.log.Debug().Str("job", job.Name).Str("area", area).Dur("duration", duration).Msg("scheduler: job run completed")
	}

	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(job.Name, area, outcome).Inc()
		s.metrics.JobDuration.WithLabelValues(job.Name, area).Observe(duration.Seconds())
	}
}
