package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rahu7v3rma/soreal-sub001/internal/observability"
)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler runs each registered job once at start and then on its own
// ticker until the context ends. Runs of the same job never overlap.
type Scheduler struct {
	entries []entry
}

// Every registers job to run at interval. Non-positive intervals are ignored.
func (s *Scheduler) Every(interval time.Duration, job Job) *Scheduler {
	if interval > 0 && job != nil {
		s.entries = append(s.entries, entry{job: job, interval: interval})
	}
	return s
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.entries) }

// Run blocks until ctx is done and every in-flight run has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

func loop(ctx context.Context, e entry) {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		RunOnce(ctx, e.job)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce executes job, logs the outcome and records it in metrics.
func RunOnce(ctx context.Context, job Job) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	lg := log.Ctx(ctx).With().Str("job", job.Name()).Logger()
	start := time.Now()
	n, err := job.Run(lg.WithContext(ctx))
	observability.ObserveJob(job.Name(), n, err)

	ev := lg.Info()
	if err != nil {
		ev = lg.Error().Err(err)
	}
	ev.Int("items", n).Dur("took", time.Since(start)).Msg("job finished")
	return n, err
}

// RunAll runs every registered job once, in registration order, and returns
// the first error.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var first error
	for _, e := range s.entries {
		if _, err := RunOnce(ctx, e.job); err != nil && first == nil {
			first = err
		}
	}
	return first
}
