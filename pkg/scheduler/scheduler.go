// Package scheduler runs periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/codexproxy/pkg/logger"
)

// JobFunc runs one tick. now is the scheduled tick time.
type JobFunc func(ctx context.Context, now time.Time) error

type job struct {
	name     string
	schedule string
	run      JobFunc
}

// Scheduler runs every registered job on its own cron schedule until the
// context passed to Run is cancelled.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []job
	running bool
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

func New() *Scheduler {
	return &Scheduler{now: time.Now, after: time.After}
}

// Add registers a job. The schedule must be a valid cron expression.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	schedule = strings.TrimSpace(schedule)
	if fn == nil {
		return fmt.Errorf("job %q has no function", name)
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("job %q: invalid cron expression %q", name, schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %q: scheduler already running", name)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, run: fn})
	return nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run blocks until ctx is cancelled. Job errors are logged and do not stop
// the job's schedule.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	for {
		now := s.now()
		next, err := gronx.NextTickAfter(j.schedule, now, false)
		if err != nil {
			logger.ErrorCF("scheduler", "Cannot compute next tick", map[string]interface{}{
				"job":      j.name,
				"schedule": j.schedule,
				"error":    err.Error(),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		if err := j.run(ctx, next); err != nil {
			logger.WarnCF("scheduler", "Job failed", map[string]interface{}{
				"job":   j.name,
				"error": err.Error(),
			})
			continue
		}
		logger.DebugCF("scheduler", "Job completed", map[string]interface{}{
			"job":  j.name,
			"tick": next.Format(time.RFC3339),
		})
	}
}
