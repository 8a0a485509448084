// Package scheduler implements the scheduling half of the Event Bus &
// Scheduler (C21): one goroutine per registered periodic job, each
// driven by an injected clock.Clock so tests can advance time
// deterministically instead of sleeping. Grounded on main.go's
// multi-ticker select loop (the Sentiment Heartbeat goroutine's
// ticker/reportTicker/clockTicker trio) and execution_service.go's
// GhostSession polling goroutine, generalized from a handful of
// hand-rolled goroutines into a single registrar. The entrypoint
// registers the margin refresh and emergency-close jobs here; the
// C14-C17 engines run their own Run loops and C12 polls in one
// goroutine per waiter.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/logging"
)

// Job is one named periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs a fixed set of registered jobs, each on its own
// ticker, until Stop is called or the parent context is cancelled.
// Shutdown is orderly: Stop blocks until every job goroutine has
// observed cancellation and returned.
type Scheduler struct {
	clock clock.Clock

	mu   sync.Mutex
	jobs []Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(clk clock.Clock) *Scheduler {
	return &Scheduler{clock: clk}
}

// Register adds job to the scheduler's run list. Must be called
// before Start; jobs registered after Start has begun are ignored,
// since the teacher's own startup sequence wires every goroutine
// before the first tick fires.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per registered job. ctx cancellation
// (or a later call to Stop) tells every job goroutine to exit after
// its current Run call returns.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		job := job
		interval := job.Interval
		if interval <= 0 {
			interval = time.Second
		}
		// The first wait is registered before the goroutine starts, so a
		// clock advanced right after Start is never missed.
		first := s.clock.After(interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, job, interval, first)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job, interval time.Duration, next <-chan time.Time) {
	logging.Info("scheduler: job %s started at %s interval", job.Name, interval)
	for {
		select {
		case <-ctx.Done():
			logging.Info("scheduler: job %s stopped", job.Name)
			return
		case <-next:
		}
		next = s.clock.After(interval)
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Alert("scheduler: job %s panicked: %v", job.Name, r)
				}
			}()
			job.Run(ctx)
		}()
	}
}

// Stop cancels every running job and blocks until each has exited.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
