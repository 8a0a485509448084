package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentineldesk/core/internal/clock"
)

func TestRegisteredJobFiresOnEachIntervalTick(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk)

	var runs int32
	s.Register(Job{Name: "tick", Interval: time.Minute, Run: func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	}})

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		clk.Advance(time.Minute)
		waitFor(t, func() bool { return atomic.LoadInt32(&runs) == int32(i+1) })
	}
}

func TestStopOrdersGoroutinesToExit(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk)

	var mu sync.Mutex
	running := false
	s.Register(Job{Name: "slow", Interval: time.Minute, Run: func(ctx context.Context) {
		mu.Lock()
		running = true
		mu.Unlock()
	}})

	s.Start(context.Background())
	clk.Advance(time.Minute)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running
	})

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return — a job goroutine failed to observe cancellation")
	}
}

func TestJobPanicDoesNotKillTheScheduler(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk)

	var runs int32
	s.Register(Job{Name: "flaky", Interval: time.Minute, Run: func(ctx context.Context) {
		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			panic("simulated job failure")
		}
	}})

	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(time.Minute) // panics, but the job loop must survive
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 1 })

	clk.Advance(time.Minute) // should still fire a second time
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 2 })
}

func TestMultipleJobsRunIndependently(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(clk)

	var fastRuns, slowRuns int32
	s.Register(Job{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) {
		atomic.AddInt32(&fastRuns, 1)
	}})
	s.Register(Job{Name: "slow", Interval: 5 * time.Minute, Run: func(ctx context.Context) {
		atomic.AddInt32(&slowRuns, 1)
	}})

	s.Start(context.Background())
	defer s.Stop()

	clk.Advance(5 * time.Minute)
	waitFor(t, func() bool { return atomic.LoadInt32(&fastRuns) >= 1 && atomic.LoadInt32(&slowRuns) >= 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true within timeout")
}
