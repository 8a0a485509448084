// Package smartentry implements the Smart Entry Scheduler (C12),
// grounded on execution_service.go's GhostSession polling-goroutine
// pattern (MonitorPosition's per-symbol loop), generalized from
// monitoring a filled position into waiting for a favorable price
// before handing an intent to the executor. The bounded waiter cap uses
// golang.org/x/sync/semaphore the way a cooperative-pool limiter should,
// rather than an ad hoc counter.
package smartentry

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/spread"
)

// WaitStatus is a waiter's lifecycle transition.
type WaitStatus string

const (
	Waiting   WaitStatus = "WAITING"
	Executed  WaitStatus = "EXECUTED"
	Timeout   WaitStatus = "TIMEOUT"
	Cancelled WaitStatus = "CANCELLED"
)

// Executor is the subset of the Trade Executor's surface C12 hands
// favorable intents to.
type Executor interface {
	Submit(ctx context.Context, intent model.TradeIntent) error
}

// Config configures polling cadence, price tolerance, concurrency cap,
// and the deadline fallback behavior.
type Config struct {
	PollInterval        time.Duration
	ToleragePips        decimal.Decimal
	PipSize             func(symbol string) decimal.Decimal
	MaxConcurrentWaiters int64
	FallbackToImmediate  bool
}

// Scheduler holds the active set of waiting intents.
type Scheduler struct {
	cache    *marketdata.Cache
	gate     *spread.Gate
	executor Executor
	clock    clock.Clock
	bus      *eventbus.Bus
	config   Config
	sem      *semaphore.Weighted

	mu      sync.Mutex
	waiters map[string]*waiter
}

type waiter struct {
	intent   model.TradeIntent
	deadline time.Time
	cancel   chan struct{}
}

func New(cache *marketdata.Cache, gate *spread.Gate, executor Executor, clk clock.Clock, bus *eventbus.Bus, config Config) *Scheduler {
	return &Scheduler{
		cache:    cache,
		gate:     gate,
		executor: executor,
		clock:    clk,
		bus:      bus,
		config:   config,
		sem:      semaphore.NewWeighted(config.MaxConcurrentWaiters),
		waiters:  map[string]*waiter{},
	}
}

// favorable reports whether the current quote satisfies the intent's
// target within tolerance: BUY ask <= target+tol; SELL bid >= target-tol.
func favorable(intent model.TradeIntent, tick marketdata.Tick, tolerance decimal.Decimal) bool {
	if intent.Direction == model.Buy {
		return tick.Ask.LessThanOrEqual(intent.EntryTarget.Add(tolerance))
	}
	return tick.Bid.GreaterThanOrEqual(intent.EntryTarget.Sub(tolerance))
}

// Schedule registers intent as a waiter. On overflow (cap reached), the
// request is rejected immediately.
func (s *Scheduler) Schedule(ctx context.Context, intent model.TradeIntent) error {
	if !s.sem.TryAcquire(1) {
		return errs.New(errs.KindPolicyBlock, "SmartEntryOverflow", intent.IntentID)
	}

	deadline := s.clock.Now().Add(1 * time.Hour)
	if intent.SmartWaitDeadline != nil {
		deadline = *intent.SmartWaitDeadline
	}

	w := &waiter{intent: intent, deadline: deadline, cancel: make(chan struct{})}
	s.mu.Lock()
	s.waiters[intent.IntentID] = w
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{Kind: "SmartEntryStatus", Data: struct {
		IntentID string
		Status   WaitStatus
	}{intent.IntentID, Waiting}})

	go s.poll(ctx, w)
	return nil
}

// Cancel aborts a pending waiter, e.g. on an operator /disable command.
func (s *Scheduler) Cancel(intentID string) {
	s.mu.Lock()
	w, ok := s.waiters[intentID]
	s.mu.Unlock()
	if ok {
		close(w.cancel)
	}
}

func (s *Scheduler) remove(intentID string) {
	s.mu.Lock()
	delete(s.waiters, intentID)
	s.mu.Unlock()
	s.sem.Release(1)
}

func (s *Scheduler) poll(ctx context.Context, w *waiter) {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	for {
		select {
		case <-w.cancel:
			s.finish(w, Cancelled)
			return
		case <-ctx.Done():
			s.finish(w, Cancelled)
			return
		case <-s.clock.After(interval):
		}

		if s.clock.Now().After(w.deadline) {
			s.onDeadline(ctx, w)
			return
		}

		tick, err := s.cache.Quote(ctx, w.intent.Symbol)
		if err != nil {
			continue
		}
		pipSize := decimal.NewFromFloat(0.0001)
		if s.config.PipSize != nil {
			pipSize = s.config.PipSize(w.intent.Symbol)
		}
		tolerance := s.config.ToleragePips.Mul(pipSize)
		if !favorable(w.intent, tick, tolerance) {
			continue
		}

		if _, err := s.gate.Check(ctx, w.intent.Symbol); err != nil {
			continue // spread not yet acceptable; keep polling
		}

		if err := s.executor.Submit(ctx, w.intent); err == nil {
			s.finish(w, Executed)
			return
		}
	}
}

func (s *Scheduler) onDeadline(ctx context.Context, w *waiter) {
	if s.config.FallbackToImmediate {
		_ = s.executor.Submit(ctx, w.intent)
		s.finish(w, Executed)
		return
	}
	s.finish(w, Timeout)
}

func (s *Scheduler) finish(w *waiter, status WaitStatus) {
	s.bus.Publish(eventbus.Event{Kind: "SmartEntryStatus", Data: struct {
		IntentID string
		Status   WaitStatus
	}{w.intent.IntentID, status}})
	s.remove(w.intent.IntentID)
}
