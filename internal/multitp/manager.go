// Package multitp implements the Multi-TP Manager (C14): monitors every
// position under management and requests partial closes as each TP
// level is hit, optionally shifting the stop loss afterward. Grounded
// on execution_service.go's MonitorPosition ticker loop (its inline
// PnL-threshold checks), split out into its own engine and generalized
// from a single fixed take-profit to an arbitrary per-position TP
// ladder, per the original desktop app's test_multi_tp_manager.py
// expectations (index-only reference).
package multitp

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
)

// SLShiftMode selects what happens to the stop loss immediately after a
// TP level fires.
type SLShiftMode string

const (
	ShiftNone      SLShiftMode = "NONE"
	ShiftBreakEven SLShiftMode = "BREAK_EVEN"
	ShiftNextTP    SLShiftMode = "NEXT_TP"
)

// Mutator is the subset of the Trade Executor's surface C14 requests
// position mutations through; C14 never touches the broker directly.
type Mutator interface {
	RequestPartialClose(ctx context.Context, ticket string, volume, price decimal.Decimal, deviationPips decimal.Decimal) error
	RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}

// Config tunes the poll cadence and close-to-zero guard.
type Config struct {
	PollInterval       time.Duration
	MinRemainingVolume decimal.Decimal // below this, a partial close becomes a full close
	SLShift            SLShiftMode
	SLBufferPips       decimal.Decimal // BREAK_EVEN / NEXT_TP buffer, in pips
	DeviationPips      decimal.Decimal
	PipSize            func(symbol string) decimal.Decimal
}

// Manager owns the set of positions under TP management.
type Manager struct {
	cache   *marketdata.Cache
	mutator Mutator
	clock   clock.Clock
	bus     *eventbus.Bus
	config  Config

	mu        sync.Mutex
	positions map[string]*model.Position
}

func New(cache *marketdata.Cache, mutator Mutator, clk clock.Clock, bus *eventbus.Bus, config Config) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	return &Manager{
		cache:     cache,
		mutator:   mutator,
		clock:     clk,
		bus:       bus,
		config:    config,
		positions: map[string]*model.Position{},
	}
}

// Register begins TP management of pos.
func (m *Manager) Register(pos *model.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Ticket] = pos
}

// Unregister stops TP management of ticket, e.g. once the position is
// fully closed by any engine.
func (m *Manager) Unregister(ticket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, ticket)
}

// Run drives the poll loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.config.PollInterval):
		}
		m.tick(ctx)
	}
}

func (m *Manager) snapshot() []*model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

func (m *Manager) tick(ctx context.Context) {
	for _, pos := range m.snapshot() {
		tick, err := m.cache.Quote(ctx, pos.Symbol)
		if err != nil {
			continue
		}
		m.checkPosition(ctx, pos, tick)
	}
}

func hit(dir model.Direction, price decimal.Decimal, level model.TPLevel) bool {
	if dir == model.Buy {
		return price.GreaterThanOrEqual(level.Price)
	}
	return price.LessThanOrEqual(level.Price)
}

// checkPosition evaluates pos's remaining TP levels in order and closes
// the next hit one, in full if it is the last level or what remains
// after the fractional close would fall below MinRemainingVolume
// (invariant: every position eventually reaches VolumeRemaining == 0
// exactly once, never negative).
func (m *Manager) checkPosition(ctx context.Context, pos *model.Position, tick marketdata.Tick) {
	price := tick.Bid
	if pos.Direction == model.Buy {
		price = tick.Bid // a long's TP fills against the bid it can be sold into
	} else {
		price = tick.Ask
	}

	for i := range pos.TPPlanRemaining {
		level := &pos.TPPlanRemaining[i]
		if level.Status != model.TPPending {
			continue
		}
		if !hit(pos.Direction, price, *level) {
			return // levels are ordered; nothing further out can be hit yet
		}

		closeVolume := pos.VolumeAtIntent.Mul(level.Percentage)
		if closeVolume.GreaterThan(pos.VolumeRemaining) {
			closeVolume = pos.VolumeRemaining
		}
		isLast := i == len(pos.TPPlanRemaining)-1
		remainingAfter := pos.VolumeRemaining.Sub(closeVolume)
		if isLast || (!m.config.MinRemainingVolume.IsZero() && remainingAfter.LessThan(m.config.MinRemainingVolume)) {
			closeVolume = pos.VolumeRemaining
			remainingAfter = decimal.Zero
		}

		if err := m.mutator.RequestPartialClose(ctx, pos.Ticket, closeVolume, price, m.config.DeviationPips); err != nil {
			logging.Warn("TP%d partial close failed for %s: %v", level.LevelIndex, pos.Ticket, err)
			return
		}

		level.Status = model.TPHit
		level.ClosedVolume = closeVolume
		level.ClosePrice = price
		pos.VolumeRemaining = remainingAfter

		m.bus.Publish(eventbus.Event{Kind: eventbus.TPHit, Data: struct {
			Ticket     string
			LevelIndex int
			Price      decimal.Decimal
		}{pos.Ticket, level.LevelIndex, price}})

		m.shiftStop(ctx, pos, *level)

		if pos.VolumeRemaining.IsZero() {
			pos.State = model.PositionClosed
			m.bus.Publish(eventbus.Event{Kind: eventbus.PositionClosed, Data: pos.Ticket})
			m.Unregister(pos.Ticket)
			return
		}
		pos.State = model.PositionClosing
	}
}

// nextPendingLevel returns the next TP level still waiting to fire,
// in ladder order, after hitLevel closed out.
func nextPendingLevel(pos *model.Position) (model.TPLevel, bool) {
	for _, level := range pos.TPPlanRemaining {
		if level.Status == model.TPPending {
			return level, true
		}
	}
	return model.TPLevel{}, false
}

func (m *Manager) shiftStop(ctx context.Context, pos *model.Position, hitLevel model.TPLevel) {
	pipSize := decimal.NewFromFloat(0.0001)
	if m.config.PipSize != nil {
		pipSize = m.config.PipSize(pos.Symbol)
	}
	buffer := m.config.SLBufferPips.Mul(pipSize)

	var newSL decimal.Decimal
	switch m.config.SLShift {
	case ShiftBreakEven:
		// entry ± buffer, buffer toward profit.
		if pos.Direction == model.Buy {
			newSL = pos.EntryPrice.Add(buffer)
		} else {
			newSL = pos.EntryPrice.Sub(buffer)
		}
	case ShiftNextTP:
		next, ok := nextPendingLevel(pos)
		if !ok {
			return // nothing left to shift ahead of
		}
		// next unfilled TP price ∓ buffer, buffer back toward entry.
		if pos.Direction == model.Buy {
			newSL = next.Price.Sub(buffer)
		} else {
			newSL = next.Price.Add(buffer)
		}
	default:
		return
	}
	if !pos.SLBetter(newSL) {
		return
	}
	if err := m.mutator.RequestModify(ctx, pos.Ticket, &newSL, nil); err != nil {
		logging.Warn("SL shift failed for %s: %v", pos.Ticket, err)
		return
	}
	pos.SL = newSL
}
