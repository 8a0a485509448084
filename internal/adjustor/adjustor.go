// Package adjustor implements the TP/SL Adjustor (C17): widens a
// position's stop loss when the spread or short-term volatility regime
// would otherwise risk a premature stop-out, bounded by a per-session
// adjustment budget. Take-profit levels are not adjusted. Grounded on
// execution_service.go's slippage-guard spread check (the
// `(bestAsk-bestBid)/bestBid` ratio gating order placement), reused
// here as the regime signal driving post-fill buffer widening instead
// of a pre-trade block.
package adjustor

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

// Mutator is the narrow executor surface C17 requests SL/TP changes
// through.
type Mutator interface {
	RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}

// Rule is one symbol's regime-adjustment policy.
type Rule struct {
	Symbol              string
	SpreadThresholdPips decimal.Decimal
	VolatilityThreshold decimal.Decimal // ATR or similar, injected via VolatilityFunc
	BufferPips          decimal.Decimal // distance the SL is widened by when regime triggers
}

// VolatilityFunc supplies a short-term volatility reading for a symbol.
type VolatilityFunc func(symbol string) decimal.Decimal

// Config bounds how aggressively the engine is allowed to act.
type Config struct {
	PollInterval             time.Duration
	MaxAdjustmentsPerSession int
	MinAdjustmentInterval    time.Duration
	MinDistancePips          decimal.Decimal // never move SL/TP closer than this to current price
	PipSize                  func(symbol string) decimal.Decimal
	Volatility               VolatilityFunc
}

type state struct {
	pos             *model.Position
	rule            Rule
	originalSL      decimal.Decimal
	adjustmentsUsed int
	lastAdjustedAt  time.Time
}

// Adjustor owns the set of positions under regime-based buffer
// adjustment.
type Adjustor struct {
	cache   *marketdata.Cache
	mutator Mutator
	clock   clock.Clock
	bus     *eventbus.Bus
	config  Config

	mu       sync.Mutex
	tracking map[string]*state
}

func New(cache *marketdata.Cache, mutator Mutator, clk clock.Clock, bus *eventbus.Bus, config Config) *Adjustor {
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	return &Adjustor{
		cache:    cache,
		mutator:  mutator,
		clock:    clk,
		bus:      bus,
		config:   config,
		tracking: map[string]*state{},
	}
}

func (a *Adjustor) Register(pos *model.Position, rule Rule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracking[pos.Ticket] = &state{pos: pos, rule: rule, originalSL: pos.SL}
}

func (a *Adjustor) Unregister(ticket string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tracking, ticket)
}

func (a *Adjustor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(a.config.PollInterval):
		}
		a.tick(ctx)
	}
}

func (a *Adjustor) snapshot() []*state {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*state, 0, len(a.tracking))
	for _, s := range a.tracking {
		out = append(out, s)
	}
	return out
}

func (a *Adjustor) pipSize(symbol string) decimal.Decimal {
	if a.config.PipSize != nil {
		return a.config.PipSize(symbol)
	}
	return decimal.NewFromFloat(0.0001)
}

func (a *Adjustor) tick(ctx context.Context) {
	for _, s := range a.snapshot() {
		tick, err := a.cache.Quote(ctx, s.pos.Symbol)
		if err != nil {
			continue
		}
		a.evaluate(ctx, s, tick)
	}
}

// regimeTriggered reports whether the configured spread or volatility
// threshold is currently exceeded for s's symbol.
func (a *Adjustor) regimeTriggered(s *state, tick marketdata.Tick) bool {
	pipSize := a.pipSize(s.pos.Symbol)
	spreadPips := tick.Ask.Sub(tick.Bid).Div(pipSize)
	if !s.rule.SpreadThresholdPips.IsZero() && spreadPips.GreaterThanOrEqual(s.rule.SpreadThresholdPips) {
		return true
	}
	if a.config.Volatility != nil && !s.rule.VolatilityThreshold.IsZero() {
		if a.config.Volatility(s.pos.Symbol).GreaterThanOrEqual(s.rule.VolatilityThreshold) {
			return true
		}
	}
	return false
}

func (a *Adjustor) evaluate(ctx context.Context, s *state, tick marketdata.Tick) {
	if !a.regimeTriggered(s, tick) {
		return
	}
	if a.config.MaxAdjustmentsPerSession > 0 && s.adjustmentsUsed >= a.config.MaxAdjustmentsPerSession {
		return
	}
	if a.config.MinAdjustmentInterval > 0 && !s.lastAdjustedAt.IsZero() {
		if a.clock.Now().Sub(s.lastAdjustedAt) < a.config.MinAdjustmentInterval {
			return
		}
	}

	pipSize := a.pipSize(s.pos.Symbol)
	buffer := s.rule.BufferPips.Mul(pipSize)

	var newSL decimal.Decimal
	if s.pos.Direction == model.Buy {
		newSL = s.pos.SL.Sub(buffer) // widen downward, away from price
		if newSL.LessThan(s.originalSL) {
			newSL = s.originalSL // never widen past the position's original risk
		}
	} else {
		newSL = s.pos.SL.Add(buffer)
		if newSL.GreaterThan(s.originalSL) {
			newSL = s.originalSL
		}
	}
	if newSL.Equal(s.pos.SL) {
		return // already at the original-risk floor; nothing to do
	}

	midPrice := tick.Bid.Add(tick.Ask).Div(decimal.NewFromInt(2))
	minDistance := a.config.MinDistancePips.Mul(pipSize)
	if midPrice.Sub(newSL).Abs().LessThan(minDistance) {
		return // widening would put SL closer than the configured floor; skip
	}

	// Spread/volatility widening moves SL away from price, which is the
	// one exception to invariant 1's tightening-only ratchet — bounded so
	// it can never loosen past the position's originalSL at open, so the
	// net effect across C14-C17 is still bounded by the fill-time risk.
	if err := a.mutator.RequestModify(ctx, s.pos.Ticket, &newSL, nil); err != nil {
		logging.Warn("regime SL widen failed for %s: %v", s.pos.Ticket, err)
		return
	}

	s.pos.SL = newSL
	s.adjustmentsUsed++
	s.lastAdjustedAt = a.clock.Now()
	a.bus.Publish(eventbus.Event{Kind: eventbus.SLMoved, Data: struct {
		Ticket string
		SL     decimal.Decimal
		Reason string
	}{s.pos.Ticket, newSL, "regime_widen"}})
}
