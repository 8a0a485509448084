// Package trailing implements the Trailing Stop Engine (C15): tracks
// each managed position's most favorable price and ratchets its stop
// loss behind it once price has moved enough to justify a strictly
// better SL. Grounded on execution_service.go's MonitorPosition
// trailing branch (highWaterMark tracking, 0.15%-of-price trail
// distance, "only move SL up (long) or down (short)"), generalized
// from one hardcoded method into four configurable ones.
package trailing

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

// Method selects how the trail distance is computed.
type Method string

const (
	FixedPips     Method = "FIXED_PIPS"
	Percent       Method = "PERCENT"
	BreakEvenPlus Method = "BREAK_EVEN_PLUS"
	ATRMultiple   Method = "ATR_MULTIPLE"
)

// Mutator is the narrow executor surface C15 requests SL changes
// through.
type Mutator interface {
	RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}

// ATRFunc supplies the current ATR reading for a symbol, used by the
// ATR_MULTIPLE method. Injected so C15 never computes indicators itself.
type ATRFunc func(symbol string) decimal.Decimal

// Config tunes one trailing regime, applied uniformly to every position
// this engine manages (per-position overrides can be layered by the
// wiring layer registering distinct Engine instances per symbol class).
type Config struct {
	Method          Method
	TrailPips       decimal.Decimal // FIXED_PIPS
	TrailPercent    decimal.Decimal // PERCENT, e.g. 0.0015 for 0.15%
	ATRMultiplier   decimal.Decimal // ATR_MULTIPLE
	BreakEvenBuffer decimal.Decimal // BREAK_EVEN_PLUS, price units beyond entry
	TriggerPips     decimal.Decimal // profit distance (in pips) before trailing starts
	StepPips        decimal.Decimal // minimum improvement before a new modify is sent
	PipSize         func(symbol string) decimal.Decimal
	PollInterval    time.Duration
	ATR             ATRFunc
}

type tracked struct {
	pos            *model.Position
	highWaterMark  decimal.Decimal
	active         bool
	lastModifiedSL decimal.Decimal
}

// Engine owns the set of positions under trailing management.
type Engine struct {
	cache   *marketdata.Cache
	mutator Mutator
	clock   clock.Clock
	bus     *eventbus.Bus
	config  Config

	mu       sync.Mutex
	tracking map[string]*tracked
}

func New(cache *marketdata.Cache, mutator Mutator, clk clock.Clock, bus *eventbus.Bus, config Config) *Engine {
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	return &Engine{
		cache:    cache,
		mutator:  mutator,
		clock:    clk,
		bus:      bus,
		config:   config,
		tracking: map[string]*tracked{},
	}
}

func (e *Engine) Register(pos *model.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracking[pos.Ticket] = &tracked{pos: pos, highWaterMark: pos.EntryPrice, lastModifiedSL: pos.SL}
}

func (e *Engine) Unregister(ticket string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracking, ticket)
}

func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(e.config.PollInterval):
		}
		e.tick(ctx)
	}
}

func (e *Engine) snapshot() []*tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*tracked, 0, len(e.tracking))
	for _, t := range e.tracking {
		out = append(out, t)
	}
	return out
}

func (e *Engine) tick(ctx context.Context) {
	for _, t := range e.snapshot() {
		tick, err := e.cache.Quote(ctx, t.pos.Symbol)
		if err != nil {
			continue
		}
		price := tick.Bid
		if t.pos.Direction == model.Sell {
			price = tick.Ask
		}
		e.evaluate(ctx, t, price)
	}
}

// trailDistance computes the trail distance in price units for the
// configured method.
func (e *Engine) trailDistance(symbol string, price decimal.Decimal) decimal.Decimal {
	switch e.config.Method {
	case FixedPips:
		pipSize := decimal.NewFromFloat(0.0001)
		if e.config.PipSize != nil {
			pipSize = e.config.PipSize(symbol)
		}
		return e.config.TrailPips.Mul(pipSize)
	case Percent:
		return price.Mul(e.config.TrailPercent)
	case ATRMultiple:
		if e.config.ATR == nil {
			return decimal.Zero
		}
		return e.config.ATR(symbol).Mul(e.config.ATRMultiplier)
	default:
		return decimal.Zero
	}
}

func (e *Engine) evaluate(ctx context.Context, t *tracked, price decimal.Decimal) {
	pos := t.pos

	improved := false
	if pos.Direction == model.Buy {
		if price.GreaterThan(t.highWaterMark) {
			t.highWaterMark = price
			improved = true
		}
	} else {
		if t.highWaterMark.IsZero() || price.LessThan(t.highWaterMark) {
			t.highWaterMark = price
			improved = true
		}
	}
	if !improved {
		return
	}

	pipSize := decimal.NewFromFloat(0.0001)
	if e.config.PipSize != nil {
		pipSize = e.config.PipSize(pos.Symbol)
	}

	profitPips := t.highWaterMark.Sub(pos.EntryPrice).Div(pipSize)
	if pos.Direction == model.Sell {
		profitPips = pos.EntryPrice.Sub(t.highWaterMark).Div(pipSize)
	}
	if !e.config.TriggerPips.IsZero() && profitPips.LessThan(e.config.TriggerPips) {
		return
	}

	var candidate decimal.Decimal
	if e.config.Method == BreakEvenPlus {
		candidate = pos.EntryPrice.Add(e.config.BreakEvenBuffer)
		if pos.Direction == model.Sell {
			candidate = pos.EntryPrice.Sub(e.config.BreakEvenBuffer)
		}
	} else {
		dist := e.trailDistance(pos.Symbol, t.highWaterMark)
		if dist.IsZero() {
			return
		}
		if pos.Direction == model.Buy {
			candidate = t.highWaterMark.Sub(dist)
		} else {
			candidate = t.highWaterMark.Add(dist)
		}
	}

	if !pos.SLBetter(candidate) {
		return
	}

	// A zero step size is the degenerate case: the engine tracks the
	// high water mark but never moves the stop.
	stepPips := e.config.StepPips
	if stepPips.IsZero() {
		return
	}
	moved := candidate.Sub(t.lastModifiedSL).Abs().Div(pipSize)
	if moved.LessThan(stepPips) {
		return
	}

	if err := e.mutator.RequestModify(ctx, pos.Ticket, &candidate, nil); err != nil {
		logging.Warn("trailing SL modify failed for %s: %v", pos.Ticket, err)
		return
	}
	pos.SL = candidate
	t.lastModifiedSL = candidate
	e.bus.Publish(eventbus.Event{Kind: eventbus.SLMoved, Data: struct {
		Ticket string
		SL     decimal.Decimal
	}{pos.Ticket, candidate}})
}
