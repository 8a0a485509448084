// Package breakeven implements the Break-Even Engine (C16): moves a
// position's stop loss to entry (plus a small buffer) once it has
// earned enough profit, firing at most once per position. Adapted from
// original_source/desktop-app/break_even.py — trigger kinds, the
// max-profit-achieved tracker, and the one-shot
// break_even_triggered flag all carry over; persistence (the Python
// engine's JSON log file) is dropped: the engine keeps its state in
// memory and reports SL moves on the eventbus.
package breakeven

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

// Trigger selects the condition that activates break-even.
type Trigger string

const (
	FixedPips  Trigger = "FIXED_PIPS"
	Percentage Trigger = "PERCENTAGE"
	TimeBased  Trigger = "TIME_BASED"
	RatioBased Trigger = "RATIO_BASED"
)

// Mutator is the narrow executor surface C16 requests SL changes
// through.
type Mutator interface {
	RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
}

// Config is one break-even policy, applied per position at Register time
// (the wiring layer may register different configs per symbol/strategy).
type Config struct {
	Trigger            Trigger
	ThresholdValue      decimal.Decimal // pips, percent, or minutes depending on Trigger
	BufferPips          decimal.Decimal
	MinProfitPips       decimal.Decimal
	OnlyWhenProfitable  bool
	PipSize             func(symbol string) decimal.Decimal
	PollInterval        time.Duration
}

type tracked struct {
	pos              *model.Position
	config           Config
	entryTime        time.Time
	maxProfitPips    decimal.Decimal
	triggered        bool
	originalSL       decimal.Decimal
}

// Engine owns the set of positions under break-even monitoring.
type Engine struct {
	cache   *marketdata.Cache
	mutator Mutator
	clock   clock.Clock
	bus     *eventbus.Bus

	mu       sync.Mutex
	tracking map[string]*tracked
}

func New(cache *marketdata.Cache, mutator Mutator, clk clock.Clock, bus *eventbus.Bus) *Engine {
	return &Engine{
		cache:    cache,
		mutator:  mutator,
		clock:    clk,
		bus:      bus,
		tracking: map[string]*tracked{},
	}
}

// Register begins break-even monitoring of pos under config.
func (e *Engine) Register(pos *model.Position, config Config) {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracking[pos.Ticket] = &tracked{
		pos:        pos,
		config:     config,
		entryTime:  pos.OpenTime,
		originalSL: pos.SL,
	}
}

func (e *Engine) Unregister(ticket string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracking, ticket)
}

func (e *Engine) Run(ctx context.Context) {
	interval := 1 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(interval):
		}
		e.tick(ctx)
	}
}

func (e *Engine) snapshot() []*tracked {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*tracked, 0, len(e.tracking))
	for _, t := range e.tracking {
		if !t.triggered {
			out = append(out, t)
		}
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

func (e *Engine) pipSize(t *tracked) decimal.Decimal {
	if t.config.PipSize != nil {
		return t.config.PipSize(t.pos.Symbol)
	}
	return decimal.NewFromFloat(0.0001)
}

func (e *Engine) profitPips(t *tracked, price decimal.Decimal) decimal.Decimal {
	pipSize := e.pipSize(t)
	if t.pos.Direction == model.Buy {
		return price.Sub(t.pos.EntryPrice).Div(pipSize)
	}
	return t.pos.EntryPrice.Sub(price).Div(pipSize)
}

// shouldTrigger mirrors should_trigger_break_even: updates the
// max-profit tracker unconditionally, then evaluates the configured
// trigger kind.
func (e *Engine) shouldTrigger(t *tracked, price decimal.Decimal) bool {
	profitPips := e.profitPips(t, price)
	if profitPips.GreaterThan(t.maxProfitPips) {
		t.maxProfitPips = profitPips
	}

	if t.config.OnlyWhenProfitable && profitPips.LessThan(t.config.MinProfitPips) {
		return false
	}

	switch t.config.Trigger {
	case FixedPips:
		return profitPips.GreaterThanOrEqual(t.config.ThresholdValue)
	case Percentage:
		pipSize := e.pipSize(t)
		profitPct := profitPips.Mul(pipSize).Div(t.pos.EntryPrice).Mul(decimal.NewFromInt(100))
		return profitPct.GreaterThanOrEqual(t.config.ThresholdValue)
	case TimeBased:
		elapsedMin := decimal.NewFromFloat(e.clock.Now().Sub(t.entryTime).Minutes())
		return elapsedMin.GreaterThanOrEqual(t.config.ThresholdValue) && profitPips.GreaterThan(decimal.Zero)
	case RatioBased:
		riskPips := t.pos.EntryPrice.Sub(t.originalSL).Abs().Div(e.pipSize(t))
		if riskPips.IsZero() {
			return false
		}
		ratio := profitPips.Div(riskPips)
		return ratio.GreaterThanOrEqual(t.config.ThresholdValue)
	default:
		return false
	}
}

func (e *Engine) breakEvenSL(t *tracked) decimal.Decimal {
	buffer := t.config.BufferPips.Mul(e.pipSize(t))
	if t.pos.Direction == model.Buy {
		return t.pos.EntryPrice.Add(buffer)
	}
	return t.pos.EntryPrice.Sub(buffer)
}

func (e *Engine) evaluate(ctx context.Context, t *tracked, price decimal.Decimal) {
	if !e.shouldTrigger(t, price) {
		return
	}

	newSL := e.breakEvenSL(t)
	if !t.pos.SLBetter(newSL) {
		return
	}

	if err := e.mutator.RequestModify(ctx, t.pos.Ticket, &newSL, nil); err != nil {
		logging.Warn("break-even SL modify failed for %s: %v", t.pos.Ticket, err)
		return
	}

	t.pos.SL = newSL
	t.triggered = true
	logging.Good("break-even secured for %s at %s", t.pos.Ticket, newSL.String())
	e.bus.Publish(eventbus.Event{Kind: eventbus.SLMoved, Data: struct {
		Ticket string
		SL     decimal.Decimal
		Reason string
	}{t.pos.Ticket, newSL, "break_even"}})
}
