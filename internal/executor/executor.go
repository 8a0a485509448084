// Package executor implements the Trade Executor (C13): Submit processes
// each intent on the caller's goroutine, with at most WorkerPoolSize
// intents in flight at once (there is no separate intent queue), placing
// limit orders (single or range-split), retrying transient failures, and
// reporting results. Grounded on execution_service.go's maker-then-market
// "stealth walk" placement flow, of which only the limit-order placement
// is kept (no cancel-and-walk, no market fallback), and its ad hoc
// sleep-based retry loop, upgraded to golang.org/x/sync/semaphore for
// the concurrency bound and jpillora/backoff for retries.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
	"github.com/sentineldesk/core/internal/margin"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/spread"
	"github.com/sentineldesk/core/internal/symbols"
)

// Config configures the worker pool and placement defaults.
type Config struct {
	WorkerPoolSize   int64
	MaxSlippagePips  decimal.Decimal
	MagicNumber      int64
	MaxRetries       int
	RetryBaseDelayMS int
	RangePaceDelay   time.Duration
}

// Registrar is notified on every successful fill so C14-C18 can register
// their per-position state. Implemented by the wiring layer (cmd entrypoint).
type Registrar interface {
	RegisterPosition(pos *model.Position, intent model.TradeIntent)
}

// Executor owns the semaphore bounding concurrent intents and the
// per-ticket mutex set serializing broker modifications.
type Executor struct {
	bridge   broker.Bridge
	resolver *symbols.Resolver
	gate     *spread.Gate
	guard    *margin.Guard
	bus      *eventbus.Bus
	config   Config
	registrar Registrar

	sem *semaphore.Weighted

	stateMu sync.Mutex
	state   map[string]model.IntentState

	ticketLocksMu sync.Mutex
	ticketLocks   map[string]*sync.Mutex
}

func New(bridge broker.Bridge, resolver *symbols.Resolver, gate *spread.Gate, guard *margin.Guard, bus *eventbus.Bus, config Config, registrar Registrar) *Executor {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 5
	}
	return &Executor{
		bridge:      bridge,
		resolver:    resolver,
		gate:        gate,
		guard:       guard,
		bus:         bus,
		config:      config,
		registrar:   registrar,
		sem:         semaphore.NewWeighted(config.WorkerPoolSize),
		state:       map[string]model.IntentState{},
		ticketLocks: map[string]*sync.Mutex{},
	}
}

func (e *Executor) lockFor(ticket string) *sync.Mutex {
	e.ticketLocksMu.Lock()
	defer e.ticketLocksMu.Unlock()
	l, ok := e.ticketLocks[ticket]
	if !ok {
		l = &sync.Mutex{}
		e.ticketLocks[ticket] = l
	}
	return l
}

// Submit acquires a worker slot and processes intent to completion. The
// at-most-once guarantee: a worker that finds a non-PENDING intent (a
// duplicate submission) skips it immediately.
func (e *Executor) Submit(ctx context.Context, intent model.TradeIntent) error {
	e.stateMu.Lock()
	if st, seen := e.state[intent.IntentID]; seen && st != model.IntentPending {
		e.stateMu.Unlock()
		return nil // already executing/filled/failed; skip
	}
	e.state[intent.IntentID] = model.IntentExecuting
	e.stateMu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	return e.process(ctx, intent)
}

func (e *Executor) setState(intentID string, st model.IntentState) {
	e.stateMu.Lock()
	e.state[intentID] = st
	e.stateMu.Unlock()
}

func (e *Executor) process(ctx context.Context, intent model.TradeIntent) error {
	// 1. Pre-flight: re-check spread and margin fresh, guarding against
	// queue-age staleness.
	if _, err := e.gate.Check(ctx, intent.Symbol); err != nil {
		e.setState(intent.IntentID, model.IntentFailed)
		e.bus.Publish(eventbus.Event{Kind: eventbus.SpreadBlocked, Data: intent})
		return err
	}

	// 2. Map symbol.
	brokerSymbol := e.resolver.Resolve(intent.Symbol)

	marginPerLot := e.resolver.PipValue(brokerSymbol)
	if result, err := e.guard.Preflight(brokerSymbol, intent.Volume, marginPerLot, decimal.NewFromFloat(1.0)); err != nil {
		e.setState(intent.IntentID, model.IntentFailed)
		e.bus.Publish(eventbus.Event{Kind: eventbus.SignalBlocked, Data: struct {
			Intent model.TradeIntent
			Reason margin.PreflightResult
		}{intent, result}})
		return err
	}

	// 3. Range entries: split volume evenly, one order per entry price,
	// small pacing between.
	entries := intent.EntryPrices
	if len(entries) == 0 {
		entries = []decimal.Decimal{intent.EntryTarget}
	}

	var lastResult broker.PlaceOrderResult
	perEntryVolume := intent.Volume
	if len(entries) > 1 {
		perEntryVolume = intent.Volume.Div(decimal.NewFromInt(int64(len(entries))))
	}

	for i, price := range entries {
		result, err := e.placeWithRetry(ctx, intent, brokerSymbol, price, perEntryVolume)
		if err != nil {
			e.setState(intent.IntentID, model.IntentFailed)
			e.bus.Publish(eventbus.Event{Kind: eventbus.OrderFailed, Data: struct {
				IntentID string
				Err      error
			}{intent.IntentID, err}})
			return err
		}
		lastResult = result
		if i < len(entries)-1 && e.config.RangePaceDelay > 0 {
			time.Sleep(e.config.RangePaceDelay)
		}
	}

	e.setState(intent.IntentID, model.IntentFilled)
	pos := &model.Position{
		Ticket:          lastResult.Ticket,
		IntentID:        intent.IntentID,
		SignalID:        intent.SignalID,
		Symbol:          brokerSymbol,
		Direction:       intent.Direction,
		EntryPrice:      lastResult.Price,
		VolumeAtIntent:  intent.Volume,
		VolumeRemaining: intent.Volume,
		TPPlanRemaining: intent.TPPlan,
		OpenTime:        time.Now(),
		State:           model.PositionOpen,
	}
	if intent.SL != nil {
		pos.SL = *intent.SL
	}
	e.bus.Publish(eventbus.Event{Kind: eventbus.PositionOpened, Data: pos})
	if e.registrar != nil {
		e.registrar.RegisterPosition(pos, intent)
	}
	return nil
}

// placeWithRetry places one order leg, retrying TransientBrokerError with
// exponential backoff for at most MaxRetries attempts in total (at least
// one); HardBrokerError is not retried.
func (e *Executor) placeWithRetry(ctx context.Context, intent model.TradeIntent, symbol string, price, volume decimal.Decimal) (broker.PlaceOrderResult, error) {
	b := &backoff.Backoff{
		Min:    time.Duration(e.config.RetryBaseDelayMS) * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	action := broker.ActionBuyLimit
	if intent.Direction == model.Sell {
		action = broker.ActionSellLimit
	}

	req := broker.PlaceOrderRequest{
		Action:        action,
		Symbol:        symbol,
		Volume:        volume,
		Price:         &price,
		SL:            intent.SL,
		DeviationPips: e.config.MaxSlippagePips,
		Magic:         e.config.MagicNumber,
		Comment:       fmt.Sprintf("sd:%s", intent.IntentID),
	}

	var lastErr error
	maxRetries := e.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := e.bridge.PlaceOrder(ctx, req)
		if err == nil {
			e.bus.Publish(eventbus.Event{Kind: eventbus.OrderPlaced, Data: result})
			return result, nil
		}
		lastErr = err
		if !errs.Retryable(err) {
			return broker.PlaceOrderResult{}, err
		}
		logging.Warn("transient broker error on %s (attempt %d/%d): %v", symbol, attempt+1, maxRetries, err)
		time.Sleep(b.Duration())
	}
	return broker.PlaceOrderResult{}, lastErr
}

// RequestModify serializes an SL/TP modification for ticket through its
// per-ticket mutex, so concurrent requests (from C14-C18) never race a
// single position's broker state.
func (e *Executor) RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	lock := e.lockFor(ticket)
	lock.Lock()
	defer lock.Unlock()

	if err := e.bridge.ModifyPosition(ctx, ticket, sl, tp); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Event{Kind: eventbus.SLMoved, Data: struct {
		Ticket string
		SL     *decimal.Decimal
	}{ticket, sl}})
	return nil
}

// RequestPartialClose serializes a partial close for ticket.
func (e *Executor) RequestPartialClose(ctx context.Context, ticket string, volume, price decimal.Decimal, deviationPips decimal.Decimal) error {
	lock := e.lockFor(ticket)
	lock.Lock()
	defer lock.Unlock()

	_, err := e.bridge.PartialClose(ctx, ticket, volume, price, deviationPips)
	return err
}

// RequestClose serializes a full close for ticket (satisfies
// margin.CloseRequester).
func (e *Executor) RequestClose(ctx context.Context, ticket string) error {
	lock := e.lockFor(ticket)
	lock.Lock()
	defer lock.Unlock()

	if err := e.bridge.ClosePosition(ctx, ticket); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Event{Kind: eventbus.PositionClosed, Data: ticket})
	return nil
}
