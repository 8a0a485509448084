// Package marketdata implements the Market Data Cache (C2): a
// short-TTL read-through cache over the broker bridge's quote RPC,
// grounded on the teacher's websocket tick handling in main.go and
// hub.go, generalized from a single live price map into a symbol-keyed
// cache with TTL expiry and a subscribe callback fan-out.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/symbols"
)

// Tick is the cache's externally observable quote shape.
type Tick struct {
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	SpreadPips decimal.Decimal
	AsOf       time.Time
}

type entry struct {
	tick    Tick
	fetched time.Time
}

// Cache is the read-mostly TTL cache: fresh entries are served under a
// read lock, and any Quote call that finds an entry missing or older
// than the TTL refetches from the bridge and writes the result itself.
type Cache struct {
	bridge    broker.Bridge
	resolver  *symbols.Resolver
	clock     clock.Clock
	ttl       time.Duration

	mu   sync.RWMutex
	data map[string]entry

	subMu sync.Mutex
	subs  map[string][]func(Tick)
}

// New constructs a Cache with the spec's ~200ms default TTL.
func New(bridge broker.Bridge, resolver *symbols.Resolver, clk clock.Clock) *Cache {
	return &Cache{
		bridge:   bridge,
		resolver: resolver,
		clock:    clk,
		ttl:      200 * time.Millisecond,
		data:     make(map[string]entry),
		subs:     make(map[string][]func(Tick)),
	}
}

// WithTTL overrides the default TTL (used by tests to force refetch).
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

// Quote returns the current bid/ask/spread for symbol, refetching from
// the broker bridge if the cached entry is older than the TTL. Fails
// with Unavailable when the bridge errors or the symbol is unknown; a
// stale quote is never extrapolated past its TTL.
func (c *Cache) Quote(ctx context.Context, symbol string) (Tick, error) {
	resolved := c.resolver.Resolve(symbol)
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.data[resolved]
	c.mu.RUnlock()
	if ok && now.Sub(e.fetched) < c.ttl {
		return e.tick, nil
	}

	q, err := c.bridge.Quote(ctx, resolved)
	if err != nil {
		return Tick{}, errs.Wrap(errs.KindTransientBroker, "Unavailable", err)
	}

	pipSize := c.resolver.PipSize(resolved)
	spread := q.Ask.Sub(q.Bid)
	spreadPips := spread
	if !pipSize.IsZero() {
		spreadPips = spread.Div(pipSize)
	}
	tick := Tick{Bid: q.Bid, Ask: q.Ask, SpreadPips: spreadPips, AsOf: q.AsOf}

	c.mu.Lock()
	c.data[resolved] = entry{tick: tick, fetched: now}
	c.mu.Unlock()

	c.notify(resolved, tick)
	return tick, nil
}

// Subscribe registers callback to be invoked whenever Quote refreshes
// symbol's cached tick from the broker.
func (c *Cache) Subscribe(symbol string, callback func(Tick)) {
	resolved := c.resolver.Resolve(symbol)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[resolved] = append(c.subs[resolved], callback)
}

func (c *Cache) notify(symbol string, tick Tick) {
	c.subMu.Lock()
	callbacks := append([]func(Tick){}, c.subs[symbol]...)
	c.subMu.Unlock()
	for _, cb := range callbacks {
		cb(tick)
	}
}

// Refresh forces an immediate refetch for symbol regardless of TTL. No
// scheduler job in this tree calls it.
func (c *Cache) Refresh(ctx context.Context, symbol string) error {
	c.mu.Lock()
	delete(c.data, c.resolver.Resolve(symbol))
	c.mu.Unlock()
	_, err := c.Quote(ctx, symbol)
	return err
}

// String helps error messages and logs reference a quote concisely.
func (t Tick) String() string {
	return fmt.Sprintf("bid=%s ask=%s spread=%spips", t.Bid, t.Ask, t.SpreadPips)
}
