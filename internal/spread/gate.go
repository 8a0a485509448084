// Package spread implements the Spread Gate (C5), grounded on the
// teacher's inline spread checks before placing maker orders in
// execution_service.go, generalized into its own consulted-by-C13-and-C12
// engine with per-symbol thresholds and an optional defer recommendation.
package spread

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/marketdata"
)

// Verdict is the gate's decision for one order.
type Verdict struct {
	Allowed       bool
	CurrentPips   decimal.Decimal
	ThresholdPips decimal.Decimal
	// DeferMS is non-zero when the symbol is configured to recommend a
	// short delay instead of a hard block.
	DeferMS int
}

// Config is the per-symbol / global-default threshold table, plus an
// opt-in list of symbols that prefer "defer" over "block".
type Config struct {
	DefaultThresholdPips decimal.Decimal
	PerSymbol            map[string]decimal.Decimal
	DeferSymbols         map[string]int // symbol -> defer ms
}

// Gate consults the market data cache immediately before placement.
type Gate struct {
	cache  *marketdata.Cache
	config Config
}

func New(cache *marketdata.Cache, config Config) *Gate {
	if config.PerSymbol == nil {
		config.PerSymbol = map[string]decimal.Decimal{}
	}
	if config.DeferSymbols == nil {
		config.DeferSymbols = map[string]int{}
	}
	return &Gate{cache: cache, config: config}
}

func (g *Gate) threshold(symbol string) decimal.Decimal {
	if t, ok := g.config.PerSymbol[symbol]; ok {
		return t
	}
	return g.config.DefaultThresholdPips
}

// Check fetches a fresh quote and evaluates the spread against the
// symbol's threshold. Returns a *errs.Error with reason
// "BlockedHighSpread" (wrapped in Verdict.Allowed=false) when blocked.
func (g *Gate) Check(ctx context.Context, symbol string) (Verdict, error) {
	tick, err := g.cache.Quote(ctx, symbol)
	if err != nil {
		return Verdict{}, err
	}

	threshold := g.threshold(symbol)
	if tick.SpreadPips.LessThanOrEqual(threshold) {
		return Verdict{Allowed: true, CurrentPips: tick.SpreadPips, ThresholdPips: threshold}, nil
	}

	verdict := Verdict{Allowed: false, CurrentPips: tick.SpreadPips, ThresholdPips: threshold}
	if ms, ok := g.config.DeferSymbols[symbol]; ok {
		verdict.DeferMS = ms
	}
	return verdict, errs.New(errs.KindPolicyBlock, "BlockedHighSpread", symbol)
}
