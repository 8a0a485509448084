// Package simulator implements the Signal Simulator (C20): runs a
// signal through the same resolution pipeline the live system uses
// (symbol resolution, spread gate, reverse strategy, lot sizing, entry
// resolution, condition routing) against a quote snapshot, and reports
// the resulting {entry, sl, tp, lot, mode} preview without placing an
// order. No teacher file previews a trade before execution; grounded
// directly on spec §4.20's composition list.
package simulator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/entry"
	"github.com/sentineldesk/core/internal/lotsize"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/reverse"
	"github.com/sentineldesk/core/internal/router"
	"github.com/sentineldesk/core/internal/spread"
	"github.com/sentineldesk/core/internal/symbols"
)

// Result is the simulator's output: the same shape a dry run of the
// live pipeline would have produced, plus any warnings raised along
// the way instead of hard failures.
type Result struct {
	Symbol    string
	Direction model.Direction
	Entry     decimal.Decimal
	SL        *decimal.Decimal
	TPs       []decimal.Decimal
	Lot       decimal.Decimal
	Mode      model.EntryMode
	Route     model.RoutingDecision
	Valid     bool
	Warnings  []string
}

// Simulator composes the resolver, spread gate, reverse strategy, lot
// sizer, entry resolver, and condition router against a shared market
// data cache — the same collaborators C4/C5/C9/C10/C13 use live, so a
// preview and a real placement only ever diverge in that the simulator
// never calls broker.Bridge.PlaceOrder.
type Simulator struct {
	resolver  *symbols.Resolver
	cache     *marketdata.Cache
	gate      *spread.Gate
	reverser  *reverse.Strategy
	router    *router.Router
	lotConfig lotsize.Request // template; Balance/Mode/Parameter overridden per call
	volatility router.VolatilityFunc
}

// New constructs a Simulator from the same component instances the
// live pipeline uses, so configuration never drifts between preview
// and execution.
func New(resolver *symbols.Resolver, cache *marketdata.Cache, gate *spread.Gate, reverser *reverse.Strategy, r *router.Router, lotTemplate lotsize.Request, volatility router.VolatilityFunc) *Simulator {
	if volatility == nil {
		volatility = func(string) float64 { return router.DefaultVolatility("default") }
	}
	return &Simulator{resolver: resolver, cache: cache, gate: gate, reverser: reverser, router: r, lotConfig: lotTemplate, volatility: volatility}
}

// Simulate previews sig through the full policy pipeline. Preflight
// failures (no quote, blocked spread, no candidate entries) downgrade
// to a warning and Valid=false rather than an error return, since a
// preview's job is to explain why a signal would be rejected, not to
// reject the caller's request itself.
func (s *Simulator) Simulate(ctx context.Context, sig model.Signal, mode model.EntryMode) (Result, error) {
	res := Result{Symbol: s.resolver.Resolve(sig.Symbol), Direction: sig.Direction, Mode: mode, Valid: true}

	tick, err := s.cache.Quote(ctx, res.Symbol)
	if err != nil {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("no quote available for %s: %v", res.Symbol, err))
		return res, nil
	}

	symbolClass := symbolClassOf(res.Symbol)
	volatility := s.volatility(res.Symbol)

	working := sig
	if s.reverser != nil {
		reversed, ruleID, matched := s.reverser.Apply(&sig, volatility)
		if matched {
			if reversed == nil {
				res.Valid = false
				res.Warnings = append(res.Warnings, fmt.Sprintf("reverse rule %s ignores this signal", ruleID))
				return res, nil
			}
			working = *reversed
			res.Direction = working.Direction
			res.Warnings = append(res.Warnings, fmt.Sprintf("reverse rule %s applied", ruleID))
		}
	}

	if s.gate != nil {
		if _, gateErr := s.gate.Check(ctx, res.Symbol); gateErr != nil {
			res.Valid = false
			res.Warnings = append(res.Warnings, fmt.Sprintf("spread gate would block: %v", gateErr))
		}
	}

	currentPrice := tick.Bid
	if working.Direction == model.Buy {
		currentPrice = tick.Ask
	}

	if len(working.CandidateEntries) == 0 {
		res.Valid = false
		res.Warnings = append(res.Warnings, "signal has no candidate entries")
		return res, nil
	}
	entryPrice, err := entry.Resolve(working.CandidateEntries, working.Direction, currentPrice, mode)
	if err != nil {
		res.Valid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("entry resolution failed: %v", err))
		return res, nil
	}
	res.Entry = entryPrice
	res.SL = working.SL
	res.TPs = append([]decimal.Decimal(nil), working.TPs...)

	lotReq := s.lotConfig
	if working.Volume != nil {
		lotReq.TextLotHint = working.Volume
	}
	if working.SL != nil {
		dist := entryPrice.Sub(*working.SL).Abs().Div(s.resolver.PipSize(res.Symbol))
		lotReq.SLDistancePips = &dist
	}
	if lotReq.PipValue.IsZero() {
		lotReq.PipValue = s.resolver.PipValue(res.Symbol)
	}
	lotResult, err := lotsize.Compute(lotReq)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("lot sizing degraded: %v", err))
	}
	res.Lot = lotResult.Volume
	if lotResult.Degraded {
		res.Warnings = append(res.Warnings, "lot size fell back to the configured minimum")
	}

	if s.router != nil {
		res.Route = s.router.Route(&working, router.MarketState{
			Volatility:  volatility,
			SymbolClass: symbolClass,
			SpreadPips:  tickSpreadFloat(tick),
		})
	}

	if warn := validateConsistency(working.Direction, entryPrice, working.SL, working.TPs); warn != "" {
		res.Valid = false
		res.Warnings = append(res.Warnings, warn)
	}

	return res, nil
}

// validateConsistency checks that SL and every TP sit on the correct
// side of entry for direction: BUY wants SL < entry < TP, SELL wants
// SL > entry > TP. A violation is reported, never silently corrected —
// the simulator previews what the live pipeline would do, including
// its mistakes.
func validateConsistency(dir model.Direction, entryPrice decimal.Decimal, sl *decimal.Decimal, tps []decimal.Decimal) string {
	if dir == model.Buy {
		if sl != nil && !sl.LessThan(entryPrice) {
			return "SL is not below entry for a BUY"
		}
		for _, tp := range tps {
			if !tp.GreaterThan(entryPrice) {
				return "a TP is not above entry for a BUY"
			}
		}
	} else {
		if sl != nil && !sl.GreaterThan(entryPrice) {
			return "SL is not above entry for a SELL"
		}
		for _, tp := range tps {
			if !tp.LessThan(entryPrice) {
				return "a TP is not below entry for a SELL"
			}
		}
	}
	return ""
}

func symbolClassOf(symbol string) string {
	switch {
	case len(symbol) >= 3 && (symbol[:3] == "XAU" || symbol[:3] == "XAG"):
		return "metal"
	case symbol == "US30" || symbol == "NAS100":
		return "index"
	case len(symbol) >= 6 && symbol[3:6] == "JPY":
		return "jpy"
	default:
		return "fx"
	}
}

func tickSpreadFloat(tick marketdata.Tick) float64 {
	f, _ := tick.SpreadPips.Float64()
	return f
}
