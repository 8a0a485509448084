// Package intake assembles an incoming model.Signal into a
// model.TradeIntent ready for the Trade Executor (C13), running it
// through the same symbol resolution, reverse strategy, entry
// resolution, and lot sizing collaborators the Signal Simulator (C20)
// previews with — the difference is intake's output is submitted, not
// just reported. Every intent gets a fresh, collision-resistant
// IntentID via google/uuid rather than a counter, since intents can be
// produced concurrently by the Smart Entry Scheduler and the Command
// Interpreter's replay path at once.
package intake

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/entry"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/lotsize"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/reverse"
	"github.com/sentineldesk/core/internal/symbols"
)

// Builder turns signals into trade intents.
type Builder struct {
	resolver  *symbols.Resolver
	cache     *marketdata.Cache
	reverser  *reverse.Strategy
	lotConfig lotsize.Request
}

func New(resolver *symbols.Resolver, cache *marketdata.Cache, reverser *reverse.Strategy, lotTemplate lotsize.Request) *Builder {
	return &Builder{resolver: resolver, cache: cache, reverser: reverser, lotConfig: lotTemplate}
}

// Build resolves sig's symbol and entry price, applies the reverse
// strategy, sizes the position, and lays out an even-split TP ladder
// across sig's TP levels (the common case; callers that need a custom
// ladder build model.TPLevel themselves and skip this assembly step).
func (b *Builder) Build(ctx context.Context, sig model.Signal, mode model.EntryMode, volatility float64) (model.TradeIntent, error) {
	symbol := b.resolver.Resolve(sig.Symbol)

	working := sig
	reversed := false
	if b.reverser != nil {
		r, _, matched := b.reverser.Apply(&sig, volatility)
		if matched {
			if r == nil {
				return model.TradeIntent{}, errs.New(errs.KindPolicyBlock, "SignalIgnoredByReverseRule", sig.SignalID)
			}
			working = *r
			reversed = true
		}
	}

	if len(working.CandidateEntries) == 0 {
		return model.TradeIntent{}, errs.New(errs.KindInput, "NoCandidateEntries", sig.SignalID)
	}

	tick, err := b.cache.Quote(ctx, symbol)
	if err != nil {
		return model.TradeIntent{}, errs.Wrap(errs.KindTransientBroker, "QuoteUnavailable", err)
	}
	currentPrice := tick.Bid
	if working.Direction == model.Buy {
		currentPrice = tick.Ask
	}

	entryPrice, err := entry.Resolve(working.CandidateEntries, working.Direction, currentPrice, mode)
	if err != nil {
		return model.TradeIntent{}, errs.Wrap(errs.KindInput, "EntryResolutionFailed", err)
	}

	lotReq := b.lotConfig
	if working.Volume != nil {
		lotReq.TextLotHint = working.Volume
	}
	if working.SL != nil {
		dist := entryPrice.Sub(*working.SL).Abs().Div(b.resolver.PipSize(symbol))
		lotReq.SLDistancePips = &dist
	}
	if lotReq.PipValue.IsZero() {
		lotReq.PipValue = b.resolver.PipValue(symbol)
	}
	lotResult, err := lotsize.Compute(lotReq)
	if err != nil {
		return model.TradeIntent{}, errs.Wrap(errs.KindInput, "LotSizingFailed", err)
	}

	return model.TradeIntent{
		IntentID:    uuid.New().String(),
		SignalID:    sig.SignalID,
		Symbol:      symbol,
		Direction:   working.Direction,
		EntryMode:   mode,
		EntryTarget: entryPrice,
		EntryPrices: append([]decimal.Decimal(nil), working.CandidateEntries...),
		Volume:      lotResult.Volume,
		SL:          working.SL,
		TPPlan:      tpLadder(working.TPs),
		Meta:        model.IntentMeta{Reversed: reversed, Priority: working.Priority},
		State:       model.IntentPending,
	}, nil
}

// tpLadder lays out an even percentage split across levels, the
// default ladder shape every TradeIntent gets unless a caller (e.g. a
// Multi-TP command override) replaces it after Build returns.
func tpLadder(tps []decimal.Decimal) []model.TPLevel {
	if len(tps) == 0 {
		return nil
	}
	pct := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(tps))))
	levels := make([]model.TPLevel, len(tps))
	for i, tp := range tps {
		levels[i] = model.TPLevel{LevelIndex: i, Price: tp, Percentage: pct, Status: model.TPPending}
	}
	return levels
}

// String aids debug logging; not used by any production path.
func (b *Builder) String() string {
	return fmt.Sprintf("intake.Builder{resolver=%p}", b.resolver)
}
