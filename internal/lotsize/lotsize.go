// Package lotsize implements the Lot Sizer (C3), grounded on the
// teacher's balance/risk-percent sizing logic in execution_service.go,
// generalized from one fixed risk formula into the spec's six sizing
// modes.
package lotsize

import (
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/money"
)

// Mode selects how Compute derives volume.
type Mode string

const (
	FixedLot       Mode = "FIXED_LOT"
	RiskPercent    Mode = "RISK_PERCENT"
	BalancePercent Mode = "BALANCE_PERCENT"
	FixedCash      Mode = "FIXED_CASH"
	PipValueTarget Mode = "PIP_VALUE_TARGET"
	TextOverride   Mode = "TEXT_OVERRIDE"
)

// RiskKeyword is a text-derived risk-multiplier hint.
type RiskKeyword string

const (
	RiskConservative RiskKeyword = "conservative"
	RiskNormal       RiskKeyword = "normal"
	RiskAggressive   RiskKeyword = "aggressive"
	RiskMax          RiskKeyword = "max"
)

// Multiplier returns the configured multiplier for a risk keyword,
// defaulting to "normal" for an unrecognized or empty keyword.
func (k RiskKeyword) Multiplier() decimal.Decimal {
	switch k {
	case RiskConservative:
		return decimal.NewFromFloat(0.5)
	case RiskAggressive:
		return decimal.NewFromFloat(2.0)
	case RiskMax:
		return decimal.NewFromFloat(3.0)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// Request bundles every input Compute might need, only some of which
// apply depending on Mode.
type Request struct {
	Mode           Mode
	Parameter      decimal.Decimal // percent, cash amount, or fixed lot, depending on Mode
	Balance        decimal.Decimal
	SLDistancePips *decimal.Decimal
	PipValue       decimal.Decimal
	TextLotHint    *decimal.Decimal
	RiskKeyword    RiskKeyword
	MinLot         decimal.Decimal
	MaxLot         decimal.Decimal
	Precision      int32
}

// Result is Compute's output: a bounded, rounded volume, flagged
// degraded when a required input was missing and a conservative
// fallback was substituted.
type Result struct {
	Volume   decimal.Decimal
	Degraded bool
}

// Compute derives an order volume from a Request per spec §4.3.
func Compute(req Request) (Result, error) {
	mult := req.RiskKeyword.Multiplier()

	var raw decimal.Decimal
	degraded := false

	switch req.Mode {
	case FixedLot:
		raw = req.Parameter

	case RiskPercent:
		if req.SLDistancePips == nil || req.PipValue.IsZero() {
			return degradedDefault(req), errs.New(errs.KindInput, "InsufficientInput", "RISK_PERCENT requires sl_distance_pips and pip_value")
		}
		riskAmount := money.Percent(req.Balance, req.Parameter).Mul(mult)
		raw = riskAmount.Div(req.SLDistancePips.Mul(req.PipValue))

	case BalancePercent:
		raw = money.Percent(req.Balance, req.Parameter).Mul(mult)

	case FixedCash:
		if req.SLDistancePips == nil || req.PipValue.IsZero() {
			return degradedDefault(req), errs.New(errs.KindInput, "InsufficientInput", "FIXED_CASH requires sl_distance_pips and pip_value")
		}
		raw = req.Parameter.Mul(mult).Div(req.SLDistancePips.Mul(req.PipValue))

	case PipValueTarget:
		if req.PipValue.IsZero() {
			return degradedDefault(req), errs.New(errs.KindInput, "InsufficientInput", "PIP_VALUE_TARGET requires pip_value")
		}
		raw = req.Parameter.Div(req.PipValue).Mul(mult)

	case TextOverride:
		if req.TextLotHint == nil {
			return degradedDefault(req), errs.New(errs.KindInput, "InsufficientInput", "TEXT_OVERRIDE requires a parsed lot hint")
		}
		raw = req.TextLotHint.Mul(mult)

	default:
		return degradedDefault(req), errs.New(errs.KindInput, "InsufficientInput", "unknown lot sizing mode")
	}

	vol := money.RoundStep(raw, stepFor(req.Precision))
	vol = money.Clamp(vol, req.MinLot, req.MaxLot)
	return Result{Volume: vol, Degraded: degraded}, nil
}

func stepFor(precision int32) decimal.Decimal {
	if precision <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(1).Div(decimal.NewFromInt(10).Pow(decimal.NewFromInt32(precision)))
}

// degradedDefault returns the conservative min-lot fallback with the
// degraded flag set, per spec's InsufficientInput handling.
func degradedDefault(req Request) Result {
	return Result{Volume: req.MinLot, Degraded: true}
}
