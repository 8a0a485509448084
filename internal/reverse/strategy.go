// Package reverse implements the Reverse Strategy (C9): a priority-
// ordered rule list transforming a signal before execution. No teacher
// file does this; the rule-list shape mirrors internal/router's
// condition engine directly, per spec §4.9.
package reverse

import (
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/model"
)

// Action is the transform a matching rule applies.
type Action string

const (
	FullReverse    Action = "FULL_REVERSE"
	DirectionOnly  Action = "DIRECTION_ONLY"
	IgnoreSignal   Action = "IGNORE_SIGNAL"
	ModifyParams   Action = "MODIFY_PARAMS"
)

// ConditionKind is a rule's trigger predicate.
type ConditionKind string

const (
	Always            ConditionKind = "ALWAYS"
	HighVolatility    ConditionKind = "HIGH_VOLATILITY"
	ProviderSpecific  ConditionKind = "PROVIDER_SPECIFIC"
	SymbolSpecific    ConditionKind = "SYMBOL_SPECIFIC"
)

// Rule is one entry in the priority-ordered list; the first enabled
// rule whose condition matches wins.
type Rule struct {
	ID               string
	Condition        ConditionKind
	VolatilityThreshold float64
	SymbolFilter     string
	ProviderFilter   string
	Enabled          bool
	Action           Action
	ParamTweaks      map[string]interface{} // only consulted for MODIFY_PARAMS
}

func (r Rule) matches(sig *model.Signal, volatility float64) bool {
	if !r.Enabled {
		return false
	}
	switch r.Condition {
	case Always:
		return true
	case HighVolatility:
		return volatility >= r.VolatilityThreshold
	case ProviderSpecific:
		return r.ProviderFilter != "" && sig.ProviderID == r.ProviderFilter
	case SymbolSpecific:
		return r.SymbolFilter != "" && sig.Symbol == r.SymbolFilter
	default:
		return false
	}
}

// Strategy evaluates the rule list against a signal and volatility
// reading, in priority order (list order is priority order).
type Strategy struct {
	Rules []Rule
}

// Apply returns the transformed signal (nil when IGNORE_SIGNAL fires)
// and the matched rule's ID, or ("", false) when no rule matched — in
// which case the caller should pass the signal through unmodified.
func (s *Strategy) Apply(sig *model.Signal, volatility float64) (*model.Signal, string, bool) {
	for _, rule := range s.Rules {
		if !rule.matches(sig, volatility) {
			continue
		}
		return applyAction(sig, rule), rule.ID, true
	}
	return sig, "", false
}

func applyAction(sig *model.Signal, rule Rule) *model.Signal {
	out := *sig // shallow copy; entries/TPs slices still shared but not mutated below
	switch rule.Action {
	case FullReverse:
		out.Direction = sig.Direction.Opposite()
		// new SL = original TP1, new TP = original SL, entry unchanged.
		if len(sig.TPs) > 0 {
			v := sig.TPs[0]
			out.SL = &v
		} else {
			out.SL = nil
		}
		if sig.SL != nil {
			out.TPs = []decimal.Decimal{*sig.SL}
		} else {
			out.TPs = nil
		}

	case DirectionOnly:
		// Open Question #1: direction swaps but SL/TP prices are
		// preserved as-is, which can leave them on the wrong side of
		// the new direction. Preserved verbatim per spec's explicit
		// "flagged for design review" instruction — not corrected here.
		out.Direction = sig.Direction.Opposite()

	case IgnoreSignal:
		return nil

	case ModifyParams:
		// direction unchanged; only the named fields below are
		// overridable through ParamTweaks.
		applyParamTweaks(&out, rule.ParamTweaks)
	}
	return &out
}

// applyParamTweaks overrides the subset of Signal fields a MODIFY_PARAMS
// rule is allowed to touch. Unrecognized keys and values that don't
// convert to a number are ignored rather than erroring, since rules are
// operator-authored config, not validated input.
func applyParamTweaks(sig *model.Signal, tweaks map[string]interface{}) {
	for key, v := range tweaks {
		f, ok := tweakFloat(v)
		if !ok {
			continue
		}
		switch key {
		case "sl":
			d := decimal.NewFromFloat(f)
			sig.SL = &d
		case "volume":
			d := decimal.NewFromFloat(f)
			sig.Volume = &d
		case "confidence":
			sig.Confidence = f
		}
	}
}

func tweakFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
