// Package router implements the Condition Router (C10): a rule engine
// mapping (signal, market state) to a route action. Grounded on
// trend_analyzer.go's IsHighVolatility/ATR-based gate and main.go's
// Analyze trend-gate logic, generalized from a hardcoded BTC/ETH/SOL
// check into data-driven predicate rules over an injected MarketState.
package router

import (
	"strconv"

	"github.com/sentineldesk/core/internal/model"
)

// Field is a predicate's subject.
type Field string

const (
	FieldVolatility   Field = "volatility"
	FieldConfidence   Field = "confidence"
	FieldSymbolClass  Field = "symbol_class"
	FieldProvider     Field = "provider"
	FieldSession      Field = "session"
	FieldSpread       Field = "spread"
	FieldMarginLevel  Field = "margin_level"
	FieldVolume       Field = "volume"
)

// Op is a predicate's comparator.
type Op string

const (
	OpEq    Op = "="
	OpNeq   Op = "≠"
	OpLt    Op = "<"
	OpLte   Op = "≤"
	OpGt    Op = ">"
	OpGte   Op = "≥"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
)

// Condition is one typed predicate.
type Condition struct {
	Field Field
	Op    Op
	Value interface{} // float64 for numeric fields, string/[]string for set fields
}

// Combinator joins a rule's conditions.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// Rule is one priority-ordered routing rule.
type Rule struct {
	ID         string
	Conditions []Condition
	Combinator Combinator
	Action     model.RouteAction
	Parameters map[string]interface{}
}

// MarketState is the injected snapshot a rule's predicates evaluate
// against, alongside the signal itself.
type MarketState struct {
	Volatility  float64
	SymbolClass string
	Session     string
	SpreadPips  float64
	MarginLevel float64
}

// VolatilityFunc resolves a symbol's volatility score. Per the spec's
// Open Question #3, the default implementation is a stub returning a
// fixed per-symbol-class constant.
type VolatilityFunc func(symbol string) float64

// DefaultVolatility is the stub table: FX majors are calmer than metals
// and indices, matching the per-symbol constants the original hardcodes.
func DefaultVolatility(symbolClass string) float64 {
	switch symbolClass {
	case "metal":
		return 0.6
	case "index":
		return 0.7
	case "jpy":
		return 0.45
	default:
		return 0.3
	}
}

// Router evaluates the rule list in priority (list) order.
type Router struct {
	Rules         []Rule
	DefaultAction model.RouteAction
}

func evalCondition(c Condition, sig *model.Signal, state MarketState) bool {
	switch c.Field {
	case FieldVolatility:
		return compareFloat(state.Volatility, c.Op, toFloat(c.Value))
	case FieldConfidence:
		return compareFloat(sig.Confidence, c.Op, toFloat(c.Value))
	case FieldSymbolClass:
		return compareSet(state.SymbolClass, c.Op, c.Value)
	case FieldProvider:
		return compareSet(sig.ProviderID, c.Op, c.Value)
	case FieldSession:
		return compareSet(state.Session, c.Op, c.Value)
	case FieldSpread:
		return compareFloat(state.SpreadPips, c.Op, toFloat(c.Value))
	case FieldMarginLevel:
		return compareFloat(state.MarginLevel, c.Op, toFloat(c.Value))
	case FieldVolume:
		if sig.Volume == nil {
			return false
		}
		v, _ := sig.Volume.Float64()
		return compareFloat(v, c.Op, toFloat(c.Value))
	default:
		return false
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func compareFloat(actual float64, op Op, value float64) bool {
	switch op {
	case OpEq:
		return actual == value
	case OpNeq:
		return actual != value
	case OpLt:
		return actual < value
	case OpLte:
		return actual <= value
	case OpGt:
		return actual > value
	case OpGte:
		return actual >= value
	default:
		return false
	}
}

func compareSet(actual string, op Op, value interface{}) bool {
	switch op {
	case OpEq:
		s, _ := value.(string)
		return actual == s
	case OpNeq:
		s, _ := value.(string)
		return actual != s
	case OpIn:
		list, _ := value.([]string)
		for _, v := range list {
			if v == actual {
				return true
			}
		}
		return false
	case OpNotIn:
		list, _ := value.([]string)
		for _, v := range list {
			if v == actual {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (r Rule) matches(sig *model.Signal, state MarketState) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	if r.Combinator == Or {
		for _, c := range r.Conditions {
			if evalCondition(c, sig, state) {
				return true
			}
		}
		return false
	}
	for _, c := range r.Conditions {
		if !evalCondition(c, sig, state) {
			return false
		}
	}
	return true
}

// Route evaluates the rule list in order, returning the first match's
// decision or the configured default action when nothing matches.
func (router *Router) Route(sig *model.Signal, state MarketState) model.RoutingDecision {
	for _, rule := range router.Rules {
		if rule.matches(sig, state) {
			var met []string
			for _, c := range rule.Conditions {
				met = append(met, string(c.Field))
			}
			return model.RoutingDecision{
				SignalID:      sig.SignalID,
				MatchedRuleID: rule.ID,
				Action:        rule.Action,
				Parameters:    rule.Parameters,
				ConditionsMet: met,
			}
		}
	}
	return model.RoutingDecision{
		SignalID: sig.SignalID,
		Action:   router.DefaultAction,
	}
}
