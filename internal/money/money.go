// Package money centralizes decimal price, pip, and volume arithmetic so
// the rest of the tree never touches float64 for anything that crosses a
// broker boundary or accumulates across thousands of modifications.
package money

import (
	"github.com/shopspring/decimal"
)

// D is a convenience alias so call sites read "money.D" instead of the
// fully qualified decimal type.
type D = decimal.Decimal

// FromFloat converts a float64 (e.g. a value parsed from free text) into
// a decimal. Use sparingly, only at input boundaries.
func FromFloat(f float64) D { return decimal.NewFromFloat(f) }

// Pips converts a price delta into a pip count given a symbol's pip size.
func Pips(delta, pipSize D) D {
	if pipSize.IsZero() {
		return decimal.Zero
	}
	return delta.Div(pipSize)
}

// FromPips converts a pip count back into a price delta.
func FromPips(pips, pipSize D) D {
	return pips.Mul(pipSize)
}

// RoundStep rounds v down to the nearest multiple of step (e.g. lot_step,
// price tick). A zero step returns v unchanged.
func RoundStep(v, step D) D {
	if step.IsZero() {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max D) D {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// Percent returns v * pct/100.
func Percent(v, pct D) D {
	return v.Mul(pct).Div(decimal.NewFromInt(100))
}
