// Package entry implements the Entry Resolver (C4). No teacher file
// trades multi-entry signals, so this is modeled directly on spec §4.4
// and on the range-expansion shape described by original_source's
// entrypoint_range_handler.py (per the retrieval index).
package entry

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/model"
)

// ExpandRange turns a candidate "a-b" range into {a, midpoint, b}.
func ExpandRange(a, b decimal.Decimal) []decimal.Decimal {
	mid := a.Add(b).Div(decimal.NewFromInt(2))
	return []decimal.Decimal{a, mid, b}
}

// ModeFromText detects an entry-mode override keyword in free signal
// text ("average", "best", "second"), falling back to the configured
// default when none is found.
func ModeFromText(text string, fallback model.EntryMode) model.EntryMode {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "average"):
		return model.EntryAverage
	case strings.Contains(lower, "best"):
		return model.EntryBest
	case strings.Contains(lower, "second"):
		return model.EntrySecond
	default:
		return fallback
	}
}

// Resolve picks a single entry price from candidates per mode.
func Resolve(candidates []decimal.Decimal, direction model.Direction, currentPrice decimal.Decimal, mode model.EntryMode) (decimal.Decimal, error) {
	if len(candidates) == 0 {
		return decimal.Decimal{}, errs.New(errs.KindInput, "NoCandidateEntries", "")
	}

	sorted := append([]decimal.Decimal(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	switch mode {
	case model.EntryAverage:
		sum := decimal.Zero
		for _, c := range candidates {
			sum = sum.Add(c)
		}
		return sum.Div(decimal.NewFromInt(int64(len(candidates)))), nil

	case model.EntryFirst:
		return candidates[0], nil

	case model.EntrySecond:
		if len(sorted) < 2 {
			return candidates[0], nil // falls back to FIRST when only one exists
		}
		if direction == model.Sell {
			return sorted[len(sorted)-2], nil // second largest
		}
		return sorted[1], nil // second smallest

	case model.EntryBest:
		fallthrough
	default:
		best := candidates[0]
		bestDist := best.Sub(currentPrice).Abs()
		for _, c := range candidates[1:] {
			d := c.Sub(currentPrice).Abs()
			if d.LessThan(bestDist) {
				best = c
				bestDist = d
			}
		}
		return best, nil
	}
}
