// Package symbols implements the Symbol & Pip Resolver (C1): a pure
// function module with no I/O. Pip/contract constants are grounded on
// the teacher's per-coin CoinProfile tables in main.go, generalized from
// a handful of hardcoded crypto pairs into a symbol-class lookup table
// covering FX majors, JPY pairs, metals, and indices.
package symbols

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Resolver normalizes raw signal-text symbols into broker symbols and
// supplies pip size / contract size / pip value for sizing math.
type Resolver struct {
	aliases       map[string]string
	brokerSuffixes []string
	pipSizes      map[string]decimal.Decimal
	pipValues     map[string]decimal.Decimal
	defaultPip    decimal.Decimal
	defaultValue  decimal.Decimal
}

// Option configures a Resolver at construction.
type Option func(*Resolver)

// WithAliases merges extra raw->broker symbol aliases (e.g. GOLD->XAUUSD).
func WithAliases(aliases map[string]string) Option {
	return func(r *Resolver) {
		for k, v := range aliases {
			r.aliases[strings.ToUpper(k)] = strings.ToUpper(v)
		}
	}
}

// WithBrokerSuffixes adds broker-specific suffixes to strip (e.g. ".m", "-ECN").
func WithBrokerSuffixes(suffixes ...string) Option {
	return func(r *Resolver) {
		r.brokerSuffixes = append(r.brokerSuffixes, suffixes...)
	}
}

// New returns a Resolver seeded with the default alias/pip tables,
// further customized by opts.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		aliases: map[string]string{
			"GOLD":   "XAUUSD",
			"SILVER": "XAGUSD",
			"OIL":    "USOIL",
			"US30":   "US30",
			"NAS100": "NAS100",
		},
		pipSizes: map[string]decimal.Decimal{
			"XAUUSD": decimal.NewFromFloat(0.01),
			"XAGUSD": decimal.NewFromFloat(0.001),
			"US30":   decimal.NewFromFloat(1.0),
			"NAS100": decimal.NewFromFloat(1.0),
		},
		pipValues:    map[string]decimal.Decimal{},
		defaultPip:   decimal.NewFromFloat(0.0001),
		defaultValue: decimal.NewFromInt(10),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve maps a raw, possibly-aliased, possibly-suffixed symbol to its
// canonical broker symbol.
func (r *Resolver) Resolve(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, suffix := range r.brokerSuffixes {
		s = strings.TrimSuffix(s, strings.ToUpper(suffix))
	}
	if alias, ok := r.aliases[s]; ok {
		return alias
	}
	return s
}

// PipSize returns the pip size for a (already-resolved) broker symbol:
// 1e-4 for most FX, 1e-2 for JPY pairs and XAUUSD, 1e-3 for XAGUSD,
// 1.0 for US30/NAS100.
func (r *Resolver) PipSize(symbol string) decimal.Decimal {
	if v, ok := r.pipSizes[symbol]; ok {
		return v
	}
	if strings.Contains(symbol, "JPY") {
		return decimal.NewFromFloat(0.01)
	}
	return r.defaultPip
}

// PipValue returns the USD-normalized pip value per 1 standard lot. A
// broker-supplied override (from SymbolInfo) should be preferred by
// callers when available; this is the fallback table.
func (r *Resolver) PipValue(symbol string) decimal.Decimal {
	if v, ok := r.pipValues[symbol]; ok {
		return v
	}
	return r.defaultValue
}

// ContractSize returns the notional size of one standard lot for the
// symbol; 100 for XAU/XAG metals, 1 for US30/NAS100, and 100000 for
// every other symbol (FX, and crypto too), matching the broker convention the teacher assumes implicitly in its
// quantity math.
func (r *Resolver) ContractSize(symbol string) decimal.Decimal {
	switch {
	case strings.HasPrefix(symbol, "XAU"), strings.HasPrefix(symbol, "XAG"):
		return decimal.NewFromInt(100)
	case symbol == "US30", symbol == "NAS100":
		return decimal.NewFromInt(1)
	default:
		return decimal.NewFromInt(100000)
	}
}
