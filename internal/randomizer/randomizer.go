// Package randomizer implements the Lot Randomizer (C11): a
// deterministic small variance on volume to avoid pattern detection.
// Hashing is stdlib (hash/fnv) since seeding must be fully reproducible
// given (symbol, entry, timestamp, direction) — no pack library provides
// a deterministic seeded-hash PRNG construction, so fnv + math/rand's
// seeded source is the idiomatic stdlib route here.
package randomizer

import (
	"hash/fnv"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/money"
)

// Config configures variance bounds and repeat avoidance.
type Config struct {
	VarianceRange     decimal.Decimal
	RoundingPrecision int32
	AvoidRepeats      bool
	MaxRepeatHistory  int
	MaxAttempts       int
}

// Randomizer applies deterministic jitter and tracks recent values per
// symbol to avoid repeats.
type Randomizer struct {
	config  Config
	history map[string][]decimal.Decimal
}

func New(config Config) *Randomizer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	return &Randomizer{config: config, history: map[string][]decimal.Decimal{}}
}

func seed(symbol string, entry decimal.Decimal, timestampMS int64, direction string, salt int) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(entry.String()))
	h.Write([]byte(direction))
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(timestampMS >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(salt >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// Apply draws a deterministic variance for (symbol, entry, direction,
// timestampMS), applies it to volume, rounds and clamps, and re-draws
// with a salted seed up to MaxAttempts times if the result duplicates a
// recent value for the symbol.
func (r *Randomizer) Apply(symbol string, entry, volume decimal.Decimal, timestampMS int64, direction string, minLot, maxLot decimal.Decimal) decimal.Decimal {
	step := decimal.NewFromFloat(1)
	if r.config.RoundingPrecision > 0 {
		step = decimal.NewFromFloat(1).Div(decimal.NewFromInt(10).Pow(decimal.NewFromInt32(r.config.RoundingPrecision)))
	}

	var result decimal.Decimal
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		s := seed(symbol, entry, timestampMS, direction, attempt)
		rng := rand.New(rand.NewSource(int64(s)))
		variance := (rng.Float64()*2 - 1) * r.config.VarianceRange.InexactFloat64()

		candidate := volume.Add(decimal.NewFromFloat(variance))
		candidate = money.RoundStep(candidate, step)
		candidate = money.Clamp(candidate, minLot, maxLot)

		if !r.config.AvoidRepeats || !r.isRecent(symbol, candidate) {
			result = candidate
			break
		}
		result = candidate // last attempt's value even if still a repeat
	}

	r.record(symbol, result)
	return result
}

func (r *Randomizer) isRecent(symbol string, v decimal.Decimal) bool {
	for _, h := range r.history[symbol] {
		if h.Equal(v) {
			return true
		}
	}
	return false
}

func (r *Randomizer) record(symbol string, v decimal.Decimal) {
	hist := append(r.history[symbol], v)
	if r.config.MaxRepeatHistory > 0 && len(hist) > r.config.MaxRepeatHistory {
		hist = hist[len(hist)-r.config.MaxRepeatHistory:]
	}
	r.history[symbol] = hist
}
