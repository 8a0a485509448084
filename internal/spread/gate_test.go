package spread

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/symbols"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newCache(t *testing.T, bid, ask decimal.Decimal) *marketdata.Cache {
	t.Helper()
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", bid, ask, time.Now())
	resolver := symbols.New()
	return marketdata.New(sentinel, resolver, clock.RealClock{})
}

func TestCheckAllowsWithinDefaultThreshold(t *testing.T) {
	cache := newCache(t, dec(1.0999), dec(1.1001)) // 2 pip spread
	g := New(cache, Config{DefaultThresholdPips: dec(5)})

	v, err := g.Check(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected Allowed within threshold, got %+v", v)
	}
}

func TestCheckBlocksWhenSpreadExceedsThreshold(t *testing.T) {
	cache := newCache(t, dec(1.0900), dec(1.1100)) // 200 pip spread
	g := New(cache, Config{DefaultThresholdPips: dec(5)})

	v, err := g.Check(context.Background(), "EURUSD")
	if err == nil {
		t.Fatalf("expected a BlockedHighSpread error")
	}
	if v.Allowed {
		t.Fatalf("expected Allowed=false on a block")
	}
}

func TestCheckUsesPerSymbolThresholdOverDefault(t *testing.T) {
	cache := newCache(t, dec(1.0990), dec(1.1010)) // 20 pip spread
	g := New(cache, Config{
		DefaultThresholdPips: dec(5),
		PerSymbol:            map[string]decimal.Decimal{"EURUSD": dec(30)},
	})

	v, err := g.Check(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("expected the wider per-symbol threshold to allow a 20 pip spread, got %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected Allowed with a per-symbol override")
	}
}

func TestCheckRecommendsDeferForConfiguredSymbols(t *testing.T) {
	cache := newCache(t, dec(1.0900), dec(1.1100)) // 200 pip spread: blocked
	g := New(cache, Config{
		DefaultThresholdPips: dec(5),
		DeferSymbols:         map[string]int{"EURUSD": 250},
	})

	v, err := g.Check(context.Background(), "EURUSD")
	if err == nil {
		t.Fatalf("expected a block even for a defer-configured symbol")
	}
	if v.DeferMS != 250 {
		t.Fatalf("expected DeferMS=250 on a deferrable block, got %d", v.DeferMS)
	}
}

func TestCheckReportsZeroDeferForNonDeferSymbols(t *testing.T) {
	cache := newCache(t, dec(1.0900), dec(1.1100))
	g := New(cache, Config{DefaultThresholdPips: dec(5)})

	v, err := g.Check(context.Background(), "EURUSD")
	if err == nil {
		t.Fatalf("expected a block")
	}
	if v.DeferMS != 0 {
		t.Fatalf("expected DeferMS=0 without a defer configuration, got %d", v.DeferMS)
	}
}
