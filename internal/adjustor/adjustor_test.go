package adjustor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/symbols"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeModifier struct {
	modifies []decimal.Decimal
}

func (f *fakeModifier) RequestModify(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	f.modifies = append(f.modifies, *sl)
	return nil
}

func newTestCache(t *testing.T, bid, ask decimal.Decimal, clk clock.Clock) *marketdata.Cache {
	t.Helper()
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", bid, ask, time.Now())
	return marketdata.New(sentinel, symbols.New(), clk)
}

func pipSize() func(string) decimal.Decimal {
	return func(string) decimal.Decimal { return dec(0.0001) }
}

// testPosition models a BUY position that opened with its SL at the
// 1.0950 risk floor; the tests tighten that SL (as trailing/break-even
// would) after registering it.
func testPosition() *model.Position {
	return &model.Position{
		Ticket:     "T1",
		Symbol:     "EURUSD",
		Direction:  model.Buy,
		EntryPrice: dec(1.1000),
		SL:         dec(1.0950),
		State:      model.PositionOpen,
	}
}

func TestAdjustorWidensSLOnWideSpreadButNeverPastOriginalFloor(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := newTestCache(t, dec(1.1000), dec(1.1010), clk) // 10 pip spread
	mutator := &fakeModifier{}
	bus := eventbus.New()
	a := New(cache, mutator, clk, bus, Config{PipSize: pipSize()})

	pos := testPosition()
	a.Register(pos, Rule{Symbol: "EURUSD", SpreadThresholdPips: dec(5), BufferPips: dec(5)})
	pos.SL = dec(1.0995) // simulate a prior trailing tightening

	a.tick(context.Background())
	if len(mutator.modifies) != 1 {
		t.Fatalf("expected exactly one widen, got %d", len(mutator.modifies))
	}
	want := dec(1.0990) // 1.0995 - 5 pips
	if !pos.SL.Equal(want) {
		t.Fatalf("pos.SL = %s, want %s", pos.SL, want)
	}

	// Repeated widening must never push SL past the original 1.0950 floor.
	for i := 0; i < 10; i++ {
		a.tick(context.Background())
	}
	if pos.SL.LessThan(dec(1.0950)) {
		t.Fatalf("SL widened past the original risk floor: %s", pos.SL)
	}
}

func TestAdjustorRespectsMaxAdjustmentsPerSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := newTestCache(t, dec(1.1000), dec(1.1010), clk)
	mutator := &fakeModifier{}
	bus := eventbus.New()
	a := New(cache, mutator, clk, bus, Config{PipSize: pipSize(), MaxAdjustmentsPerSession: 1})

	pos := testPosition()
	a.Register(pos, Rule{Symbol: "EURUSD", SpreadThresholdPips: dec(5), BufferPips: dec(5)})
	pos.SL = dec(1.0995)

	a.tick(context.Background())
	a.tick(context.Background())
	a.tick(context.Background())

	if len(mutator.modifies) != 1 {
		t.Fatalf("expected exactly one adjustment (budget exhausted), got %d", len(mutator.modifies))
	}
}

func TestAdjustorDoesNotTriggerUnderSpreadThreshold(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := newTestCache(t, dec(1.1000), dec(1.1002), clk) // 2 pip spread
	mutator := &fakeModifier{}
	bus := eventbus.New()
	a := New(cache, mutator, clk, bus, Config{PipSize: pipSize()})

	pos := testPosition()
	a.Register(pos, Rule{Symbol: "EURUSD", SpreadThresholdPips: dec(5), BufferPips: dec(5)})
	pos.SL = dec(1.0995)

	a.tick(context.Background())
	if len(mutator.modifies) != 0 {
		t.Fatalf("expected no widen under threshold, got %d", len(mutator.modifies))
	}
}

func TestAdjustorRespectsMinAdjustmentInterval(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := newTestCache(t, dec(1.1000), dec(1.1010), clk)
	mutator := &fakeModifier{}
	bus := eventbus.New()
	a := New(cache, mutator, clk, bus, Config{PipSize: pipSize(), MinAdjustmentInterval: time.Hour})

	pos := testPosition()
	a.Register(pos, Rule{Symbol: "EURUSD", SpreadThresholdPips: dec(5), BufferPips: dec(5)})
	pos.SL = dec(1.0995)

	a.tick(context.Background())
	if len(mutator.modifies) != 1 {
		t.Fatalf("expected an initial widen, got %d", len(mutator.modifies))
	}
	a.tick(context.Background())
	if len(mutator.modifies) != 1 {
		t.Fatalf("widen fired again before MinAdjustmentInterval elapsed: %d", len(mutator.modifies))
	}

	clk.Advance(2 * time.Hour)
	a.tick(context.Background())
	if len(mutator.modifies) != 2 {
		t.Fatalf("expected a second widen after the interval elapsed, got %d", len(mutator.modifies))
	}
}
