package breakeven

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

func newTestCache(t *testing.T, bid, ask decimal.Decimal) *marketdata.Cache {
	t.Helper()
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", bid, ask, time.Now())
	return marketdata.New(sentinel, symbols.New(), clock.RealClock{})
}

func pipSize() func(string) decimal.Decimal {
	return func(string) decimal.Decimal { return dec(0.0001) }
}

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

func TestBreakEvenFixedPipsMovesSLToEntryPlusBuffer(t *testing.T) {
	cache := newTestCache(t, dec(1.1030), dec(1.1031))
	mutator := &fakeModifier{}
	bus := eventbus.New()
	e := New(cache, mutator, clock.RealClock{}, bus)

	pos := testPosition()
	e.Register(pos, Config{Trigger: FixedPips, ThresholdValue: dec(20), BufferPips: dec(2), PipSize: pipSize()})
	e.tick(context.Background())

	if len(mutator.modifies) != 1 {
		t.Fatalf("expected exactly one SL modify, got %d", len(mutator.modifies))
	}
	want := dec(1.1002) // entry + 2 pip buffer
	if !pos.SL.Equal(want) {
		t.Fatalf("pos.SL = %s, want %s", pos.SL, want)
	}
}

func TestBreakEvenFiresAtMostOnce(t *testing.T) {
	cache := newTestCache(t, dec(1.1030), dec(1.1031))
	mutator := &fakeModifier{}
	bus := eventbus.New()
	e := New(cache, mutator, clock.RealClock{}, bus)

	pos := testPosition()
	e.Register(pos, Config{Trigger: FixedPips, ThresholdValue: dec(20), BufferPips: dec(2), PipSize: pipSize()})
	e.tick(context.Background())
	e.tick(context.Background())
	e.tick(context.Background())

	if len(mutator.modifies) != 1 {
		t.Fatalf("break-even fired %d times, want exactly 1 (one-shot)", len(mutator.modifies))
	}
}

func TestBreakEvenDoesNotFireBeforeThreshold(t *testing.T) {
	cache := newTestCache(t, dec(1.1010), dec(1.1011))
	mutator := &fakeModifier{}
	bus := eventbus.New()
	e := New(cache, mutator, clock.RealClock{}, bus)

	pos := testPosition()
	e.Register(pos, Config{Trigger: FixedPips, ThresholdValue: dec(20), BufferPips: dec(2), PipSize: pipSize()})
	e.tick(context.Background())

	if len(mutator.modifies) != 0 {
		t.Fatalf("expected no modify below the profit threshold, got %d", len(mutator.modifies))
	}
}

func TestBreakEvenRatioBasedUsesInitialRiskDistance(t *testing.T) {
	// Initial risk = entry(1.1000) - SL(1.0950) = 50 pips. A 1.0 ratio
	// trigger requires 50 pips of profit.
	cache := newTestCache(t, dec(1.1050), dec(1.1051))
	mutator := &fakeModifier{}
	bus := eventbus.New()
	e := New(cache, mutator, clock.RealClock{}, bus)

	pos := testPosition()
	e.Register(pos, Config{Trigger: RatioBased, ThresholdValue: dec(1.0), BufferPips: dec(0), PipSize: pipSize()})
	e.tick(context.Background())

	if len(mutator.modifies) != 1 {
		t.Fatalf("expected ratio-based break-even to fire at 1:1, got %d modifies", len(mutator.modifies))
	}
}

func TestBreakEvenNeverMovesSLBackward(t *testing.T) {
	cache := newTestCache(t, dec(1.1030), dec(1.1031))
	mutator := &fakeModifier{}
	bus := eventbus.New()
	e := New(cache, mutator, clock.RealClock{}, bus)

	pos := testPosition()
	pos.SL = dec(1.1010) // already better than break-even(1.1002)
	e.Register(pos, Config{Trigger: FixedPips, ThresholdValue: dec(20), BufferPips: dec(2), PipSize: pipSize()})
	e.tick(context.Background())

	if len(mutator.modifies) != 0 {
		t.Fatalf("expected no modify since current SL is already better, got %d", len(mutator.modifies))
	}
	if !pos.SL.Equal(dec(1.1010)) {
		t.Fatalf("SL regressed to %s", pos.SL)
	}
}
