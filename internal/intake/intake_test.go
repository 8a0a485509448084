package intake

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/lotsize"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/reverse"
	"github.com/sentineldesk/core/internal/symbols"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testLotTemplate() lotsize.Request {
	return lotsize.Request{
		Mode:      lotsize.RiskPercent,
		Parameter: dec(1.0),
		Balance:   dec(10000),
		MinLot:    dec(0.01),
		MaxLot:    dec(10),
		Precision: 2,
	}
}

func newCache(t *testing.T, bid, ask decimal.Decimal) (*symbols.Resolver, *marketdata.Cache) {
	t.Helper()
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", bid, ask, time.Now())
	resolver := symbols.New()
	return resolver, marketdata.New(sentinel, resolver, clock.RealClock{})
}

func testSignal() model.Signal {
	sl := dec(1.0950)
	return model.Signal{
		SignalID:         "s1",
		Symbol:           "EURUSD",
		Direction:        model.Buy,
		CandidateEntries: []decimal.Decimal{dec(1.1000)},
		SL:               &sl,
		TPs:              []decimal.Decimal{dec(1.1050), dec(1.1100)},
		Priority:         3,
	}
}

func TestBuildAssignsUniqueIntentIDsAcrossRepeatedCalls(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	b := New(resolver, cache, nil, testLotTemplate())

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		intent, err := b.Build(context.Background(), testSignal(), model.EntryFirst, 0.5)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if seen[intent.IntentID] {
			t.Fatalf("duplicate IntentID generated: %s", intent.IntentID)
		}
		seen[intent.IntentID] = true
	}
}

func TestBuildLaysOutAnEvenSplitTPLadder(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	b := New(resolver, cache, nil, testLotTemplate())

	intent, err := b.Build(context.Background(), testSignal(), model.EntryFirst, 0.5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(intent.TPPlan) != 2 {
		t.Fatalf("expected 2 TP levels, got %d", len(intent.TPPlan))
	}
	total := decimal.Zero
	for _, lvl := range intent.TPPlan {
		if lvl.Status != model.TPPending {
			t.Fatalf("expected a freshly built TP level to be TPPending, got %s", lvl.Status)
		}
		total = total.Add(lvl.Percentage)
	}
	if !total.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("TP ladder percentages should sum to 1, got %s", total)
	}
}

func TestBuildReturnsPolicyBlockWhenReverseRuleIgnoresSignal(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	reverser := &reverse.Strategy{Rules: []reverse.Rule{{ID: "ignore-all", Condition: reverse.Always, Enabled: true, Action: reverse.IgnoreSignal}}}
	b := New(resolver, cache, reverser, testLotTemplate())

	_, err := b.Build(context.Background(), testSignal(), model.EntryFirst, 0.5)
	if err == nil {
		t.Fatalf("expected Build to fail when a reverse rule ignores the signal")
	}
}

func TestBuildFailsWithNoCandidateEntries(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	b := New(resolver, cache, nil, testLotTemplate())

	sig := testSignal()
	sig.CandidateEntries = nil
	_, err := b.Build(context.Background(), sig, model.EntryFirst, 0.5)
	if err == nil {
		t.Fatalf("expected Build to fail with no candidate entries")
	}
}

func TestBuildSizesAPositiveVolumeWhenSignalCarriesAVolumeHint(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	b := New(resolver, cache, nil, testLotTemplate())

	sig := testSignal()
	vol := dec(0.75)
	sig.Volume = &vol
	intent, err := b.Build(context.Background(), sig, model.EntryFirst, 0.5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !intent.Volume.GreaterThan(decimal.Zero) {
		t.Fatalf("expected a positive sized volume, got %s", intent.Volume)
	}
}

func TestBuildPropagatesMetaReversedAndPriority(t *testing.T) {
	resolver, cache := newCache(t, dec(1.0999), dec(1.1001))
	reverser := &reverse.Strategy{Rules: []reverse.Rule{{ID: "always", Condition: reverse.Always, Enabled: true, Action: reverse.DirectionOnly}}}
	b := New(resolver, cache, reverser, testLotTemplate())

	intent, err := b.Build(context.Background(), testSignal(), model.EntryFirst, 0.5)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !intent.Meta.Reversed {
		t.Fatalf("expected Meta.Reversed to be true when a reverse rule matched")
	}
	if intent.Meta.Priority != 3 {
		t.Fatalf("expected the signal's priority to carry through, got %d", intent.Meta.Priority)
	}
}
