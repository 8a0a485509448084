package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/symbols"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestQuoteComputesSpreadInPips(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	cache := New(sentinel, symbols.New(), clock.RealClock{})

	tick, err := cache.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !tick.SpreadPips.Equal(dec(2)) {
		t.Fatalf("expected a 2 pip spread, got %s", tick.SpreadPips)
	}
}

func TestQuoteServesFromCacheWithinTTL(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := New(sentinel, symbols.New(), clk).WithTTL(time.Minute)

	if _, err := cache.Quote(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	// Change the underlying quote without advancing the clock: the cache
	// should still serve the stale-but-within-TTL reading.
	sentinel.SetQuote("EURUSD", dec(1.2999), dec(1.3001), time.Now())
	tick, err := cache.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !tick.Bid.Equal(dec(1.0999)) {
		t.Fatalf("expected the cached quote within TTL, got bid=%s", tick.Bid)
	}
}

func TestQuoteRefetchesOnceTTLExpires(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := New(sentinel, symbols.New(), clk).WithTTL(time.Minute)

	if _, err := cache.Quote(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	sentinel.SetQuote("EURUSD", dec(1.2999), dec(1.3001), time.Now())
	clk.Advance(2 * time.Minute)

	tick, err := cache.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !tick.Bid.Equal(dec(1.2999)) {
		t.Fatalf("expected a refetched quote after TTL expiry, got bid=%s", tick.Bid)
	}
}

func TestRefreshForcesAnImmediateRefetch(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := New(sentinel, symbols.New(), clk).WithTTL(time.Hour)

	if _, err := cache.Quote(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	sentinel.SetQuote("EURUSD", dec(1.2999), dec(1.3001), time.Now())

	if err := cache.Refresh(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	tick, err := cache.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !tick.Bid.Equal(dec(1.2999)) {
		t.Fatalf("expected Refresh to bypass the TTL, got bid=%s", tick.Bid)
	}
}

func TestSubscribeIsNotifiedOnEveryRefetch(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	cache := New(sentinel, symbols.New(), clock.RealClock{}).WithTTL(0)

	notified := 0
	cache.Subscribe("EURUSD", func(Tick) { notified++ })

	if _, err := cache.Quote(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if _, err := cache.Quote(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if notified != 2 {
		t.Fatalf("expected a callback per refetch with a zero TTL, got %d", notified)
	}
}

func TestQuoteWrapsUnavailableSymbolAsTransientBroker(t *testing.T) {
	sentinel := broker.NewSentinel() // no quotes seeded
	cache := New(sentinel, symbols.New(), clock.RealClock{})

	if _, err := cache.Quote(context.Background(), "EURUSD"); err == nil {
		t.Fatalf("expected an error for an unseeded symbol")
	}
}
