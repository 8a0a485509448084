package ratelimit

import (
	"testing"
	"time"

	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/errs"
)

func newLimiter(symHourly, symDaily int) (*Limiter, *clock.FakeClock) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(clk, Config{
		Symbol:          Caps{Hourly: symHourly, Daily: symDaily},
		Provider:        Caps{Hourly: 1000, Daily: 1000},
		Global:          Caps{Hourly: 1000, Daily: 1000},
		CooldownMinutes: 0,
	})
	return l, clk
}

func TestCheckAllowsUnderCap(t *testing.T) {
	l, clk := newLimiter(2, 10)
	now := clk.Now()
	if err := l.Check("EURUSD", "providerA", now); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	l.Record("EURUSD", "providerA", now)
	if err := l.Check("EURUSD", "providerA", now); err != nil {
		t.Fatalf("expected allow at cap boundary, got %v", err)
	}
}

func TestCheckBlocksAtHourlyCap(t *testing.T) {
	l, clk := newLimiter(2, 10)
	now := clk.Now()
	l.Record("EURUSD", "providerA", now)
	l.Record("EURUSD", "providerA", now)
	if err := l.Check("EURUSD", "providerA", now); err == nil {
		t.Fatalf("expected a block once hourly cap is reached")
	}
}

func TestCheckBlockReasonNamesTheExceededScope(t *testing.T) {
	l, clk := newLimiter(3, 1000)
	now := clk.Now()
	for i := 0; i < 3; i++ {
		l.Record("EURUSD", "providerA", now)
	}
	err := l.Check("EURUSD", "providerA", now)
	if err == nil {
		t.Fatalf("expected a block once the symbol hourly cap is reached")
	}
	var blockErr *errs.Error
	if !errs.As(err, &blockErr) {
		t.Fatalf("expected an *errs.Error, got %T", err)
	}
	if blockErr.Reason != "BlockedSymbolHourly" {
		t.Fatalf("expected reason BlockedSymbolHourly, got %s", blockErr.Reason)
	}
}

func TestCountExpiresOutsideWindow(t *testing.T) {
	l, clk := newLimiter(100, 1000)
	now := clk.Now()
	l.Record("EURUSD", "providerA", now)
	if got := l.Count("symbol", "EURUSD", now, time.Hour); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	clk.Advance(2 * time.Hour)
	if got := l.Count("symbol", "EURUSD", clk.Now(), time.Hour); got != 0 {
		t.Fatalf("Count after expiry = %d, want 0", got)
	}
}

func TestCooldownBlocksRapidRepeat(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(clk, Config{
		Symbol:          Caps{Hourly: 1000, Daily: 1000},
		Provider:        Caps{Hourly: 1000, Daily: 1000},
		Global:          Caps{Hourly: 1000, Daily: 1000},
		CooldownMinutes: 5,
	})
	now := clk.Now()
	l.Record("EURUSD", "providerA", now)
	if err := l.Check("EURUSD", "providerA", now); err == nil {
		t.Fatalf("expected cooldown block immediately after a signal")
	}
	clk.Advance(6 * time.Minute)
	if err := l.Check("EURUSD", "providerA", clk.Now()); err != nil {
		t.Fatalf("expected cooldown to have expired, got %v", err)
	}
}

func TestEmergencyOverrideBypassesCapsUntilExhausted(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(clk, Config{
		Symbol:                 Caps{Hourly: 1, Daily: 1},
		Provider:               Caps{Hourly: 1000, Daily: 1000},
		Global:                 Caps{Hourly: 1000, Daily: 1000},
		EmergencyOverrideLimit: 1,
		EmergencyDuration:      time.Hour,
	})
	now := clk.Now()
	l.Record("EURUSD", "providerA", now)
	if err := l.Check("EURUSD", "providerA", now); err == nil {
		t.Fatalf("expected a block before override activation")
	}
	if err := l.ActivateEmergencyOverride(now); err != nil {
		t.Fatalf("activation should succeed: %v", err)
	}
	if err := l.Check("EURUSD", "providerA", now); err != nil {
		t.Fatalf("expected override to bypass the cap, got %v", err)
	}
	if err := l.ActivateEmergencyOverride(now); err == nil {
		t.Fatalf("expected the second same-day activation to be exhausted")
	}
}
