package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/broker"
	"github.com/sentineldesk/core/internal/clock"
	"github.com/sentineldesk/core/internal/config"
	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/marketdata"
	"github.com/sentineldesk/core/internal/margin"
	"github.com/sentineldesk/core/internal/model"
	"github.com/sentineldesk/core/internal/spread"
	"github.com/sentineldesk/core/internal/symbols"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testIntent() model.TradeIntent {
	sl := dec(1.0950)
	return model.TradeIntent{
		IntentID:    "i1",
		SignalID:    "s1",
		Symbol:      "EURUSD",
		Direction:   model.Buy,
		EntryTarget: dec(1.1000),
		Volume:      dec(1.0),
		SL:          &sl,
		State:       model.IntentPending,
	}
}

// newEnv builds a spread gate and margin guard against sentinel, so the
// quotes/account a test seeds on sentinel are exactly what the gate and
// guard see — whether sentinel is used directly as the executor's bridge
// or wrapped (e.g. by fakeFlakyBridge) to inject broker failures.
func newEnv(t *testing.T, sentinel *broker.Sentinel) (*spread.Gate, *margin.Guard, *eventbus.Bus, *symbols.Resolver) {
	t.Helper()
	sentinel.SetAccount(broker.Account{Balance: dec(10000), Equity: dec(10000), Margin: dec(100), FreeMargin: dec(9900), MarginLevel: dec(500)})

	clk := clock.RealClock{}
	resolver := symbols.New()
	cache := marketdata.New(sentinel, resolver, clk)
	gate := spread.New(cache, spread.Config{DefaultThresholdPips: dec(5)})

	bus := eventbus.New()
	guard := margin.New(sentinel, clk, bus, config.MarginThresholds{Safe: 200, Warning: 150, Critical: 110, MarginCall: 100}, 0, decimal.Zero)
	guard.Refresh(context.Background())

	return gate, guard, bus, resolver
}

type fakeRegistrar struct {
	mu        sync.Mutex
	positions []*model.Position
}

func (r *fakeRegistrar) RegisterPosition(pos *model.Position, intent model.TradeIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, pos)
}

func TestSubmitPlacesOrderAndRegistersPosition(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	gate, guard, bus, resolver := newEnv(t, sentinel)

	registrar := &fakeRegistrar{}
	exec := New(sentinel, resolver, gate, guard, bus, Config{WorkerPoolSize: 2, MaxRetries: 1}, registrar)

	if err := exec.Submit(context.Background(), testIntent()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(registrar.positions) != 1 {
		t.Fatalf("expected one registered position, got %d", len(registrar.positions))
	}
	if !registrar.positions[0].VolumeAtIntent.Equal(dec(1.0)) {
		t.Fatalf("position volume = %s, want 1.0", registrar.positions[0].VolumeAtIntent)
	}
}

func TestSubmitIsIdempotentForDuplicateIntentID(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	gate, guard, bus, resolver := newEnv(t, sentinel)

	registrar := &fakeRegistrar{}
	exec := New(sentinel, resolver, gate, guard, bus, Config{WorkerPoolSize: 2, MaxRetries: 1}, registrar)

	intent := testIntent()
	if err := exec.Submit(context.Background(), intent); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Simulate a duplicate submission (e.g. a replayed command) after the
	// intent has already reached IntentFilled: at-most-once fill.
	if err := exec.Submit(context.Background(), intent); err != nil {
		t.Fatalf("duplicate Submit should be a silent no-op, got: %v", err)
	}
	if len(registrar.positions) != 1 {
		t.Fatalf("expected exactly one fill despite a duplicate Submit, got %d", len(registrar.positions))
	}
}

func TestSubmitBlockedBySpreadGate(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0900), dec(1.1100), time.Now()) // 200 pip spread
	gate, guard, bus, resolver := newEnv(t, sentinel)

	registrar := &fakeRegistrar{}
	exec := New(sentinel, resolver, gate, guard, bus, Config{WorkerPoolSize: 2, MaxRetries: 1}, registrar)

	if err := exec.Submit(context.Background(), testIntent()); err == nil {
		t.Fatalf("expected Submit to fail the spread gate")
	}
	if len(registrar.positions) != 0 {
		t.Fatalf("expected no position registered on a spread-gate block")
	}
}

// fakeFlakyBridge fails PlaceOrder with a transient error for the first
// N attempts, then succeeds.
type fakeFlakyBridge struct {
	broker.Bridge
	failuresLeft int
	mu           sync.Mutex
	attempts     int
}

func (f *fakeFlakyBridge) PlaceOrder(ctx context.Context, req broker.PlaceOrderRequest) (broker.PlaceOrderResult, error) {
	f.mu.Lock()
	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		f.mu.Unlock()
		return broker.PlaceOrderResult{}, errs.Wrap(errs.KindTransientBroker, "SimulatedTimeout", nil)
	}
	f.mu.Unlock()
	return broker.PlaceOrderResult{Ticket: "T-RETRY", Price: *req.Price, Volume: req.Volume}, nil
}

func TestSubmitRetriesTransientBrokerErrors(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	gate, guard, bus, resolver := newEnv(t, sentinel)
	flaky := &fakeFlakyBridge{Bridge: sentinel, failuresLeft: 2}

	registrar := &fakeRegistrar{}
	exec := New(flaky, resolver, gate, guard, bus, Config{WorkerPoolSize: 2, MaxRetries: 5, RetryBaseDelayMS: 1}, registrar)

	if err := exec.Submit(context.Background(), testIntent()); err != nil {
		t.Fatalf("expected the retry loop to eventually succeed, got %v", err)
	}
	if flaky.attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", flaky.attempts)
	}
	if len(registrar.positions) != 1 {
		t.Fatalf("expected one registered position after the retries succeeded, got %d", len(registrar.positions))
	}
}

func TestSubmitGivesUpAfterMaxRetries(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	gate, guard, bus, resolver := newEnv(t, sentinel)
	flaky := &fakeFlakyBridge{Bridge: sentinel, failuresLeft: 10}

	registrar := &fakeRegistrar{}
	exec := New(flaky, resolver, gate, guard, bus, Config{WorkerPoolSize: 2, MaxRetries: 3, RetryBaseDelayMS: 1}, registrar)

	if err := exec.Submit(context.Background(), testIntent()); err == nil {
		t.Fatalf("expected Submit to fail after exhausting MaxRetries")
	}
	if flaky.attempts != 3 {
		t.Fatalf("expected exactly MaxRetries (3) attempts, got %d", flaky.attempts)
	}
	if len(registrar.positions) != 0 {
		t.Fatalf("expected no position registered on an exhausted retry loop")
	}
}

func TestRequestModifySerializesPerTicket(t *testing.T) {
	sentinel := broker.NewSentinel()
	sentinel.SetQuote("EURUSD", dec(1.0999), dec(1.1001), time.Now())
	gate, guard, bus, resolver := newEnv(t, sentinel)

	exec := New(sentinel, resolver, gate, guard, bus, Config{WorkerPoolSize: 2}, nil)

	var wg sync.WaitGroup
	sl := dec(1.0960)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.RequestModify(context.Background(), "T1", &sl, nil)
		}()
	}
	wg.Wait() // the test passes if this never deadlocks or races under -race
}
