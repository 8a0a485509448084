package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/errs"
)

// Sentinel is a deterministic in-memory Bridge that never reaches a real
// broker. The simulator (C20) and every policy-engine unit test use it so
// dry runs and scenario seeds are reproducible. Quotes are seeded by the
// caller and never mutate on their own.
type Sentinel struct {
	mu       sync.Mutex
	quotes   map[string]Quote
	account  Account
	symInfo  map[string]SymbolInfo
	positions map[string]BrokerPosition

	ticketSeq int64

	// Calls records every method invocation for assertions in tests.
	Calls []string
}

// NewSentinel returns an empty Sentinel with a generous default account.
func NewSentinel() *Sentinel {
	return &Sentinel{
		quotes:  make(map[string]Quote),
		symInfo: make(map[string]SymbolInfo),
		positions: make(map[string]BrokerPosition),
		account: Account{
			Balance:     decimal.NewFromInt(10000),
			Equity:      decimal.NewFromInt(10000),
			FreeMargin:  decimal.NewFromInt(10000),
			MarginLevel: decimal.NewFromInt(1000),
		},
	}
}

// SetQuote seeds the fixed quote a symbol will return until changed.
func (s *Sentinel) SetQuote(symbol string, bid, ask decimal.Decimal, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = Quote{Bid: bid, Ask: ask, AsOf: asOf}
}

// SetAccount overrides the account snapshot returned by Account.
func (s *Sentinel) SetAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

// SetSymbolInfo seeds broker-reported precision for a symbol.
func (s *Sentinel) SetSymbolInfo(symbol string, info SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symInfo[symbol] = info
}

func (s *Sentinel) record(call string) {
	s.Calls = append(s.Calls, call)
}

func (s *Sentinel) Quote(_ context.Context, symbol string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Quote:" + symbol)
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, errs.New(errs.KindHardBroker, "Unavailable", symbol)
	}
	return q, nil
}

func (s *Sentinel) Account(_ context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Account")
	return s.account, nil
}

func (s *Sentinel) Positions(_ context.Context) ([]BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Positions")
	out := make([]BrokerPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

// PlaceOrder never touches a real broker: it records a synthetic
// position and returns an immediate fill at the requested price (or the
// current quote's mid for market orders), which is exactly what the
// simulator (C20) needs for a "would-be order" preview.
func (s *Sentinel) PlaceOrder(_ context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PlaceOrder:" + req.Symbol)

	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	} else if q, ok := s.quotes[req.Symbol]; ok {
		price = q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}

	ticket := fmt.Sprintf("SIM-%d", atomic.AddInt64(&s.ticketSeq, 1))
	typ := "buy"
	if req.Action == ActionSell || req.Action == ActionSellLimit {
		typ = "sell"
	}
	pos := BrokerPosition{
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Type:      typ,
		Volume:    req.Volume,
		PriceOpen: price,
		OpenTime:  time.Now(),
	}
	if req.SL != nil {
		pos.SL = *req.SL
	}
	if req.TP != nil {
		pos.TP = *req.TP
	}
	s.positions[ticket] = pos

	return PlaceOrderResult{Ticket: ticket, Price: price, Volume: req.Volume}, nil
}

func (s *Sentinel) ModifyPosition(_ context.Context, ticket string, sl, tp *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ModifyPosition:" + ticket)
	pos, ok := s.positions[ticket]
	if !ok {
		return errs.New(errs.KindStateConflict, "UnknownTicket", ticket)
	}
	if sl != nil {
		pos.SL = *sl
	}
	if tp != nil {
		pos.TP = *tp
	}
	s.positions[ticket] = pos
	return nil
}

func (s *Sentinel) PartialClose(_ context.Context, ticket string, volume, price decimal.Decimal, _ decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PartialClose:" + ticket)
	pos, ok := s.positions[ticket]
	if !ok {
		return "", errs.New(errs.KindStateConflict, "UnknownTicket", ticket)
	}
	pos.Volume = pos.Volume.Sub(volume)
	if pos.Volume.IsNegative() {
		pos.Volume = decimal.Zero
	}
	if pos.Volume.IsZero() {
		delete(s.positions, ticket)
	} else {
		s.positions[ticket] = pos
	}
	return "", nil
}

func (s *Sentinel) ClosePosition(_ context.Context, ticket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ClosePosition:" + ticket)
	if _, ok := s.positions[ticket]; !ok {
		return errs.New(errs.KindStateConflict, "UnknownTicket", ticket)
	}
	delete(s.positions, ticket)
	return nil
}

func (s *Sentinel) SymbolInfo(_ context.Context, symbol string) (SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SymbolInfo:" + symbol)
	if info, ok := s.symInfo[symbol]; ok {
		return info, nil
	}
	return SymbolInfo{
		MinLot:  decimal.NewFromFloat(0.01),
		MaxLot:  decimal.NewFromInt(100),
		LotStep: decimal.NewFromFloat(0.01),
		Digits:  5,
	}, nil
}
