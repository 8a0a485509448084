// Package broker defines the broker bridge collaborator (spec §6): the
// external terminal this module consumes but never reimplements. Bridge
// is the contract; this package also ships the reference Binance USDT-M
// futures adapter (grounded on execution_service.go's futures client
// usage) and a deterministic in-memory Sentinel adapter used by the
// simulator (C20) and by tests, which never places a real order.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a tick snapshot for one symbol.
type Quote struct {
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	AsOf  time.Time
}

// Account is a snapshot of account-level balances and margin figures.
type Account struct {
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	Margin      decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
	Credit      decimal.Decimal
}

// BrokerPosition is the broker's view of an open position, distinct from
// model.Position (our lifecycle-managed view layered on top of it).
type BrokerPosition struct {
	Ticket    string
	Symbol    string
	Type      string // "buy" | "sell"
	Volume    decimal.Decimal
	PriceOpen decimal.Decimal
	SL        decimal.Decimal
	TP        decimal.Decimal
	Profit    decimal.Decimal
	OpenTime  time.Time
}

// OrderAction is the broker-side order type requested.
type OrderAction string

const (
	ActionBuy       OrderAction = "buy"
	ActionSell      OrderAction = "sell"
	ActionBuyLimit  OrderAction = "buy_limit"
	ActionSellLimit OrderAction = "sell_limit"
)

// PlaceOrderRequest mirrors spec §6's place_order(req) contract.
type PlaceOrderRequest struct {
	Action        OrderAction
	Symbol        string
	Volume        decimal.Decimal
	Price         *decimal.Decimal
	SL            *decimal.Decimal
	TP            *decimal.Decimal
	DeviationPips decimal.Decimal
	Magic         int64
	Comment       string
}

// PlaceOrderResult is the broker's response to a placement request.
type PlaceOrderResult struct {
	Ticket string
	Price  decimal.Decimal
	Volume decimal.Decimal
	Err    error
}

// SymbolInfo is broker-reported precision/limits for a symbol, used to
// override C1's default pip/volume tables when available.
type SymbolInfo struct {
	PipValue       *decimal.Decimal
	MinLot         decimal.Decimal
	MaxLot         decimal.Decimal
	LotStep        decimal.Decimal
	Digits         int
	StopsLevelPips decimal.Decimal
}

// Bridge is the async RPC surface this module consumes from the broker
// terminal. Every call may block on I/O and must be called with a
// context carrying the operation's timeout (30s placement, 5s quotes,
// per the concurrency model).
type Bridge interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	ModifyPosition(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error
	PartialClose(ctx context.Context, ticket string, volume, price decimal.Decimal, deviationPips decimal.Decimal) (newTicket string, err error)
	ClosePosition(ctx context.Context, ticket string) error
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}
