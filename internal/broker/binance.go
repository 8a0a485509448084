package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/core/internal/errs"
)

// BinanceFutures adapts the go-binance/v2 futures client to Bridge,
// generalizing the order-placement and account-query calls scattered
// through execution_service.go's ExecutionService into one seam.
type BinanceFutures struct {
	client *futures.Client
	magic  int64
}

// NewBinanceFutures constructs a Bridge backed by Binance USDT-M futures.
// testnet mirrors the teacher's futures.UseTestnet toggle in main.go.
func NewBinanceFutures(apiKey, secretKey string, testnet bool, magic int64) *BinanceFutures {
	futures.UseTestnet = testnet
	return &BinanceFutures{client: futures.NewClient(apiKey, secretKey), magic: magic}
}

func (b *BinanceFutures) Quote(ctx context.Context, symbol string) (Quote, error) {
	books, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Quote{}, classifyBinanceErr(err)
	}
	if len(books) == 0 {
		return Quote{}, errs.New(errs.KindHardBroker, "UnknownSymbol", symbol)
	}
	bid, _ := decimal.NewFromString(books[0].BidPrice)
	ask, _ := decimal.NewFromString(books[0].AskPrice)
	return Quote{Bid: bid, Ask: ask, AsOf: time.Now()}, nil
}

func (b *BinanceFutures) Account(ctx context.Context) (Account, error) {
	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return Account{}, classifyBinanceErr(err)
	}
	balance, _ := decimal.NewFromString(acc.TotalWalletBalance)
	equity, _ := decimal.NewFromString(acc.TotalMarginBalance)
	margin, _ := decimal.NewFromString(acc.TotalPositionInitialMargin)
	free, _ := decimal.NewFromString(acc.AvailableBalance)

	level := decimal.Zero
	if !margin.IsZero() {
		level = equity.Div(margin).Mul(decimal.NewFromInt(100))
	}
	return Account{
		Balance:     balance,
		Equity:      equity,
		Margin:      margin,
		FreeMargin:  free,
		MarginLevel: level,
	}, nil
}

func (b *BinanceFutures) Positions(ctx context.Context) ([]BrokerPosition, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr(err)
	}
	out := make([]BrokerPosition, 0, len(risks))
	for _, r := range risks {
		qty, _ := decimal.NewFromString(r.PositionAmt)
		if qty.IsZero() {
			continue
		}
		typ := "buy"
		if qty.IsNegative() {
			typ = "sell"
			qty = qty.Abs()
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		profit, _ := decimal.NewFromString(r.UnRealizedProfit)
		out = append(out, BrokerPosition{
			Ticket:    r.Symbol, // Binance futures positions are keyed by symbol, not ticket
			Symbol:    r.Symbol,
			Type:      typ,
			Volume:    qty,
			PriceOpen: entry,
			Profit:    profit,
		})
	}
	return out, nil
}

func (b *BinanceFutures) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	side := futures.SideTypeBuy
	if req.Action == ActionSell || req.Action == ActionSellLimit {
		side = futures.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(req.Volume.String()).
		NewClientOrderID(fmt.Sprintf("sd-%d-%d", b.magic, time.Now().UnixNano()))

	switch req.Action {
	case ActionBuyLimit, ActionSellLimit:
		if req.Price == nil {
			return PlaceOrderResult{}, errs.New(errs.KindInput, "MissingLimitPrice", req.Symbol)
		}
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTX).
			Price(req.Price.String())
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return PlaceOrderResult{}, classifyBinanceErr(err)
	}

	price, _ := decimal.NewFromString(order.Price)
	qty, _ := decimal.NewFromString(order.OrigQuantity)
	ticket := strconv.FormatInt(order.OrderID, 10)

	if req.SL != nil || req.TP != nil {
		if err := b.ModifyPosition(ctx, req.Symbol, req.SL, req.TP); err != nil {
			// SL/TP attach failure doesn't unwind the fill; caller
			// observes it through the returned error's wrapped cause.
			return PlaceOrderResult{Ticket: ticket, Price: price, Volume: qty}, err
		}
	}

	return PlaceOrderResult{Ticket: ticket, Price: price, Volume: qty}, nil
}

func (b *BinanceFutures) ModifyPosition(ctx context.Context, ticket string, sl, tp *decimal.Decimal) error {
	symbol := ticket // Binance tracks SL/TP as separate conditional orders keyed by symbol
	if sl != nil {
		if _, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Type(futures.OrderType("STOP_MARKET")).
			StopPrice(sl.String()).
			WorkingType(futures.WorkingTypeMarkPrice).
			ClosePosition(true).
			Do(ctx); err != nil {
			return classifyBinanceErr(err)
		}
	}
	if tp != nil {
		if _, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Type(futures.OrderType("TAKE_PROFIT_MARKET")).
			StopPrice(tp.String()).
			WorkingType(futures.WorkingTypeMarkPrice).
			ClosePosition(true).
			Do(ctx); err != nil {
			return classifyBinanceErr(err)
		}
	}
	return nil
}

func (b *BinanceFutures) PartialClose(ctx context.Context, ticket string, volume, price decimal.Decimal, deviationPips decimal.Decimal) (string, error) {
	symbol := ticket
	positions, err := b.Positions(ctx)
	if err != nil {
		return "", err
	}
	var side futures.SideType
	found := false
	for _, p := range positions {
		if p.Symbol == symbol {
			found = true
			side = futures.SideTypeSell
			if p.Type == "sell" {
				side = futures.SideTypeBuy
			}
		}
	}
	if !found {
		return "", errs.New(errs.KindStateConflict, "UnknownTicket", symbol)
	}

	_, err = b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(volume.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return "", classifyBinanceErr(err)
	}
	return "", nil
}

func (b *BinanceFutures) ClosePosition(ctx context.Context, ticket string) error {
	positions, err := b.Positions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != ticket {
			continue
		}
		side := futures.SideTypeSell
		if p.Type == "sell" {
			side = futures.SideTypeBuy
		}
		_, err := b.client.NewCreateOrderService().
			Symbol(p.Symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(p.Volume.String()).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return classifyBinanceErr(err)
		}
		return nil
	}
	return errs.New(errs.KindStateConflict, "UnknownTicket", ticket)
}

func (b *BinanceFutures) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return SymbolInfo{}, classifyBinanceErr(err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var minQty, maxQty, step decimal.Decimal
		for _, f := range s.Filters {
			if t, ok := f["filterType"].(string); ok && t == "LOT_SIZE" {
				minQty, _ = decimal.NewFromString(fmt.Sprintf("%v", f["minQty"]))
				maxQty, _ = decimal.NewFromString(fmt.Sprintf("%v", f["maxQty"]))
				step, _ = decimal.NewFromString(fmt.Sprintf("%v", f["stepSize"]))
			}
		}
		return SymbolInfo{
			MinLot:  minQty,
			MaxLot:  maxQty,
			LotStep: step,
			Digits:  s.PricePrecision,
		}, nil
	}
	return SymbolInfo{}, errs.New(errs.KindHardBroker, "UnknownSymbol", symbol)
}

// classifyBinanceErr maps Binance's numeric error codes into the
// taxonomy kinds, generalizing the teacher's ad hoc string checks
// ("-5022", "-1013" retried; "-2014", "-2015" fatal) into a single
// classifier every broker adapter can share the shape of.
func classifyBinanceErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-1013"), // filter failure (often transient sizing race)
		strings.Contains(msg, "-5022"), // post-only would immediately match
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"):
		return errs.Wrap(errs.KindTransientBroker, "BinanceTransient", err)
	case strings.Contains(msg, "-2014"), // invalid API key
		strings.Contains(msg, "-2015"), // invalid API key/permissions
		strings.Contains(msg, "-2019"): // margin insufficient
		return errs.Wrap(errs.KindHardBroker, "BinanceRejected", err)
	default:
		return errs.Wrap(errs.KindHardBroker, "BinanceError", err)
	}
}
