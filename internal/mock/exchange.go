// Package mock provides scripted doubles for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"signal_trader/internal/core"
)

// Exchange is a scripted core.IExchange. Tests preload prices, equity and
// rules, then inspect the order and trading-stop requests the code under test
// produced. All methods are safe for concurrent use.
type Exchange struct {
	mu sync.Mutex

	prices    map[string]decimal.Decimal
	rules     map[string]core.InstrumentRules
	equity    decimal.Decimal
	positions map[string][]core.Position
	open      map[string][]core.Order

	Orders       []core.OrderRequest
	TradingStops []core.TradingStopRequest
	Cancelled    []string
	Leverages    map[string]int

	nextOrderID int

	// Errors to inject, keyed by method name ("PlaceOrder", "CancelOrder",
	// "SetTradingStop", "LastPrice", "WalletEquity", "Positions",
	// "OpenOrders", "SetLeverage", "InstrumentRules").
	Errs map[string]error

	// PlaceOrderErrs fails specific submissions by order-link id.
	PlaceOrderErrs map[string]error
}

// NewExchange returns an empty scripted exchange with sane defaults.
func NewExchange() *Exchange {
	return &Exchange{
		prices:         make(map[string]decimal.Decimal),
		rules:          make(map[string]core.InstrumentRules),
		positions:      make(map[string][]core.Position),
		open:           make(map[string][]core.Order),
		Leverages:      make(map[string]int),
		Errs:           make(map[string]error),
		PlaceOrderErrs: make(map[string]error),
	}
}

// SetPrice scripts the last price for symbol.
func (e *Exchange) SetPrice(symbol string, p decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = p
}

// SetEquity scripts the wallet equity.
func (e *Exchange) SetEquity(eq decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity = eq
}

// SetRules scripts the instrument rules for symbol.
func (e *Exchange) SetRules(symbol string, r core.InstrumentRules) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[symbol] = r
}

// SetPositions scripts the position list for symbol.
func (e *Exchange) SetPositions(symbol string, ps []core.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = ps
}

// SetOpenOrders scripts the open-order list for symbol.
func (e *Exchange) SetOpenOrders(symbol string, os []core.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[symbol] = os
}

func (e *Exchange) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["LastPrice"]; err != nil {
		return decimal.Zero, err
	}
	p, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no scripted price for %s", symbol)
	}
	return p, nil
}

func (e *Exchange) InstrumentRules(ctx context.Context, symbol string) (core.InstrumentRules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["InstrumentRules"]; err != nil {
		return core.InstrumentRules{}, err
	}
	r, ok := e.rules[symbol]
	if !ok {
		return core.InstrumentRules{}, fmt.Errorf("no scripted rules for %s", symbol)
	}
	return r, nil
}

func (e *Exchange) WalletEquity(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["WalletEquity"]; err != nil {
		return decimal.Zero, err
	}
	return e.equity, nil
}

func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["SetLeverage"]; err != nil {
		return err
	}
	e.Leverages[symbol] = leverage
	return nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["PlaceOrder"]; err != nil {
		return "", err
	}
	if err := e.PlaceOrderErrs[req.OrderLinkID]; err != nil {
		return "", err
	}
	e.Orders = append(e.Orders, req)
	e.nextOrderID++
	return fmt.Sprintf("order-%d", e.nextOrderID), nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["CancelOrder"]; err != nil {
		return err
	}
	e.Cancelled = append(e.Cancelled, orderID)
	return nil
}

func (e *Exchange) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["OpenOrders"]; err != nil {
		return nil, err
	}
	return append([]core.Order(nil), e.open[symbol]...), nil
}

func (e *Exchange) Positions(ctx context.Context, symbol string) ([]core.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["Positions"]; err != nil {
		return nil, err
	}
	return append([]core.Position(nil), e.positions[symbol]...), nil
}

func (e *Exchange) SetTradingStop(ctx context.Context, req core.TradingStopRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errs["SetTradingStop"]; err != nil {
		return err
	}
	e.TradingStops = append(e.TradingStops, req)
	return nil
}

// OrderByLinkID finds a recorded order request by its order-link id.
func (e *Exchange) OrderByLinkID(linkID string) (core.OrderRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.Orders {
		if o.OrderLinkID == linkID {
			return o, true
		}
	}
	return core.OrderRequest{}, false
}
