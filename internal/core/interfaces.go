// Package core defines the domain types and interfaces shared across the
// trade agent.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the surface of the derivatives venue the engine depends on.
// All operations must be safe to retry: order placement carries the
// order-link id as the exchange-side idempotency key.
type IExchange interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	InstrumentRules(ctx context.Context, symbol string) (InstrumentRules, error)
	WalletEquity(ctx context.Context) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)

	Positions(ctx context.Context, symbol string) ([]Position, error)
	SetTradingStop(ctx context.Context, req TradingStopRequest) error
}

// ILogger defines the logging interface used across the application.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
}
