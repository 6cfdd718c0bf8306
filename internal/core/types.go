package core

import (
	"github.com/shopspring/decimal"
)

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the reducing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Trigger directions for conditional orders (Bybit V5 semantics).
const (
	TriggerRises = 1 // fires when the market rises to the trigger price
	TriggerFalls = 2 // fires when the market falls to the trigger price
)

// Signal is an accepted trade signal, immutable once handed to the engine.
type Signal struct {
	Symbol      string            `json:"symbol"`
	Side        string            `json:"side"` // "buy" | "sell"
	Trigger     decimal.Decimal   `json:"trigger"`
	TPPrices    []decimal.Decimal `json:"tp_prices,omitempty"`
	SLPrice     *decimal.Decimal  `json:"sl_price,omitempty"`
	DCAPrices   []decimal.Decimal `json:"dca_prices,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

// OrderSide maps the signal direction onto the exchange side.
func (s Signal) OrderSide() Side {
	if s.Side == "sell" {
		return SideSell
	}
	return SideBuy
}

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusOpen    TradeStatus = "open"
	StatusExpired TradeStatus = "expired"
	StatusClosed  TradeStatus = "closed"
)

// Trade is the engine's mutable record of one signal turned into orders.
// TradeID doubles as the exchange order-link id of the entry order; TP and
// DCA orders derive theirs as "{TradeID}:TP{n}" / "{TradeID}:DCA{n}".
type Trade struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	OrderSide Side            `json:"order_side"`
	Trigger   decimal.Decimal `json:"trigger"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	BaseQty    decimal.Decimal `json:"base_qty"`

	SLPrice   *decimal.Decimal  `json:"sl_price,omitempty"`
	TPPrices  []decimal.Decimal `json:"tp_prices,omitempty"`
	TPSplits  []decimal.Decimal `json:"tp_splits,omitempty"`
	DCAPrices []decimal.Decimal `json:"dca_prices,omitempty"`

	EntryOrderID string            `json:"entry_order_id"`
	TPOrderIDs   map[string]string `json:"tp_order_ids,omitempty"` // rank ("1"..) -> order id
	TP1OrderID   string            `json:"tp1_order_id,omitempty"`

	Status TradeStatus `json:"status"`

	PostOrdersPlaced bool `json:"post_orders_placed"`
	SLMovedToBE      bool `json:"sl_moved_to_be"`
	TrailingStarted  bool `json:"trailing_started"`

	PlacedTs int64 `json:"placed_ts"`
	FilledTs int64 `json:"filled_ts,omitempty"`
	ClosedTs int64 `json:"closed_ts,omitempty"`
}

// Terminal reports whether the trade has left the active lifecycle.
func (t *Trade) Terminal() bool {
	return t.Status == StatusClosed || t.Status == StatusExpired
}

// InstrumentRules holds the per-symbol quantization constraints.
type InstrumentRules struct {
	TickSize decimal.Decimal
	QtyStep  decimal.Decimal
	MinQty   decimal.Decimal
}

// OrderRequest describes one order submission. Prices and quantities are
// already rounded to the instrument rules by the caller; the adapter only
// formats them.
type OrderRequest struct {
	Symbol      string
	Side        Side
	OrderType   string // "Limit" | "Market"
	Qty         decimal.Decimal
	Price       decimal.Decimal
	TimeInForce string

	// Conditional trigger; TriggerDirection == 0 means a plain order.
	TriggerDirection int
	TriggerPrice     decimal.Decimal
	TriggerBy        string

	ReduceOnly  bool
	OrderLinkID string
}

// TradingStopRequest is a position-level SL/TP/trailing update in Full mode.
// Zero-valued fields are omitted from the request body.
type TradingStopRequest struct {
	Symbol       string
	StopLoss     decimal.Decimal
	ActivePrice  decimal.Decimal
	TrailingStop decimal.Decimal
}

// Order is an open-order record as reported by the exchange.
type Order struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Status      string
}

// Position is a position record as reported by the exchange.
type Position struct {
	Symbol   string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

// ExecutionEvent is one private-stream execution (or terminal order) event.
// Numeric fields are zero when the payload omitted them.
type ExecutionEvent struct {
	OrderLinkID string
	OrderID     string
	Symbol      string
	Side        Side
	ExecPrice   decimal.Decimal
	Price       decimal.Decimal
	LastPrice   decimal.Decimal
	ExecQty     decimal.Decimal
	OrderStatus string
}

// FillPrice picks the best available fill price from the event, falling back
// to the supplied default when the payload carried none.
func (e ExecutionEvent) FillPrice(fallback decimal.Decimal) decimal.Decimal {
	for _, p := range []decimal.Decimal{e.ExecPrice, e.Price, e.LastPrice} {
		if p.Sign() > 0 {
			return p
		}
	}
	return fallback
}
