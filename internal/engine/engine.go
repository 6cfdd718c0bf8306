// Package engine implements the reactive trade engine: signal admission,
// post-fill order laddering, execution-event reactions and maintenance
// sweeps. The engine is the sole mutator of the global state; callers
// serialize access through one execution context.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/instruments"
	"signal_trader/internal/state"
	"signal_trader/internal/telemetry"
	"signal_trader/pkg/tradingutils"
)

// dryRunOrderID is the sentinel order id recorded when DRY_RUN suppresses
// exchange mutations.
const dryRunOrderID = "DRY_RUN"

// Engine converts accepted signals into managed positions.
type Engine struct {
	exchange core.IExchange
	rules    *instruments.Cache
	cfg      *config.Config
	state    *state.GlobalState
	logger   core.ILogger

	// now is injectable for tests.
	now func() time.Time

	// symbols whose leverage has already been configured this run
	leverageSet map[string]bool
}

// New creates an engine over the given collaborators. st is the live state
// the supervisor persists after every drained work item.
func New(exchange core.IExchange, rules *instruments.Cache, cfg *config.Config, st *state.GlobalState, logger core.ILogger) *Engine {
	return &Engine{
		exchange:    exchange,
		rules:       rules,
		cfg:         cfg,
		state:       st,
		logger:      logger.WithField("component", "engine"),
		now:         time.Now,
		leverageSet: make(map[string]bool),
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// newTradeID builds a unique, human-readable trade id that fits within the
// exchange order-link id limit even with ":TPn"/":DCAn" suffixes.
func (e *Engine) newTradeID(symbol string) string {
	return fmt.Sprintf("%s-%d-%s", symbol, e.now().Unix(), uuid.NewString()[:8])
}

// HandleSignal runs admission for one accepted signal. Gate rejections are
// logged and counted, not returned as errors; only exchange or transport
// failures surface.
func (e *Engine) HandleSignal(ctx context.Context, sig core.Signal) error {
	side := sig.OrderSide()
	log := e.logger.WithField("symbol", sig.Symbol).WithField("side", string(side))

	// Best-effort leverage setup; a failure is logged, never fatal.
	if !e.leverageSet[sig.Symbol] {
		if err := e.setLeverage(ctx, sig.Symbol); err != nil {
			log.Warn("Failed to set leverage, continuing", "error", err)
		} else {
			e.leverageSet[sig.Symbol] = true
		}
	}

	last, err := e.exchange.LastPrice(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch last price for %s: %w", sig.Symbol, err)
	}

	if reason := e.gatekeep(side, sig.Trigger, last); reason != "" {
		log.Info("Signal rejected", "reason", reason, "trigger", sig.Trigger, "last", last)
		telemetry.SignalsRejected.WithLabelValues(reason).Inc()
		return nil
	}

	rules, err := e.rules.Rules(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch instrument rules for %s: %w", sig.Symbol, err)
	}

	triggerAdj := tradingutils.RoundPrice(e.armTrigger(side, sig.Trigger), rules.TickSize)
	limitPrice := tradingutils.RoundPrice(e.limitPrice(side, sig.Trigger), rules.TickSize)

	baseQty, err := e.baseQty(ctx, sig.Trigger, rules)
	if err != nil {
		return err
	}

	direction := triggerDirection(last, triggerAdj)

	tradeID := e.newTradeID(sig.Symbol)
	orderID, err := e.placeOrder(ctx, core.OrderRequest{
		Symbol:           sig.Symbol,
		Side:             side,
		OrderType:        "Limit",
		Qty:              baseQty,
		Price:            limitPrice,
		TimeInForce:      "GTC",
		TriggerDirection: direction,
		TriggerPrice:     triggerAdj,
		TriggerBy:        "LastPrice",
		OrderLinkID:      tradeID,
	})
	if err != nil {
		return fmt.Errorf("failed to place entry order for %s: %w", sig.Symbol, err)
	}

	now := e.now()
	trade := &core.Trade{
		TradeID:      tradeID,
		Symbol:       sig.Symbol,
		OrderSide:    side,
		Trigger:      sig.Trigger,
		BaseQty:      baseQty,
		SLPrice:      sig.SLPrice,
		TPPrices:     sig.TPPrices,
		TPSplits:     e.cfg.TPSplits,
		DCAPrices:    sig.DCAPrices,
		EntryOrderID: orderID,
		Status:       core.StatusPending,
		PlacedTs:     now.Unix(),
	}

	// The daily counter moves in the same mutation batch as the trade, so
	// one snapshot save commits both or neither.
	e.state.OpenTrades[tradeID] = trade
	e.state.IncrDaily(now)

	telemetry.SignalsAccepted.Inc()
	telemetry.OrdersPlaced.WithLabelValues("entry").Inc()
	log.Info("Entry order placed",
		"trade_id", tradeID,
		"order_id", orderID,
		"trigger", triggerAdj,
		"price", limitPrice,
		"qty", baseQty,
		"direction", direction)
	return nil
}

// gatekeep applies the too-far and beyond-expiry-price gates against the raw
// trigger. Returns a reject reason, or "" to admit.
func (e *Engine) gatekeep(side core.Side, trigger, last decimal.Decimal) string {
	far := tradingutils.PctOf(trigger, e.cfg.EntryTooFarPct)
	if side == core.SideBuy {
		if last.GreaterThanOrEqual(trigger.Add(far)) {
			return "too far past trigger"
		}
	} else {
		if last.LessThanOrEqual(trigger.Sub(far)) {
			return "too far past trigger"
		}
	}

	if e.cfg.EntryExpirationPricePct.Sign() > 0 {
		exp := tradingutils.PctOf(trigger, e.cfg.EntryExpirationPricePct)
		if side == core.SideBuy && last.GreaterThanOrEqual(trigger.Add(exp)) {
			return "beyond expiry price"
		}
		if side == core.SideSell && last.LessThanOrEqual(trigger.Sub(exp)) {
			return "beyond expiry price"
		}
	}
	return ""
}

// armTrigger pulls the trigger inward by the configured buffer so the
// conditional order arms slightly early.
func (e *Engine) armTrigger(side core.Side, trigger decimal.Decimal) decimal.Decimal {
	if e.cfg.EntryTriggerBufferPct.Sign() <= 0 {
		return trigger
	}
	buf := tradingutils.PctOf(trigger, e.cfg.EntryTriggerBufferPct)
	if side == core.SideBuy {
		return trigger.Sub(buf)
	}
	return trigger.Add(buf)
}

// limitPrice offsets the limit price from the trigger in the direction that
// helps the fill.
func (e *Engine) limitPrice(side core.Side, trigger decimal.Decimal) decimal.Decimal {
	if e.cfg.EntryLimitOffsetPct.Sign() <= 0 {
		return trigger
	}
	off := tradingutils.PctOf(trigger, e.cfg.EntryLimitOffsetPct)
	if side == core.SideBuy {
		return trigger.Sub(off)
	}
	return trigger.Add(off)
}

// baseQty sizes the entry from account equity: margin = equity * risk% / 100,
// notional = margin * leverage, qty = notional / trigger.
func (e *Engine) baseQty(ctx context.Context, trigger decimal.Decimal, rules core.InstrumentRules) (decimal.Decimal, error) {
	equity, err := e.exchange.WalletEquity(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch wallet equity: %w", err)
	}

	margin := tradingutils.PctOf(equity, e.cfg.RiskPct)
	notional := margin.Mul(decimal.NewFromInt(int64(e.cfg.Leverage)))
	qty := notional.Div(trigger)
	return tradingutils.RoundQuantity(qty, rules.QtyStep, rules.MinQty), nil
}

// triggerDirection derives the conditional direction from where the market
// sits relative to the trigger. Equal defaults to rises.
func triggerDirection(last, trigger decimal.Decimal) int {
	if last.GreaterThan(trigger) {
		return core.TriggerFalls
	}
	return core.TriggerRises
}

// setLeverage applies the configured leverage in both directions.
func (e *Engine) setLeverage(ctx context.Context, symbol string) error {
	if e.cfg.DryRun {
		e.logger.Info("DRY_RUN: skipping leverage update", "symbol", symbol, "leverage", e.cfg.Leverage)
		return nil
	}
	return e.exchange.SetLeverage(ctx, symbol, e.cfg.Leverage)
}

// placeOrder submits one order, or logs and returns the sentinel id when
// DRY_RUN suppresses exchange mutations.
func (e *Engine) placeOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	if e.cfg.DryRun {
		e.logger.Info("DRY_RUN: skipping order placement",
			"symbol", req.Symbol,
			"side", string(req.Side),
			"qty", req.Qty,
			"order_link_id", req.OrderLinkID)
		return dryRunOrderID, nil
	}
	return e.exchange.PlaceOrder(ctx, req)
}

// setTradingStop submits one position-level SL/trailing update, or logs it
// when DRY_RUN suppresses exchange mutations.
func (e *Engine) setTradingStop(ctx context.Context, req core.TradingStopRequest) error {
	if e.cfg.DryRun {
		e.logger.Info("DRY_RUN: skipping trading-stop update",
			"symbol", req.Symbol,
			"stop_loss", req.StopLoss,
			"active_price", req.ActivePrice,
			"trailing_stop", req.TrailingStop)
		return nil
	}
	return e.exchange.SetTradingStop(ctx, req)
}

// positionSize returns the total position size the exchange reports for
// symbol.
func (e *Engine) positionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	positions, err := e.exchange.Positions(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	size := decimal.Zero
	for _, p := range positions {
		if p.Symbol == symbol {
			size = size.Add(p.Size)
		}
	}
	return size, nil
}
