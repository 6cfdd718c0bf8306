package engine

import (
	"context"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"signal_trader/internal/core"
	"signal_trader/internal/telemetry"
	"signal_trader/pkg/tradingutils"
)

var tpLinkPattern = regexp.MustCompile(`^(.+):TP(\d+)$`)

// OnExecution reacts to one private-stream event. Events that do not match a
// known trade are dropped at debug; handler errors are logged and left for
// the next tick to retry.
func (e *Engine) OnExecution(ctx context.Context, ev core.ExecutionEvent) {
	if ev.OrderLinkID == "" {
		e.logger.Debug("Dropping execution event without order link id", "order_id", ev.OrderID)
		return
	}

	if trade, ok := e.state.OpenTrades[ev.OrderLinkID]; ok {
		e.onEntryFill(ctx, trade, ev)
		return
	}

	if m := tpLinkPattern.FindStringSubmatch(ev.OrderLinkID); m != nil {
		trade, ok := e.state.OpenTrades[m[1]]
		if !ok {
			e.logger.Debug("Dropping TP event for unknown trade", "order_link_id", ev.OrderLinkID)
			return
		}
		rank, _ := strconv.Atoi(m[2])
		e.onTakeProfitFill(ctx, trade, rank)
		return
	}

	// DCA fills grow the position the existing stops already cover.
	e.logger.Debug("Ignoring execution event", "order_link_id", ev.OrderLinkID)
}

// onEntryFill promotes a pending trade to open and lays down the protective
// orders. Duplicate fill events are harmless: promotion only happens once and
// the lay-down is guarded by post_orders_placed.
func (e *Engine) onEntryFill(ctx context.Context, trade *core.Trade, ev core.ExecutionEvent) {
	log := e.logger.WithField("trade_id", trade.TradeID).WithField("symbol", trade.Symbol)

	if trade.Terminal() {
		log.Debug("Ignoring fill event for terminal trade", "status", string(trade.Status))
		return
	}

	if trade.Status == core.StatusPending {
		trade.EntryPrice = ev.FillPrice(trade.Trigger)
		trade.Status = core.StatusOpen
		trade.FilledTs = e.now().Unix()
		telemetry.EntryFills.Inc()
		log.Info("Entry filled", "entry_price", trade.EntryPrice)
	}

	if !trade.PostOrdersPlaced {
		if err := e.placePostOrders(ctx, trade); err != nil {
			log.Error("Post-entry order placement failed, will retry", "error", err)
		}
	}
}

// onTakeProfitFill promotes the stop-loss to breakeven on the first TP and
// activates trailing on the configured TP rank.
func (e *Engine) onTakeProfitFill(ctx context.Context, trade *core.Trade, rank int) {
	log := e.logger.WithField("trade_id", trade.TradeID).WithField("tp_rank", rank)

	if trade.Status != core.StatusOpen {
		log.Debug("Ignoring TP fill for non-open trade", "status", string(trade.Status))
		return
	}

	rules, err := e.rules.Rules(ctx, trade.Symbol)
	if err != nil {
		log.Error("Failed to fetch instrument rules", "error", err)
		return
	}

	if rank == 1 && e.cfg.MoveSLToBEOnTP1 && !trade.SLMovedToBE {
		be := tradingutils.RoundPrice(trade.EntryPrice, rules.TickSize)
		if err := e.setTradingStop(ctx, core.TradingStopRequest{
			Symbol:   trade.Symbol,
			StopLoss: be,
		}); err != nil {
			log.Error("Failed to move stop-loss to breakeven", "error", err)
			return
		}
		trade.SLMovedToBE = true
		trade.SLPrice = &be
		telemetry.BreakevenMoves.Inc()
		log.Info("Stop-loss moved to breakeven", "sl_price", be)
	}

	if rank == e.cfg.TrailAfterTPIndex && e.cfg.TrailActivateOnTP && !trade.TrailingStarted {
		anchor := e.trailAnchor(ctx, trade, rank, rules)
		dist := tradingutils.RoundPrice(tradingutils.PctOf(anchor, e.cfg.TrailDistancePct), rules.TickSize)

		req := core.TradingStopRequest{
			Symbol:       trade.Symbol,
			ActivePrice:  anchor,
			TrailingStop: dist,
		}
		if trade.SLMovedToBE {
			req.StopLoss = tradingutils.RoundPrice(trade.EntryPrice, rules.TickSize)
		}
		if err := e.setTradingStop(ctx, req); err != nil {
			log.Error("Failed to activate trailing stop", "error", err)
			return
		}
		trade.TrailingStarted = true
		telemetry.TrailingActivations.Inc()
		log.Info("Trailing stop activated", "active_price", anchor, "distance", dist)
	}
}

// trailAnchor picks the trailing activation price: the TP level of the
// triggering rank, or the current last price when that level is absent.
func (e *Engine) trailAnchor(ctx context.Context, trade *core.Trade, rank int, rules core.InstrumentRules) decimal.Decimal {
	if rank-1 < len(trade.TPPrices) {
		return tradingutils.RoundPrice(trade.TPPrices[rank-1], rules.TickSize)
	}
	last, err := e.exchange.LastPrice(ctx, trade.Symbol)
	if err != nil {
		e.logger.Warn("Failed to fetch last price for trail anchor, using entry", "error", err)
		last = trade.EntryPrice
	}
	return tradingutils.RoundPrice(last, rules.TickSize)
}
