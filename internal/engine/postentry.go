package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"signal_trader/internal/core"
	"signal_trader/internal/telemetry"
	"signal_trader/pkg/tradingutils"
)

// placePostOrders lays down the protective orders after an entry fill: the
// position-level stop-loss first, then the reduce-only TP ladder, then the
// conditional DCA adds. Emission order matters; a failure skips everything
// downstream of it until the next tick retries.
func (e *Engine) placePostOrders(ctx context.Context, trade *core.Trade) error {
	log := e.logger.WithField("trade_id", trade.TradeID).WithField("symbol", trade.Symbol)

	rules, err := e.rules.Rules(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch instrument rules for %s: %w", trade.Symbol, err)
	}

	slPrice := e.stopLossPrice(trade, rules)
	if err := e.setTradingStop(ctx, core.TradingStopRequest{
		Symbol:   trade.Symbol,
		StopLoss: slPrice,
	}); err != nil {
		return fmt.Errorf("failed to set initial stop-loss: %w", err)
	}
	trade.SLPrice = &slPrice
	log.Info("Initial stop-loss set", "sl_price", slPrice)

	size, err := e.positionSize(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("failed to query position size: %w", err)
	}
	if size.Sign() == 0 {
		// Fill event raced the position snapshot; the next event or tick
		// retries the whole lay-down.
		log.Warn("Position size is zero after fill, deferring TP/DCA placement")
		return nil
	}

	if err := e.placeTPLadder(ctx, trade, rules, size); err != nil {
		return err
	}
	if err := e.placeDCAAdds(ctx, trade, rules); err != nil {
		return err
	}

	trade.PostOrdersPlaced = true
	return nil
}

// stopLossPrice picks the signal's SL, or defaults to the configured distance
// from the entry in the adverse direction. Tick-rounded either way.
func (e *Engine) stopLossPrice(trade *core.Trade, rules core.InstrumentRules) decimal.Decimal {
	if trade.SLPrice != nil && trade.SLPrice.Sign() > 0 {
		return tradingutils.RoundPrice(*trade.SLPrice, rules.TickSize)
	}

	dist := tradingutils.PctOf(trade.EntryPrice, e.cfg.InitialSLPct)
	if trade.OrderSide == core.SideBuy {
		return tradingutils.RoundPrice(trade.EntryPrice.Sub(dist), rules.TickSize)
	}
	return tradingutils.RoundPrice(trade.EntryPrice.Add(dist), rules.TickSize)
}

// placeTPLadder submits one reduce-only limit per positive split, sized
// against the filled position.
func (e *Engine) placeTPLadder(ctx context.Context, trade *core.Trade, rules core.InstrumentRules, size decimal.Decimal) error {
	n := len(trade.TPPrices)
	if len(trade.TPSplits) < n {
		n = len(trade.TPSplits)
	}

	if trade.TPOrderIDs == nil {
		trade.TPOrderIDs = make(map[string]string)
	}

	for i := 0; i < n; i++ {
		if trade.TPSplits[i].Sign() <= 0 {
			continue
		}
		rank := i + 1
		qty := tradingutils.RoundQuantity(tradingutils.PctOf(size, trade.TPSplits[i]), rules.QtyStep, rules.MinQty)
		price := tradingutils.RoundPrice(trade.TPPrices[i], rules.TickSize)
		linkID := fmt.Sprintf("%s:TP%d", trade.TradeID, rank)

		orderID, err := e.placeOrder(ctx, core.OrderRequest{
			Symbol:      trade.Symbol,
			Side:        trade.OrderSide.Opposite(),
			OrderType:   "Limit",
			Qty:         qty,
			Price:       price,
			TimeInForce: "GTC",
			ReduceOnly:  true,
			OrderLinkID: linkID,
		})
		if err != nil {
			return fmt.Errorf("failed to place TP%d order: %w", rank, err)
		}

		trade.TPOrderIDs[strconv.Itoa(rank)] = orderID
		if rank == 1 {
			trade.TP1OrderID = orderID
		}
		telemetry.OrdersPlaced.WithLabelValues("tp").Inc()
	}
	return nil
}

// placeDCAAdds submits conditional same-side adds at each DCA level, sized as
// multiples of the base quantity.
func (e *Engine) placeDCAAdds(ctx context.Context, trade *core.Trade, rules core.InstrumentRules) error {
	n := len(trade.DCAPrices)
	if len(e.cfg.DCAQtyMults) < n {
		n = len(e.cfg.DCAQtyMults)
	}
	if n == 0 {
		return nil
	}

	last, err := e.exchange.LastPrice(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch last price for DCA placement: %w", err)
	}

	for j := 1; j <= n; j++ {
		price := tradingutils.RoundPrice(trade.DCAPrices[j-1], rules.TickSize)
		qty := tradingutils.RoundQuantity(trade.BaseQty.Mul(e.cfg.DCAQtyMults[j-1]), rules.QtyStep, rules.MinQty)

		if _, err := e.placeOrder(ctx, core.OrderRequest{
			Symbol:           trade.Symbol,
			Side:             trade.OrderSide,
			OrderType:        "Limit",
			Qty:              qty,
			Price:            price,
			TimeInForce:      "GTC",
			TriggerDirection: triggerDirection(last, price),
			TriggerPrice:     price,
			TriggerBy:        "LastPrice",
			OrderLinkID:      fmt.Sprintf("%s:DCA%d", trade.TradeID, j),
		}); err != nil {
			return fmt.Errorf("failed to place DCA%d order: %w", j, err)
		}
		telemetry.OrdersPlaced.WithLabelValues("dca").Inc()
	}
	return nil
}
