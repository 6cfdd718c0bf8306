package engine

import (
	"context"
	"errors"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/telemetry"
	apperrors "signal_trader/pkg/errors"
)

// pruneAfter is how long terminal trades stay in the state before removal.
const pruneAfter = 24 * time.Hour

// Maintain runs one maintenance sweep: expire stale pending entries, retry
// incomplete lay-downs, reap closed positions, prune old terminal trades.
// Per-trade errors are logged and skipped so one bad trade never stalls the
// rest.
func (e *Engine) Maintain(ctx context.Context) {
	now := e.now()

	for id, trade := range e.state.OpenTrades {
		switch trade.Status {
		case core.StatusPending:
			e.expireIfStale(ctx, trade, now)
		case core.StatusOpen:
			e.tendOpenTrade(ctx, trade, now)
		case core.StatusClosed, core.StatusExpired:
			if trade.ClosedTs > 0 && now.Sub(time.Unix(trade.ClosedTs, 0)) > pruneAfter {
				delete(e.state.OpenTrades, id)
				e.logger.Info("Pruned terminal trade", "trade_id", id, "status", string(trade.Status))
			}
		}
	}
}

// expireIfStale cancels the entry order of a pending trade that outlived its
// time-to-live. The trade is marked expired only once the exchange confirms
// the cancel or reports the order already gone.
func (e *Engine) expireIfStale(ctx context.Context, trade *core.Trade, now time.Time) {
	ttl := time.Duration(e.cfg.EntryExpirationMin) * time.Minute
	if now.Sub(time.Unix(trade.PlacedTs, 0)) <= ttl {
		return
	}

	log := e.logger.WithField("trade_id", trade.TradeID).WithField("symbol", trade.Symbol)

	if !e.cfg.DryRun && trade.EntryOrderID != dryRunOrderID {
		err := e.exchange.CancelOrder(ctx, trade.Symbol, trade.EntryOrderID)
		if err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
			log.Error("Failed to cancel expired entry order, will retry", "error", err)
			return
		}
	}

	trade.Status = core.StatusExpired
	trade.ClosedTs = now.Unix()
	telemetry.TradesClosed.WithLabelValues("expired").Inc()
	log.Info("Entry order expired and cancelled")
}

// tendOpenTrade retries an incomplete lay-down, otherwise checks whether the
// position is gone and the trade can be reaped.
func (e *Engine) tendOpenTrade(ctx context.Context, trade *core.Trade, now time.Time) {
	log := e.logger.WithField("trade_id", trade.TradeID).WithField("symbol", trade.Symbol)

	if !trade.PostOrdersPlaced {
		if err := e.placePostOrders(ctx, trade); err != nil {
			log.Error("Post-entry order placement failed, will retry", "error", err)
		}
		return
	}

	size, err := e.positionSize(ctx, trade.Symbol)
	if err != nil {
		log.Error("Failed to query position size", "error", err)
		return
	}
	if size.Sign() == 0 {
		trade.Status = core.StatusClosed
		trade.ClosedTs = now.Unix()
		telemetry.TradesClosed.WithLabelValues("closed").Inc()
		log.Info("Position closed")
	}
}
