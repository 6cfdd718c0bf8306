// Package telemetry exposes Prometheus metrics for the trade agent.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsAccepted counts signals that passed admission and produced an
	// entry order.
	SignalsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_signals_accepted_total",
		Help: "Signals admitted into a pending trade",
	})

	// SignalsRejected counts rejected signals by gate.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_signals_rejected_total",
		Help: "Signals rejected during admission, by reason",
	}, []string{"reason"})

	// OrdersPlaced counts order submissions by kind.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_placed_total",
		Help: "Orders submitted to the exchange, by kind",
	}, []string{"kind"})

	// EntryFills counts entry orders confirmed filled.
	EntryFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_entry_fills_total",
		Help: "Entry orders confirmed filled",
	})

	// BreakevenMoves counts stop-loss promotions to entry price.
	BreakevenMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_sl_breakeven_moves_total",
		Help: "Stop-loss moves to breakeven after the first take-profit",
	})

	// TrailingActivations counts trailing-stop activations.
	TrailingActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_trailing_activations_total",
		Help: "Trailing stops activated",
	})

	// TradesClosed counts trades leaving the active set, by outcome.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_closed_total",
		Help: "Trades leaving the active lifecycle, by outcome",
	}, []string{"outcome"})

	// QueueDepth tracks the supervisor work queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_queue_depth",
		Help: "Items waiting in the supervisor work queue",
	})

	// SaveFailures counts state persistence failures.
	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_state_save_failures_total",
		Help: "State snapshot save failures",
	})
)
