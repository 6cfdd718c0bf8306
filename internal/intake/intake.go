// Package intake adapts an upstream signal feed into pre-filtered signals
// for the engine.
package intake

import (
	"context"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/state"
	"signal_trader/internal/telemetry"
)

// Message is one parsed upstream message: a feed position marker, the time
// it was produced, and the signal it carries.
type Message struct {
	ID     string
	Ts     time.Time
	Signal core.Signal
}

// Source is the upstream transport and parser. Poll returns the messages
// that arrived after the given feed marker, oldest first.
type Source interface {
	Poll(ctx context.Context, afterID string) ([]Message, error)
}

// Adapter filters the raw feed: fingerprint dedup, concurrency and daily
// caps, staleness. Everything it emits has already passed those filters and
// can go straight into admission.
type Adapter struct {
	source Source
	cfg    *config.Config
	state  *state.GlobalState
	logger core.ILogger

	now func() time.Time
}

// NewAdapter creates an adapter over source, filtering against st.
func NewAdapter(source Source, cfg *config.Config, st *state.GlobalState, logger core.ILogger) *Adapter {
	return &Adapter{
		source: source,
		cfg:    cfg,
		state:  st,
		logger: logger.WithField("component", "intake"),
		now:    time.Now,
	}
}

// SetClock overrides the adapter clock. Tests only.
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// Poll fetches new upstream messages and returns the signals that pass every
// filter. The feed marker advances over every fetched message, accepted or
// not, so rejected messages are never re-examined.
func (a *Adapter) Poll(ctx context.Context) ([]core.Signal, error) {
	messages, err := a.source.Poll(ctx, a.state.LastSignalID)
	if err != nil {
		return nil, err
	}

	var accepted []core.Signal
	for _, msg := range messages {
		a.state.LastSignalID = msg.ID

		if reason := a.filter(msg, len(accepted)); reason != "" {
			a.logger.Info("Signal filtered", "signal_id", msg.ID, "symbol", msg.Signal.Symbol, "reason", reason)
			telemetry.SignalsRejected.WithLabelValues(reason).Inc()
			continue
		}

		a.state.RememberFingerprint(msg.Signal.Fingerprint)
		accepted = append(accepted, msg.Signal)
	}
	return accepted, nil
}

// filter returns a reject reason, or "" to accept. batchAccepted counts the
// signals already accepted from this poll: the engine admits them only after
// the poll returns, so the caps must account for them here or a single batch
// could breach both limits.
func (a *Adapter) filter(msg Message, batchAccepted int) string {
	now := a.now()

	if msg.Signal.Symbol == "" || msg.Signal.Trigger.Sign() <= 0 {
		return "unparseable"
	}
	if a.cfg.SignalMaxLagSec > 0 && now.Sub(msg.Ts) > time.Duration(a.cfg.SignalMaxLagSec)*time.Second {
		return "stale"
	}
	if msg.Signal.Fingerprint != "" && a.state.HasFingerprint(msg.Signal.Fingerprint) {
		return "duplicate"
	}
	if a.state.ActiveTrades()+batchAccepted >= a.cfg.MaxConcurrentTrades {
		return "concurrent cap"
	}
	if a.state.DailyCount(now)+batchAccepted >= a.cfg.MaxTradesPerDay {
		return "daily cap"
	}
	return ""
}
