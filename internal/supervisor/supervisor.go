// Package supervisor serializes all engine work through one bounded queue.
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/engine"
	"signal_trader/internal/intake"
	"signal_trader/internal/state"
	"signal_trader/internal/telemetry"
)

// queueCap bounds the work queue. A full queue drops new items; the next
// tick re-derives anything a dropped event would have told us.
const queueCap = 256

// drainTimeout bounds how long shutdown spends finishing queued work.
const drainTimeout = 30 * time.Second

type itemKind int

const (
	itemTick itemKind = iota
	itemEvent
)

type workItem struct {
	kind  itemKind
	event core.ExecutionEvent
}

// Supervisor drives the engine: a jittered ticker produces tick items, the
// WS consumer produces event items, and a single consumer drains them in
// FIFO order. The state snapshot is saved after every drained item.
type Supervisor struct {
	engine *engine.Engine
	adapt  *intake.Adapter
	store  state.Store
	st     *state.GlobalState
	cfg    *config.Config
	logger core.ILogger

	queue chan workItem
}

// New creates a supervisor over the given collaborators.
func New(eng *engine.Engine, adapt *intake.Adapter, store state.Store, st *state.GlobalState, cfg *config.Config, logger core.ILogger) *Supervisor {
	return &Supervisor{
		engine: eng,
		adapt:  adapt,
		store:  store,
		st:     st,
		cfg:    cfg,
		logger: logger.WithField("component", "supervisor"),
		queue:  make(chan workItem, queueCap),
	}
}

// Enqueue pushes one execution event onto the work queue. Called from the WS
// consumer goroutine; never blocks.
func (s *Supervisor) Enqueue(ev core.ExecutionEvent) {
	select {
	case s.queue <- workItem{kind: itemEvent, event: ev}:
		telemetry.QueueDepth.Set(float64(len(s.queue)))
	default:
		s.logger.Warn("Work queue full, dropping execution event", "order_link_id", ev.OrderLinkID)
	}
}

// Run drives the loop until ctx is cancelled. It returns a non-nil error
// only when state persistence fails twice in a row, which is the signal to
// exit non-zero rather than diverge from the on-disk snapshot.
func (s *Supervisor) Run(ctx context.Context) error {
	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	go s.tickProducer(tickerCtx)

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case item := <-s.queue:
			telemetry.QueueDepth.Set(float64(len(s.queue)))
			s.handle(ctx, item)
			if err := s.save(ctx); err != nil {
				return err
			}
		}
	}
}

// shutdown finishes whatever the producers already queued, then persists the
// final snapshot. A dropped event here could leave a filled position recorded
// as pending, so queued work is drained, not discarded. A fresh context bounds
// the drain because the run context is already cancelled.
func (s *Supervisor) shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case item := <-s.queue:
			telemetry.QueueDepth.Set(float64(len(s.queue)))
			s.handle(drainCtx, item)
			if err := s.save(drainCtx); err != nil {
				return err
			}
		default:
			return s.save(drainCtx)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, item workItem) {
	switch item.kind {
	case itemTick:
		s.tick(ctx)
	case itemEvent:
		s.engine.OnExecution(ctx, item.event)
	}
}

// tick runs one poll-admission-maintenance cycle.
func (s *Supervisor) tick(ctx context.Context) {
	signals, err := s.adapt.Poll(ctx)
	if err != nil {
		s.logger.Error("Signal poll failed", "error", err)
	}
	for _, sig := range signals {
		if err := s.engine.HandleSignal(ctx, sig); err != nil {
			s.logger.Error("Signal admission failed", "symbol", sig.Symbol, "error", err)
		}
	}
	s.engine.Maintain(ctx)
}

// tickProducer feeds tick items at the configured cadence plus uniform
// jitter.
func (s *Supervisor) tickProducer(ctx context.Context) {
	for {
		wait := time.Duration(s.cfg.PollSeconds) * time.Second
		if s.cfg.PollJitterMax > 0 {
			wait += time.Duration(rand.Float64() * s.cfg.PollJitterMax * float64(time.Second))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		select {
		case s.queue <- workItem{kind: itemTick}:
			telemetry.QueueDepth.Set(float64(len(s.queue)))
		default:
			s.logger.Warn("Work queue full, skipping tick")
		}
	}
}

// save persists the snapshot, retrying once. A second failure is fatal to
// the caller.
func (s *Supervisor) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.st); err != nil {
		telemetry.SaveFailures.Inc()
		s.logger.Error("State save failed, retrying once", "error", err)
		if err := s.store.Save(ctx, s.st); err != nil {
			telemetry.SaveFailures.Inc()
			return fmt.Errorf("state persistence failed twice: %w", err)
		}
	}
	return nil
}
