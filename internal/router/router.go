// Package router arbitrates between heterogeneous event classes with strict
// descending priority: risk alerts, then order events, then price ticks, then
// a periodic heartbeat. The priority is a functional requirement: a risk
// alert must never be starved by a burst of price ticks.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantrell/arbcore/internal/domain"
)

// Router merges its input channels into one prioritized event stream. The
// output channel is closed once every input channel has been closed and
// drained, which is the shutdown signal for downstream consumers.
type Router struct {
	risk   <-chan domain.RiskAlert
	fills  <-chan domain.OrderUpdate
	prices <-chan domain.PriceTick

	heartbeatEvery time.Duration
	out            chan domain.Event
	logger         *slog.Logger
}

// New creates a router over the three input channels. heartbeatEvery controls
// the idle heartbeat period; zero selects one second.
func New(risk <-chan domain.RiskAlert, fills <-chan domain.OrderUpdate, prices <-chan domain.PriceTick, heartbeatEvery time.Duration, logger *slog.Logger) *Router {
	if heartbeatEvery <= 0 {
		heartbeatEvery = time.Second
	}
	return &Router{
		risk:           risk,
		fills:          fills,
		prices:         prices,
		heartbeatEvery: heartbeatEvery,
		out:            make(chan domain.Event, 64),
		logger:         logger.With(slog.String("component", "event_router")),
	}
}

// Out returns the prioritized event stream.
func (r *Router) Out() <-chan domain.Event {
	return r.out
}

// Run processes events until all inputs are closed or ctx is cancelled.
// At every decision point a pending higher-priority event is chosen before
// any lower-priority one, enforced by the nested non-blocking selects: each
// tier is only reached when every tier above it had nothing pending.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("event router started")
	defer r.logger.Info("event router stopped")

	ticker := time.NewTicker(r.heartbeatEvery)
	defer ticker.Stop()
	defer close(r.out)

	risk, fills, prices := r.risk, r.fills, r.prices

	for {
		if risk == nil && fills == nil && prices == nil {
			r.logger.Info("all event sources exhausted, shutting down")
			return nil
		}

		// Tier 1: risk only.
		select {
		case a, ok := <-risk:
			if !ok {
				risk = nil
				continue
			}
			if err := r.emitRisk(ctx, a); err != nil {
				return err
			}
			continue
		default:
		}

		// Tier 2: risk or fills.
		select {
		case a, ok := <-risk:
			if !ok {
				risk = nil
				continue
			}
			if err := r.emitRisk(ctx, a); err != nil {
				return err
			}
			continue
		case u, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			if err := r.emitFill(ctx, u); err != nil {
				return err
			}
			continue
		default:
		}

		// Tier 3: risk, fills, or prices.
		select {
		case a, ok := <-risk:
			if !ok {
				risk = nil
				continue
			}
			if err := r.emitRisk(ctx, a); err != nil {
				return err
			}
			continue
		case u, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			if err := r.emitFill(ctx, u); err != nil {
				return err
			}
			continue
		case t, ok := <-prices:
			if !ok {
				prices = nil
				continue
			}
			if err := r.emitPrice(ctx, t); err != nil {
				return err
			}
			continue
		default:
		}

		// Nothing pending: block until any source or the heartbeat fires.
		// A higher-priority arrival is re-prioritized on the next pass.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-risk:
			if !ok {
				risk = nil
				continue
			}
			if err := r.emitRisk(ctx, a); err != nil {
				return err
			}
		case u, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			if err := r.emitFill(ctx, u); err != nil {
				return err
			}
		case t, ok := <-prices:
			if !ok {
				prices = nil
				continue
			}
			if err := r.emitPrice(ctx, t); err != nil {
				return err
			}
		case <-ticker.C:
			if err := r.emit(ctx, domain.Event{Class: domain.EventHeartbeat, At: time.Now().UTC()}); err != nil {
				return err
			}
		}
	}
}

func (r *Router) emitRisk(ctx context.Context, a domain.RiskAlert) error {
	r.logger.Warn("risk alert",
		slog.String("severity", string(a.Severity)),
		slog.String("source", a.Source),
		slog.String("message", a.Message),
	)
	return r.emit(ctx, domain.Event{Class: domain.EventRisk, Risk: &a, At: time.Now().UTC()})
}

func (r *Router) emitFill(ctx context.Context, u domain.OrderUpdate) error {
	return r.emit(ctx, domain.Event{Class: domain.EventFill, Fill: &u, At: time.Now().UTC()})
}

func (r *Router) emitPrice(ctx context.Context, t domain.PriceTick) error {
	return r.emit(ctx, domain.Event{Class: domain.EventPrice, Price: &t, At: time.Now().UTC()})
}

func (r *Router) emit(ctx context.Context, ev domain.Event) error {
	select {
	case r.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
