package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantrell/arbcore/internal/book"
	"github.com/quantrell/arbcore/internal/control"
	"github.com/quantrell/arbcore/internal/detector"
	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/engine"
	"github.com/quantrell/arbcore/internal/feed"
	"github.com/quantrell/arbcore/internal/notify"
	"github.com/quantrell/arbcore/internal/router"
	"github.com/quantrell/arbcore/internal/venue"
)

// controlChannel is the pub/sub channel the control loop listens on for
// operator commands.
const controlChannel = "arb:control"

// ArbitrageMode runs the full pipeline: venue adapters feed the aggregator,
// the detector derives order commands, per-venue engine lanes execute them,
// and the router fans events out by priority.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode",
		slog.Float64("min_spread_pct", a.cfg.Arbitrage.MinSpreadPct),
		slog.Float64("quantity", a.cfg.Arbitrage.Quantity),
	)

	g, ctx := errgroup.WithContext(ctx)

	tickCh := make(chan domain.PriceTick, a.cfg.Feed.TickBuffer)
	riskCh := make(chan domain.RiskAlert, 16)
	fillCh := make(chan domain.OrderUpdate, 64)

	agg := book.New(a.logger)
	g.Go(func() error {
		return agg.Run(ctx, tickCh)
	})

	adapters := a.startAdapters(ctx, g, tickCh, a.feedStatusFunc(ctx, riskCh, deps.Notifier))

	if deps.TickCache != nil {
		g.Go(func() error {
			return a.runTickCacheWriter(ctx, agg, deps.TickCache)
		})
	}

	// Execution engine with one FIFO lane per venue. Orders run against the
	// paper exchange until live venue order APIs are wired in.
	exchange := venue.NewPaperExchange()
	eng := engine.New(exchange, deps.Journal, fillCh, a.cfg.KnownSymbols(), engine.Config{
		CallTimeout: a.cfg.Engine.CallTimeout(),
	}, a.logger)

	lanes := make(map[string]chan domain.Command, len(a.cfg.Venues))
	laneWriters := make(map[string]chan<- domain.Command, len(a.cfg.Venues))
	for _, v := range a.cfg.Venues {
		lane := make(chan domain.Command, a.cfg.Engine.LaneBuffer)
		lanes[v.ID] = lane
		laneWriters[v.ID] = lane
		venueID := v.ID
		g.Go(func() error {
			return eng.RunLane(ctx, venueID, lane)
		})
	}

	submit := func(ctx context.Context, cmd domain.Command) error {
		if cmd.Type != domain.CommandPlace || cmd.Place == nil {
			return fmt.Errorf("arbitrage mode: unsupported command type %q", cmd.Type)
		}
		lane, ok := lanes[cmd.Place.Venue]
		if !ok {
			return fmt.Errorf("arbitrage mode: %w: %s", domain.ErrUnknownVenue, cmd.Place.Venue)
		}
		select {
		case lane <- cmd:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	det := detector.New(agg, submit, a.opportunitySink(deps),
		decimal.NewFromFloat(a.cfg.Arbitrage.MinSpreadPct),
		decimal.NewFromFloat(a.cfg.Arbitrage.Quantity),
		a.logger,
	)
	g.Go(func() error {
		return det.Run(ctx)
	})

	// Router: risk alerts preempt fills, fills preempt prices.
	prices, cancelPrices := agg.Subscribe(1024)
	rt := router.New(riskCh, fillCh, prices, a.cfg.Router.Heartbeat(), a.logger)
	g.Go(func() error {
		defer cancelPrices()
		return rt.Run(ctx)
	})
	g.Go(func() error {
		return a.consumeEvents(ctx, rt.Out(), deps.Notifier)
	})

	// Operator control over the signal bus.
	if deps.SignalBus != nil {
		ctrl := control.New(adapters, det, laneWriters, a.logger)
		g.Go(func() error {
			return a.runControlLoop(ctx, deps.SignalBus, ctrl, deps.Notifier)
		})
	}

	return g.Wait()
}

// MonitorMode runs read-only aggregation: venue adapters and the aggregator,
// with the latest ticks mirrored into the tick cache. No detection, no
// orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	tickCh := make(chan domain.PriceTick, a.cfg.Feed.TickBuffer)

	agg := book.New(a.logger)
	g.Go(func() error {
		return agg.Run(ctx, tickCh)
	})

	a.startAdapters(ctx, g, tickCh, a.feedStatusFunc(ctx, nil, deps.Notifier))

	if deps.TickCache != nil {
		g.Go(func() error {
			return a.runTickCacheWriter(ctx, agg, deps.TickCache)
		})
	}

	return g.Wait()
}

// ArchiveMode performs a one-shot archival run: journal records older than
// the retention window are uploaded to object storage and deleted.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (journal and s3 required)")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Journal.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Journal.RetentionDays),
	)

	archived, err := deps.Archiver.Archive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("archived", archived))
	return nil
}

// startAdapters builds and starts one feed adapter per configured venue. All
// adapters share the dialer and the out channel.
func (a *App) startAdapters(ctx context.Context, g *errgroup.Group, out chan<- domain.PriceTick, onStatus domain.FeedStatusFunc) map[string]*feed.Adapter {
	dialer := venue.NewWSDialer(a.cfg.Endpoints())
	feedCfg := feed.Config{
		BackoffBase: a.cfg.Feed.BackoffBase(),
		BackoffMax:  a.cfg.Feed.BackoffMax(),
		MaxAttempts: a.cfg.Feed.MaxAttempts,
		DialTimeout: a.cfg.Feed.DialTimeout(),
	}

	adapters := make(map[string]*feed.Adapter, len(a.cfg.Venues))
	for _, v := range a.cfg.Venues {
		ad := feed.New(v.ID, v.Symbols, dialer, out, onStatus, feedCfg, a.logger)
		adapters[v.ID] = ad
		g.Go(func() error {
			return ad.Run(ctx)
		})
	}
	return adapters
}

// feedStatusFunc returns the adapter status callback: every transition is
// logged, and exhaustion (GivenUp) raises a risk alert and an operator
// notification. The callback never blocks the adapter loop.
func (a *App) feedStatusFunc(ctx context.Context, risk chan<- domain.RiskAlert, notifier *notify.Notifier) domain.FeedStatusFunc {
	return func(st domain.FeedStatus) {
		a.logger.Info("feed transition",
			slog.String("venue", st.Venue),
			slog.String("from", string(st.From)),
			slog.String("to", string(st.To)),
			slog.Int("attempt", st.Attempt),
			slog.String("reason", st.Reason),
		)
		if st.To != domain.FeedGivenUp {
			return
		}

		if risk != nil {
			alert := domain.RiskAlert{
				Severity: domain.RiskSeverityCritical,
				Source:   "feed:" + st.Venue,
				Message:  fmt.Sprintf("feed gave up after %d attempts: %s", st.Attempt, st.Reason),
				At:       st.At,
			}
			select {
			case risk <- alert:
			default:
				a.logger.Warn("risk channel full, alert dropped", slog.String("venue", st.Venue))
			}
		}

		if notifier != nil {
			go func() {
				nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				_ = notifier.Notify(nctx, notify.EventFeedGivenUp,
					"Feed gave up: "+st.Venue,
					fmt.Sprintf("Venue %s exhausted %d reconnect attempts: %s. Operator reset required.",
						st.Venue, st.Attempt, st.Reason),
				)
			}()
		}
	}
}

// opportunitySink fans each detected opportunity out to operators via the
// notifier and publishes it on the signal bus: pub/sub for live consumers
// plus a capped stream for replay.
func (a *App) opportunitySink(deps *Dependencies) detector.OpportunityFunc {
	return func(ctx context.Context, opp domain.Opportunity) {
		if deps.Notifier != nil {
			_ = deps.Notifier.Notify(ctx, notify.EventOpportunity,
				"Opportunity: "+opp.Symbol,
				fmt.Sprintf("buy %s @ %s, sell %s @ %s, spread %s%%",
					opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice, opp.SpreadPct),
			)
		}

		if deps.SignalBus == nil {
			return
		}
		payload, err := json.Marshal(opp)
		if err != nil {
			a.logger.Warn("opportunity marshal failed", slog.String("error", err.Error()))
			return
		}
		if err := deps.SignalBus.Publish(ctx, a.cfg.Redis.SignalChannel, payload); err != nil {
			a.logger.Warn("opportunity publish failed", slog.String("error", err.Error()))
		}
		if err := deps.SignalBus.StreamAppend(ctx, a.cfg.Redis.SignalStream, payload); err != nil {
			a.logger.Warn("opportunity stream append failed", slog.String("error", err.Error()))
		}
	}
}

// runTickCacheWriter mirrors every aggregated tick into the external tick
// cache. Cache write failures are logged and skipped; the book stays
// authoritative.
func (a *App) runTickCacheWriter(ctx context.Context, agg *book.Aggregator, cache domain.TickCache) error {
	ticks, cancel := agg.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := cache.SetTick(ctx, tick); err != nil {
				a.logger.Warn("tick cache write failed",
					slog.String("venue", tick.Venue),
					slog.String("symbol", tick.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// consumeEvents drains the router output. Fills that reach a terminal status
// are escalated to the notifier; everything else is logged at debug.
func (a *App) consumeEvents(ctx context.Context, events <-chan domain.Event, notifier *notify.Notifier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Class {
			case domain.EventFill:
				o := ev.Fill.Order
				a.logger.Info("order update",
					slog.Int64("order_id", o.ID),
					slog.String("venue", o.Venue),
					slog.String("symbol", o.Symbol),
					slog.String("status", string(o.Status)),
				)
				if notifier == nil {
					continue
				}
				switch o.Status {
				case domain.OrderStatusFilled:
					_ = notifier.Notify(ctx, notify.EventOrderFilled,
						fmt.Sprintf("Order %d filled", o.ID),
						fmt.Sprintf("%s %s %s @ %s on %s", o.Side, o.Quantity, o.Symbol, o.Price, o.Venue),
					)
				case domain.OrderStatusRejected:
					_ = notifier.Notify(ctx, notify.EventOrderRejected,
						fmt.Sprintf("Order %d rejected", o.ID),
						fmt.Sprintf("%s %s on %s: %s", o.Side, o.Symbol, o.Venue, o.Reason),
					)
				}
			case domain.EventRisk:
				if notifier != nil {
					_ = notifier.Notify(ctx, notify.EventRiskAlert,
						"Risk alert: "+ev.Risk.Source, ev.Risk.Message)
				}
			default:
				a.logger.Debug("event", slog.String("class", ev.Class.String()))
			}
		}
	}
}

// controlMessage is the JSON operator command consumed by the control loop.
type controlMessage struct {
	Action string `json:"action"` // reset_feed | set_min_spread | set_quantity | drain
	Venue  string `json:"venue,omitempty"`
	Value  string `json:"value,omitempty"` // decimal string
}

// runControlLoop subscribes to the control channel and applies operator
// commands to the running core. Invalid commands are logged and skipped.
func (a *App) runControlLoop(ctx context.Context, bus domain.SignalBus, ctrl *control.Surface, notifier *notify.Notifier) error {
	msgs, err := bus.Subscribe(ctx, controlChannel)
	if err != nil {
		return fmt.Errorf("control loop: subscribe %s: %w", controlChannel, err)
	}
	a.logger.Info("control loop started", slog.String("channel", controlChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg controlMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				a.logger.Warn("control message malformed", slog.String("error", err.Error()))
				continue
			}
			if err := a.applyControl(ctx, ctrl, notifier, msg); err != nil {
				a.logger.Warn("control command failed",
					slog.String("action", msg.Action),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *App) applyControl(ctx context.Context, ctrl *control.Surface, notifier *notify.Notifier, msg controlMessage) error {
	switch msg.Action {
	case "reset_feed":
		return ctrl.ResetFeed(msg.Venue)
	case "set_min_spread":
		v, err := decimal.NewFromString(msg.Value)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", msg.Value, err)
		}
		return ctrl.SetMinSpread(v)
	case "set_quantity":
		v, err := decimal.NewFromString(msg.Value)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", msg.Value, err)
		}
		return ctrl.SetQuantity(v)
	case "drain":
		ctrl.Drain()
		// Drain always reaches operators, whatever the event filter says.
		if notifier != nil {
			_ = notifier.NotifyAll(ctx, "Execution drained",
				"operator drain: detection stopped, all execution lanes shut down")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}
