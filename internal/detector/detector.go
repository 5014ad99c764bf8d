// Package detector scans the aggregated book for cross-venue spread
// opportunities and derives the paired buy/sell commands that capture them.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/book"
	"github.com/quantrell/arbcore/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SubmitFunc delivers a command to the execution layer. The application wires
// it to the engine lane matching the order's venue.
type SubmitFunc func(ctx context.Context, cmd domain.Command) error

// OpportunityFunc observes each detected opportunity (logging, signal bus).
type OpportunityFunc func(ctx context.Context, opp domain.Opportunity)

// Detector subscribes to the aggregator and, on every tick, re-scans the
// tick's symbol across all venues. Threshold and per-trade quantity are
// adjustable at runtime through the operator surface.
type Detector struct {
	agg    *book.Aggregator
	submit SubmitFunc
	onOpp  OpportunityFunc
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	running  atomic.Bool

	mu        sync.RWMutex
	minSpread decimal.Decimal // percent, strictly-greater threshold
	quantity  decimal.Decimal // per-leg quantity
}

// New creates a detector. minSpreadPct is the spread threshold in percent;
// quantity is the fixed per-leg trade quantity.
func New(agg *book.Aggregator, submit SubmitFunc, onOpp OpportunityFunc, minSpreadPct, quantity decimal.Decimal, logger *slog.Logger) *Detector {
	return &Detector{
		agg:       agg,
		submit:    submit,
		onOpp:     onOpp,
		logger:    logger.With(slog.String("component", "detector")),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		minSpread: minSpreadPct,
		quantity:  quantity,
	}
}

// MinSpread returns the current threshold in percent.
func (d *Detector) MinSpread() decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.minSpread
}

// SetMinSpread adjusts the threshold at runtime.
func (d *Detector) SetMinSpread(pct decimal.Decimal) {
	d.mu.Lock()
	d.minSpread = pct
	d.mu.Unlock()
	d.logger.Info("min spread threshold changed", slog.String("pct", pct.String()))
}

// Quantity returns the current per-leg quantity.
func (d *Detector) Quantity() decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.quantity
}

// SetQuantity adjusts the per-leg quantity at runtime.
func (d *Detector) SetQuantity(q decimal.Decimal) {
	d.mu.Lock()
	d.quantity = q
	d.mu.Unlock()
	d.logger.Info("trade quantity changed", slog.String("quantity", q.String()))
}

// Run subscribes to the aggregator and processes ticks until ctx is
// cancelled or Stop is called. Each tick triggers a full re-scan of its
// symbol.
func (d *Detector) Run(ctx context.Context) error {
	d.running.Store(true)
	defer close(d.done)

	ticks, cancel := d.agg.Subscribe(0)
	defer cancel()

	d.logger.Info("detector started", slog.String("min_spread_pct", d.MinSpread().String()))
	defer d.logger.Info("detector stopped")

	for {
		// A stop request wins over a ready tick, so nothing is submitted
		// after Stop has been observed.
		select {
		case <-d.stopCh:
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			d.handle(ctx, tick)
		}
	}
}

// Stop makes Run return and blocks until any in-flight scan has finished
// submitting. After Stop returns no further commands are emitted. Safe to
// call more than once, and before Run has started.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	if d.running.Load() {
		<-d.done
	}
}

// handle scans the tick's symbol and emits commands for every opportunity.
func (d *Detector) handle(ctx context.Context, tick domain.PriceTick) {
	for _, opp := range d.Scan(tick.Symbol) {
		opp.ID = uuid.New().String()

		d.logger.Info("opportunity detected",
			slog.String("opp_id", opp.ID),
			slog.String("symbol", opp.Symbol),
			slog.String("buy_venue", opp.BuyVenue),
			slog.String("sell_venue", opp.SellVenue),
			slog.String("spread_pct", opp.SpreadPct.String()),
		)
		if d.onOpp != nil {
			d.onOpp(ctx, opp)
		}

		qty := d.Quantity()
		legs := []domain.OrderRequest{
			{
				Venue:         opp.BuyVenue,
				Symbol:        opp.Symbol,
				Side:          domain.OrderSideBuy,
				Price:         opp.BuyPrice,
				Quantity:      qty,
				OpportunityID: opp.ID,
			},
			{
				Venue:         opp.SellVenue,
				Symbol:        opp.Symbol,
				Side:          domain.OrderSideSell,
				Price:         opp.SellPrice,
				Quantity:      qty,
				OpportunityID: opp.ID,
			},
		}
		// The two legs are submitted independently; atomic execution of the
		// pair is not guaranteed and partial fills are reconciled out-of-band
		// from the recorded leg outcomes.
		for _, leg := range legs {
			if err := d.submit(ctx, domain.PlaceCommand(leg)); err != nil {
				d.logger.Error("command submit failed",
					slog.String("opp_id", opp.ID),
					slog.String("venue", leg.Venue),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Scan computes the opportunity list for one symbol from the current book
// snapshot. Venue pairs are visited in lexicographic (buy, sell) order over
// the sorted quotes, so identical snapshots always produce the identical
// sequence. Returned opportunities carry no ID; the caller assigns identity
// at emission time.
func (d *Detector) Scan(symbol string) []domain.Opportunity {
	quotes := d.agg.SymbolQuotes(symbol)
	if len(quotes) < 2 {
		return nil
	}
	threshold := d.MinSpread()
	now := time.Now().UTC()

	var opps []domain.Opportunity
	for _, buy := range quotes {
		if !buy.Ask.IsPositive() {
			continue
		}
		for _, sell := range quotes {
			if sell.Venue == buy.Venue {
				continue
			}
			// spread% = (bid_sell - ask_buy) / ask_buy * 100
			spread := sell.Bid.Sub(buy.Ask).Div(buy.Ask).Mul(hundred)
			if !spread.GreaterThan(threshold) {
				continue
			}
			opps = append(opps, domain.Opportunity{
				Symbol:     symbol,
				BuyVenue:   buy.Venue,
				SellVenue:  sell.Venue,
				BuyPrice:   buy.Ask,
				SellPrice:  sell.Bid,
				SpreadPct:  spread,
				DetectedAt: now,
			})
		}
	}
	return opps
}
