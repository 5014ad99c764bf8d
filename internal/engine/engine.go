// Package engine executes orders against venues. The Engine is the sole
// writer of order state: it assigns ids, drives each order through its
// lifecycle (pending to filled, cancelled, or rejected), and appends terminal
// records to the journal. Commands arrive on per-venue lanes that are each
// processed strictly FIFO; lanes run concurrently with no cross-lane
// ordering.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/venue"
)

// Config holds execution parameters.
type Config struct {
	// CallTimeout bounds every venue place/cancel call. A timed-out place is
	// treated as failed and the order is rejected; unwinding is out-of-band.
	CallTimeout time.Duration
	// JournalTimeout bounds the fire-and-forget journal append.
	JournalTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.JournalTimeout <= 0 {
		c.JournalTimeout = 3 * time.Second
	}
	return c
}

// Engine owns the order table. Construct with New, then start one RunLane
// goroutine per venue command channel.
type Engine struct {
	exchange venue.ExchangeClient
	journal  domain.OrderJournal       // nil disables journaling
	fills    chan<- domain.OrderUpdate // nil disables update events
	known    map[string]map[string]struct{}
	cfg      Config
	logger   *slog.Logger

	nextID atomic.Int64

	mu     sync.RWMutex
	orders map[int64]domain.Order
}

// New creates an engine. known maps each tradable venue to its symbols and
// backs PlaceOrder validation.
func New(exchange venue.ExchangeClient, journal domain.OrderJournal, fills chan<- domain.OrderUpdate, known map[string][]string, cfg Config, logger *slog.Logger) *Engine {
	idx := make(map[string]map[string]struct{}, len(known))
	for v, symbols := range known {
		set := make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			set[s] = struct{}{}
		}
		idx[v] = set
	}
	return &Engine{
		exchange: exchange,
		journal:  journal,
		fills:    fills,
		known:    idx,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "engine")),
		orders:   make(map[int64]domain.Order),
	}
}

// RunLane processes one command channel strictly in arrival order until the
// channel closes, a Shutdown command arrives, or ctx is cancelled.
func (e *Engine) RunLane(ctx context.Context, lane string, cmds <-chan domain.Command) error {
	log := e.logger.With(slog.String("lane", lane))
	log.Info("engine lane started")
	defer log.Info("engine lane stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			switch cmd.Type {
			case domain.CommandPlace:
				if cmd.Place == nil {
					log.Warn("place command without request, skipping")
					continue
				}
				e.place(ctx, *cmd.Place, log)
			case domain.CommandCancel:
				e.cancel(ctx, cmd.CancelID, log)
			case domain.CommandShutdown:
				log.Info("shutdown command received")
				return nil
			default:
				log.Warn("unknown command type", slog.String("type", string(cmd.Type)))
			}
		}
	}
}

// Order returns a copy of the order with the given id.
func (e *Engine) Order(id int64) (domain.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	return o, ok
}

// Orders returns a copy of the order table sorted by id.
func (e *Engine) Orders() []domain.Order {
	e.mu.RLock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// place runs one order through validation and venue placement. The id is
// assigned before the venue call so a cancel can reference it while the call
// is in flight.
func (e *Engine) place(ctx context.Context, req domain.OrderRequest, log *slog.Logger) {
	order := domain.Order{
		ID:            e.nextID.Add(1),
		Venue:         req.Venue,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        domain.OrderStatusPending,
		OpportunityID: req.OpportunityID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.validate(req); err != nil {
		// Validation failures reject deterministically, never reaching
		// Pending and never touching the venue.
		order.Status = domain.OrderStatusRejected
		order.Reason = err.Error()
		e.install(order)
		e.finalize(ctx, order, log)
		log.Warn("order rejected on validation",
			slog.Int64("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.install(order)
	e.notify(ctx, order)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	conf, err := e.exchange.Place(callCtx, order.Venue, req)
	cancel()

	if err != nil {
		order, applied := e.close(order.ID, domain.OrderStatusRejected, err.Error(), "")
		if !applied {
			log.Info("venue place failed for already-terminal order, ignoring",
				slog.Int64("order_id", order.ID),
				slog.String("status", string(order.Status)),
			)
			return
		}
		e.finalize(ctx, order, log)
		log.Error("venue place failed",
			slog.Int64("order_id", order.ID),
			slog.String("venue", order.Venue),
			slog.String("error", err.Error()),
		)
		return
	}

	order, applied := e.close(order.ID, domain.OrderStatusFilled, "", conf.VenueOrderID)
	if !applied {
		// A cancel from another lane won the race while the venue call was
		// in flight. The local order stays in its terminal state; the fill
		// the venue just made is unwound so it does not sit untracked.
		log.Warn("order went terminal during placement, unwinding venue fill",
			slog.Int64("order_id", order.ID),
			slog.String("status", string(order.Status)),
			slog.String("venue_order_id", conf.VenueOrderID),
		)
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
		if cerr := e.exchange.Cancel(callCtx, order.Venue, conf.VenueOrderID); cerr != nil {
			log.Error("venue unwind cancel failed",
				slog.Int64("order_id", order.ID),
				slog.String("venue_order_id", conf.VenueOrderID),
				slog.String("error", cerr.Error()),
			)
		}
		cancel()
		return
	}
	e.finalize(ctx, order, log)
	log.Info("order filled",
		slog.Int64("order_id", order.ID),
		slog.String("venue", order.Venue),
		slog.String("venue_order_id", conf.VenueOrderID),
	)
}

// cancel transitions a pending order to cancelled. Cancels of unknown or
// already-terminal orders are reported no-ops, not errors.
func (e *Engine) cancel(ctx context.Context, id int64, log *slog.Logger) {
	e.mu.RLock()
	order, ok := e.orders[id]
	e.mu.RUnlock()

	if !ok {
		log.Warn("cancel for unknown order, ignoring", slog.Int64("order_id", id))
		return
	}
	if order.Terminal() {
		log.Info("cancel for terminal order, no-op",
			slog.Int64("order_id", id),
			slog.String("status", string(order.Status)),
		)
		return
	}

	if order.VenueOrderID != "" {
		callCtx, cancelFn := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := e.exchange.Cancel(callCtx, order.Venue, order.VenueOrderID)
		cancelFn()
		if err != nil {
			// Cancel is idempotent on the venue side; leave the order pending
			// so a later cancel can retry.
			log.Error("venue cancel failed",
				slog.Int64("order_id", id),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	order, applied := e.close(id, domain.OrderStatusCancelled, "cancelled by request", "")
	if !applied {
		log.Info("cancel raced with a terminal transition, no-op",
			slog.Int64("order_id", id),
			slog.String("status", string(order.Status)),
		)
		return
	}
	e.finalize(ctx, order, log)
	log.Info("order cancelled", slog.Int64("order_id", id))
}

// validate applies the acceptance checks: positive quantity and price, known
// venue, known symbol on that venue.
func (e *Engine) validate(req domain.OrderRequest) error {
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", domain.ErrInvalidOrder, req.Quantity.String())
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price %s", domain.ErrInvalidOrder, req.Price.String())
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, req.Side)
	}
	symbols, ok := e.known[req.Venue]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownVenue, req.Venue)
	}
	if _, ok := symbols[req.Symbol]; !ok {
		return fmt.Errorf("%w: %s on %s", domain.ErrUnknownSymbol, req.Symbol, req.Venue)
	}
	return nil
}

// install stores a new order in the table.
func (e *Engine) install(o domain.Order) {
	e.mu.Lock()
	e.orders[o.ID] = o
	e.mu.Unlock()
}

// close moves an order to a terminal status and returns the updated copy.
// Terminal orders are never mutated again: when the order already reached a
// terminal state (a concurrent cancel, typically) the stored copy is
// returned unchanged and applied is false, and the caller must not journal
// or re-emit it.
func (e *Engine) close(id int64, status domain.OrderStatus, reason, venueOrderID string) (o domain.Order, applied bool) {
	now := time.Now().UTC()
	e.mu.Lock()
	o = e.orders[id]
	if !o.Terminal() {
		o.Status = status
		o.Reason = reason
		if venueOrderID != "" {
			o.VenueOrderID = venueOrderID
		}
		o.ClosedAt = &now
		e.orders[id] = o
		applied = true
	}
	e.mu.Unlock()
	return o, applied
}

// finalize hands a terminal order to the journal (fire-and-forget) and emits
// the update event. Journal failures are logged, never propagated.
func (e *Engine) finalize(ctx context.Context, o domain.Order, log *slog.Logger) {
	if e.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.JournalTimeout)
		if err := e.journal.Append(jctx, o); err != nil {
			log.Warn("journal append failed",
				slog.Int64("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
	e.notify(ctx, o)
}

// notify emits an order update event for the router.
func (e *Engine) notify(ctx context.Context, o domain.Order) {
	if e.fills == nil {
		return
	}
	select {
	case e.fills <- domain.OrderUpdate{Order: o, At: time.Now().UTC()}:
	case <-ctx.Done():
	}
}

// Exposure returns the total unmatched quantity per symbol across filled
// orders: buys minus sells. Reconciliation of partial arbitrage legs happens
// out-of-band from this figure.
func (e *Engine) Exposure() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal)
	for _, o := range e.orders {
		if o.Status != domain.OrderStatusFilled {
			continue
		}
		cur := out[o.Symbol]
		if o.Side == domain.OrderSideBuy {
			out[o.Symbol] = cur.Add(o.Quantity)
		} else {
			out[o.Symbol] = cur.Sub(o.Quantity)
		}
	}
	return out
}
