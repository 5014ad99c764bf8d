// Package book holds the aggregated cross-venue price book. The Aggregator
// is the sole writer: adapters feed it ticks over a channel, and every other
// component observes the book through copied snapshots or the subscription
// fan-out, never through a live reference.
package book

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/quantrell/arbcore/internal/domain"
)

// defaultSubscriberBuffer is used when Subscribe is called with buf <= 0.
const defaultSubscriberBuffer = 64

// Aggregator maintains the latest well-formed tick per (venue, symbol) and
// republishes each installed tick to subscribers.
//
// Overflow policy: a subscriber whose buffer is full drops the newest
// notification (the send is skipped). The book itself always holds the latest
// tick, so a dropped notification is recovered by the next update for that
// key. Ingestion never blocks on a slow subscriber.
type Aggregator struct {
	logger *slog.Logger

	mu   sync.RWMutex
	book map[domain.BookKey]domain.PriceTick

	subMu  sync.Mutex
	subs   map[int]chan domain.PriceTick
	nextID int

	malformed atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty aggregator.
func New(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		logger: logger.With(slog.String("component", "aggregator")),
		book:   make(map[domain.BookKey]domain.PriceTick),
		subs:   make(map[int]chan domain.PriceTick),
	}
}

// Run consumes ticks from in until the channel closes or ctx is cancelled.
// Malformed ticks are counted and skipped; Ingest already logs them.
func (a *Aggregator) Run(ctx context.Context, in <-chan domain.PriceTick) error {
	a.logger.Info("aggregator started")
	defer a.logger.Info("aggregator stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			_ = a.Ingest(tick)
		}
	}
}

// Ingest validates the tick, replaces the entry for its key wholesale
// (last-write-wins), and fans the tick out. A tick with bid > ask is rejected
// and counted; it never reaches the book or subscribers.
func (a *Aggregator) Ingest(tick domain.PriceTick) error {
	if err := tick.Validate(); err != nil {
		a.malformed.Add(1)
		a.logger.Warn("malformed tick rejected",
			slog.String("venue", tick.Venue),
			slog.String("symbol", tick.Symbol),
			slog.String("bid", tick.Bid.String()),
			slog.String("ask", tick.Ask.String()),
		)
		return err
	}

	a.mu.Lock()
	a.book[tick.Key()] = tick
	a.mu.Unlock()

	a.publish(tick)
	return nil
}

// Snapshot returns a copy of the whole book. The copy is the caller's to keep.
func (a *Aggregator) Snapshot() map[domain.BookKey]domain.PriceTick {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[domain.BookKey]domain.PriceTick, len(a.book))
	for k, v := range a.book {
		out[k] = v
	}
	return out
}

// SymbolQuotes returns the latest tick per venue for one symbol, sorted by
// venue id. The stable order is what makes detection deterministic.
func (a *Aggregator) SymbolQuotes(symbol string) []domain.PriceTick {
	a.mu.RLock()
	quotes := make([]domain.PriceTick, 0, 4)
	for k, v := range a.book {
		if k.Symbol == symbol {
			quotes = append(quotes, v)
		}
	}
	a.mu.RUnlock()

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Venue < quotes[j].Venue })
	return quotes
}

// Subscribe registers a fan-out subscriber and returns its channel together
// with a cancel function. The channel is closed by cancel.
func (a *Aggregator) Subscribe(buf int) (<-chan domain.PriceTick, func()) {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	ch := make(chan domain.PriceTick, buf)

	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
		a.subMu.Unlock()
	}
	return ch, cancel
}

// MalformedCount returns how many ticks were rejected at ingestion.
func (a *Aggregator) MalformedCount() uint64 {
	return a.malformed.Load()
}

// DroppedCount returns how many subscriber notifications were dropped.
func (a *Aggregator) DroppedCount() uint64 {
	return a.dropped.Load()
}

// publish delivers the tick to every subscriber, skipping full buffers.
func (a *Aggregator) publish(tick domain.PriceTick) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- tick:
		default:
			a.dropped.Add(1)
		}
	}
}
