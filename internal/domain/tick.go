package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single normalized price update for one symbol on one venue.
// Adapters produce ticks; the aggregator is the only component that installs
// them into shared state. A tick is immutable once created.
type PriceTick struct {
	Venue     string
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Validate reports whether the tick is well-formed. A well-formed tick has
// non-empty venue and symbol, positive bid and ask, and bid <= ask. Malformed
// ticks are dropped at the boundary and never reach the book.
func (t PriceTick) Validate() error {
	if t.Venue == "" || t.Symbol == "" {
		return ErrMalformedTick
	}
	if !t.Bid.IsPositive() || !t.Ask.IsPositive() {
		return ErrMalformedTick
	}
	if t.Bid.GreaterThan(t.Ask) {
		return ErrMalformedTick
	}
	return nil
}

// Key returns the book key this tick replaces.
func (t PriceTick) Key() BookKey {
	return BookKey{Venue: t.Venue, Symbol: t.Symbol}
}

// BookKey identifies one entry in the aggregated book: the latest tick for a
// symbol on a venue.
type BookKey struct {
	Venue  string
	Symbol string
}
