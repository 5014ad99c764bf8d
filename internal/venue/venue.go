// Package venue defines the narrow contracts this core has with external
// trading venues: a normalized price stream and an order placement API.
// Venue-specific wire protocols live behind these interfaces.
package venue

import (
	"context"
	"fmt"

	"github.com/quantrell/arbcore/internal/domain"
)

// Stream is an open connection delivering normalized price ticks for one
// venue. Next blocks until a tick arrives, the context is cancelled, or the
// stream fails.
type Stream interface {
	Next(ctx context.Context) (domain.PriceTick, error)
	Close() error
}

// Dialer establishes a price stream for a venue. Connect must respect the
// context deadline; connection failures are returned, never retried here
// (reconnection is the feed adapter's job).
type Dialer interface {
	Connect(ctx context.Context, venueID string, symbols []string) (Stream, error)
}

// Confirmation is the venue's acknowledgement of a placed order.
type Confirmation struct {
	VenueOrderID string
	FilledPrice  string // venue-reported fill price, decimal string
}

// ExchangeClient is the order placement API. Both calls must respect the
// context deadline; Cancel is assumed idempotent when retried.
type ExchangeClient interface {
	Place(ctx context.Context, venueID string, req domain.OrderRequest) (Confirmation, error)
	Cancel(ctx context.Context, venueID, venueOrderID string) error
}

// ExchangeError is a venue-reported order failure. Retryable marks transient
// conditions the caller may resubmit.
type ExchangeError struct {
	Venue     string
	Code      string
	Message   string
	Retryable bool
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("venue %s: %s: %s", e.Venue, e.Code, e.Message)
}
