package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quantrell/arbcore/internal/domain"
)

// PaperExchange is an ExchangeClient that fills every order immediately at
// the requested price. It stands in for live venue order APIs so the
// execution path can run end to end without venue credentials.
type PaperExchange struct {
	mu     sync.Mutex
	placed map[string]domain.OrderRequest // venue order id -> request
}

// NewPaperExchange creates an empty paper exchange.
func NewPaperExchange() *PaperExchange {
	return &PaperExchange{placed: make(map[string]domain.OrderRequest)}
}

// Place fills the order at its requested price and returns a synthetic
// venue order id.
func (p *PaperExchange) Place(ctx context.Context, venueID string, req domain.OrderRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	id := uuid.New().String()
	p.mu.Lock()
	p.placed[id] = req
	p.mu.Unlock()
	return Confirmation{VenueOrderID: id, FilledPrice: req.Price.String()}, nil
}

// Cancel removes a placed order. Cancelling an unknown id succeeds, keeping
// the call idempotent.
func (p *PaperExchange) Cancel(ctx context.Context, venueID, venueOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.placed, venueOrderID)
	p.mu.Unlock()
	return nil
}

// Placed returns the number of orders currently held.
func (p *PaperExchange) Placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

// Compile-time interface check.
var _ ExchangeClient = (*PaperExchange)(nil)
