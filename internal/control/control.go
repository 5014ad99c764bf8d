// Package control exposes the runtime operator surface: resetting a feed
// that has given up, tuning detection parameters, and draining execution
// lanes on shutdown.
package control

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/detector"
	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/feed"
)

// Surface bundles the operator-facing handles of a running core.
type Surface struct {
	adapters  map[string]*feed.Adapter
	detector  *detector.Detector
	lanes     map[string]chan<- domain.Command
	logger    *slog.Logger
	drainOnce sync.Once
}

// New creates a Surface over the given adapters and execution lanes. The
// detector may be nil in monitor mode.
func New(adapters map[string]*feed.Adapter, det *detector.Detector, lanes map[string]chan<- domain.Command, logger *slog.Logger) *Surface {
	return &Surface{
		adapters: adapters,
		detector: det,
		lanes:    lanes,
		logger:   logger.With(slog.String("component", "control")),
	}
}

// ResetFeed re-arms the adapter for the given venue after it has given up.
// It fails if the venue is unknown or the adapter is not in the given-up
// state.
func (s *Surface) ResetFeed(venueID string) error {
	a, ok := s.adapters[venueID]
	if !ok {
		return fmt.Errorf("control: reset feed: %w: %s", domain.ErrUnknownVenue, venueID)
	}
	if err := a.Reset(); err != nil {
		return fmt.Errorf("control: reset feed %s: %w", venueID, err)
	}
	s.logger.Info("feed reset", slog.String("venue", venueID))
	return nil
}

// FeedStates reports the current state of every venue adapter.
func (s *Surface) FeedStates() map[string]domain.FeedState {
	out := make(map[string]domain.FeedState, len(s.adapters))
	for id, a := range s.adapters {
		out[id] = a.State()
	}
	return out
}

// SetMinSpread updates the detection threshold. Takes effect on the next
// scan.
func (s *Surface) SetMinSpread(pct decimal.Decimal) error {
	if s.detector == nil {
		return fmt.Errorf("control: no detector running")
	}
	if pct.IsNegative() {
		return fmt.Errorf("control: min spread must be >= 0, got %s", pct)
	}
	s.detector.SetMinSpread(pct)
	s.logger.Info("min spread updated", slog.String("pct", pct.String()))
	return nil
}

// SetQuantity updates the per-leg trade quantity. Takes effect on the next
// emitted opportunity.
func (s *Surface) SetQuantity(qty decimal.Decimal) error {
	if s.detector == nil {
		return fmt.Errorf("control: no detector running")
	}
	if !qty.IsPositive() {
		return fmt.Errorf("control: quantity must be > 0, got %s", qty)
	}
	s.detector.SetQuantity(qty)
	s.logger.Info("quantity updated", slog.String("quantity", qty.String()))
	return nil
}

// Drain stops the detector, then sends a shutdown command down every
// execution lane and closes it. The detector is stopped first so no command
// is produced against a closed lane; commands already queued ahead of the
// shutdown are still processed in order. Repeated drains are no-ops.
func (s *Surface) Drain() {
	s.drainOnce.Do(func() {
		if s.detector != nil {
			s.detector.Stop()
			s.logger.Info("detector stopped for drain")
		}
		for _, venue := range s.laneIDs() {
			lane := s.lanes[venue]
			lane <- domain.ShutdownCommand()
			close(lane)
			s.logger.Info("lane drained", slog.String("venue", venue))
		}
	})
}

func (s *Surface) laneIDs() []string {
	ids := make([]string, 0, len(s.lanes))
	for id := range s.lanes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
