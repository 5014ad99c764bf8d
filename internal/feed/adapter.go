// Package feed runs one adapter per venue. An adapter owns the connection
// lifecycle for its venue's price stream: it dials through a venue.Dialer,
// forwards well-formed ticks to the shared ingest channel, and reconnects
// with exponential backoff when the stream faults. Exhausting the reconnect
// budget parks the adapter in a terminal given_up state that only an
// operator reset leaves.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/venue"
)

// Config holds the reconnect policy for an adapter.
type Config struct {
	// BackoffBase is the delay before the first reconnect attempt; each
	// consecutive failure doubles it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts is the number of consecutive failed attempts after which
	// the adapter gives up.
	MaxAttempts int
	// DialTimeout bounds each Connect call.
	DialTimeout time.Duration
}

// withDefaults fills zero fields with production defaults.
func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	return c
}

// Adapter is the per-venue feed runner.
type Adapter struct {
	venueID  string
	symbols  []string
	dialer   venue.Dialer
	out      chan<- domain.PriceTick
	onStatus domain.FeedStatusFunc
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	state    domain.FeedState
	attempts int

	malformed atomic.Uint64
	dials     atomic.Uint64

	// resetCh wakes the run loop out of given_up. Buffered so Reset never
	// blocks the operator.
	resetCh chan struct{}
}

// New creates an adapter for one venue. Ticks are sent on out; every state
// transition is reported through onStatus (may be nil).
func New(venueID string, symbols []string, dialer venue.Dialer, out chan<- domain.PriceTick, onStatus domain.FeedStatusFunc, cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		venueID:  venueID,
		symbols:  symbols,
		dialer:   dialer,
		out:      out,
		onStatus: onStatus,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "feed_adapter"), slog.String("venue", venueID)),
		state:    domain.FeedDisconnected,
		resetCh:  make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (a *Adapter) State() domain.FeedState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Attempts returns the consecutive failed reconnect attempts so far.
func (a *Adapter) Attempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// DialCount returns the total number of Connect calls made.
func (a *Adapter) DialCount() uint64 {
	return a.dials.Load()
}

// MalformedCount returns the number of ticks dropped at the boundary.
func (a *Adapter) MalformedCount() uint64 {
	return a.malformed.Load()
}

// Reset clears the reconnect budget of an adapter that has given up and wakes
// its run loop. It is the only way out of the given_up state.
func (a *Adapter) Reset() error {
	a.mu.Lock()
	if a.state != domain.FeedGivenUp {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("feed: adapter %s is %s, not %s", a.venueID, state, domain.FeedGivenUp)
	}
	a.attempts = 0
	a.mu.Unlock()

	select {
	case a.resetCh <- struct{}{}:
	default:
	}
	a.logger.Info("adapter reset by operator")
	return nil
}

// Run drives the connection state machine until ctx is cancelled. It only
// returns the context error; all stream failures are absorbed by the
// reconnect policy.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("adapter started", slog.Any("symbols", a.symbols))
	defer a.logger.Info("adapter stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.transition(domain.FeedConnecting, "")
		a.dials.Add(1)
		dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
		stream, err := a.dialer.Connect(dialCtx, a.venueID, a.symbols)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.transition(domain.FeedFaulted, err.Error())
			if werr := a.fail(ctx, err); werr != nil {
				return werr
			}
			continue
		}

		a.transition(domain.FeedConnected, "")
		streamErr := a.consume(ctx, stream)
		_ = stream.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.transition(domain.FeedFaulted, streamErr.Error())
		if werr := a.fail(ctx, streamErr); werr != nil {
			return werr
		}
	}
}

// consume forwards ticks from an open stream until it fails. Receiving the
// first tick proves the connection survived past data receipt and resets the
// attempt counter. Malformed ticks are dropped and counted, never forwarded.
func (a *Adapter) consume(ctx context.Context, stream venue.Stream) error {
	streaming := false
	for {
		tick, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		if !streaming {
			streaming = true
			a.mu.Lock()
			a.attempts = 0
			a.mu.Unlock()
			a.transition(domain.FeedStreaming, "")
		}

		if err := tick.Validate(); err != nil {
			a.malformed.Add(1)
			a.logger.Debug("malformed tick dropped", slog.String("symbol", tick.Symbol))
			continue
		}

		select {
		case a.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail records one failed connection cycle. It either sleeps out the backoff
// delay or, when the budget is exhausted, parks in given_up until an operator
// reset. The returned error is only non-nil on context cancellation.
func (a *Adapter) fail(ctx context.Context, cause error) error {
	a.mu.Lock()
	a.attempts++
	attempt := a.attempts
	a.mu.Unlock()

	if attempt >= a.cfg.MaxAttempts {
		a.transition(domain.FeedGivenUp, fmt.Sprintf("%d consecutive failures, last: %v", attempt, cause))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.resetCh:
			a.transition(domain.FeedDisconnected, "")
			return nil
		}
	}

	a.transition(domain.FeedDisconnected, "")
	delay := a.backoffDelay(attempt)
	a.logger.Warn("feed disconnected, backing off",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoffDelay computes min(base * 2^(attempt-1), max) for attempt >= 1.
func (a *Adapter) backoffDelay(attempt int) time.Duration {
	delay := a.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= a.cfg.BackoffMax {
			return a.cfg.BackoffMax
		}
	}
	if delay > a.cfg.BackoffMax {
		delay = a.cfg.BackoffMax
	}
	return delay
}

// transition moves the state machine and notifies the status observer.
func (a *Adapter) transition(to domain.FeedState, reason string) {
	a.mu.Lock()
	from := a.state
	a.state = to
	attempt := a.attempts
	a.mu.Unlock()

	if from == to {
		return
	}
	if a.onStatus != nil {
		a.onStatus(domain.FeedStatus{
			Venue:   a.venueID,
			From:    from,
			To:      to,
			Attempt: attempt,
			Reason:  reason,
			At:      time.Now().UTC(),
		})
	}
}
