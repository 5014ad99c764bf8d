package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/venue"
)

var errStreamDown = errors.New("stream down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tick(venueID, symbol string, bid, ask float64) domain.PriceTick {
	return domain.PriceTick{
		Venue:     venueID,
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(bid),
		Ask:       decimal.NewFromFloat(ask),
		BidSize:   decimal.NewFromInt(1),
		AskSize:   decimal.NewFromInt(1),
		Timestamp: time.Now().UTC(),
	}
}

// scriptedStream yields its ticks in order, then fails with err (or blocks on
// the context when err is nil).
type scriptedStream struct {
	ticks []domain.PriceTick
	idx   int
	err   error
}

func (s *scriptedStream) Next(ctx context.Context) (domain.PriceTick, error) {
	if s.idx < len(s.ticks) {
		t := s.ticks[s.idx]
		s.idx++
		return t, nil
	}
	if s.err != nil {
		return domain.PriceTick{}, s.err
	}
	<-ctx.Done()
	return domain.PriceTick{}, ctx.Err()
}

func (s *scriptedStream) Close() error { return nil }

// scriptedDialer returns its streams in call order; a nil entry (and any call
// past the end of the script) is a dial failure.
type scriptedDialer struct {
	mu      sync.Mutex
	streams []venue.Stream
	calls   int
}

func (d *scriptedDialer) Connect(_ context.Context, _ string, _ []string) (venue.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.streams) && d.streams[i] != nil {
		return d.streams[i], nil
	}
	return nil, errors.New("dial refused")
}

func fastConfig(maxAttempts int) Config {
	return Config{
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		MaxAttempts: maxAttempts,
		DialTimeout: time.Second,
	}
}

func TestForwardsTicksAndDropsMalformed(t *testing.T) {
	out := make(chan domain.PriceTick, 8)
	dialer := &scriptedDialer{streams: []venue.Stream{
		&scriptedStream{
			ticks: []domain.PriceTick{
				tick("venueA", "BTC-USD", 100, 101),
				tick("venueA", "BTC-USD", 300, 200), // bid > ask, dropped
				tick("venueA", "BTC-USD", 102, 103),
			},
			err: errStreamDown,
		},
	}}

	a := New("venueA", []string{"BTC-USD"}, dialer, out, nil, fastConfig(1), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	var got []domain.PriceTick
	for len(got) < 2 {
		select {
		case tk := <-out:
			got = append(got, tk)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for forwarded ticks")
		}
	}
	cancel()
	<-done

	assert.True(t, got[0].Bid.Equal(decimal.NewFromInt(100)))
	assert.True(t, got[1].Bid.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, uint64(1), a.MalformedCount())
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	a := New("venueA", nil, &scriptedDialer{}, nil, nil, Config{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  time.Second,
		MaxAttempts: 10,
		DialTimeout: time.Second,
	}, testLogger())

	assert.Equal(t, 100*time.Millisecond, a.backoffDelay(1))
	assert.Equal(t, 200*time.Millisecond, a.backoffDelay(2))
	assert.Equal(t, 400*time.Millisecond, a.backoffDelay(3))
	assert.Equal(t, 800*time.Millisecond, a.backoffDelay(4))
	assert.Equal(t, time.Second, a.backoffDelay(5))
	assert.Equal(t, time.Second, a.backoffDelay(12))
}

func TestGivesUpAfterBudgetAndNeverRedials(t *testing.T) {
	dialer := &scriptedDialer{} // every dial fails
	a := New("venueA", []string{"BTC-USD"}, dialer, nil, nil, fastConfig(3), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return a.State() == domain.FeedGivenUp
	}, time.Second, time.Millisecond)

	assert.Equal(t, uint64(3), a.DialCount())
	assert.Equal(t, 3, a.Attempts())

	// Parked: no further dials without an operator reset.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(3), a.DialCount())
	assert.Equal(t, domain.FeedGivenUp, a.State())

	cancel()
	<-done
}

func TestResetRestartsDialing(t *testing.T) {
	dialer := &scriptedDialer{}
	a := New("venueA", []string{"BTC-USD"}, dialer, nil, nil, fastConfig(2), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return a.State() == domain.FeedGivenUp
	}, time.Second, time.Millisecond)
	dialsAtGiveUp := a.DialCount()

	require.NoError(t, a.Reset())
	require.Eventually(t, func() bool {
		return a.DialCount() > dialsAtGiveUp
	}, time.Second, time.Millisecond, "reset must re-arm dialing")

	cancel()
	<-done
}

func TestResetRejectedOutsideGivenUp(t *testing.T) {
	a := New("venueA", nil, &scriptedDialer{}, nil, nil, fastConfig(3), testLogger())
	require.Equal(t, domain.FeedDisconnected, a.State())
	assert.Error(t, a.Reset())
}

func TestAttemptsResetAfterFirstTick(t *testing.T) {
	// First dial fails; second connects and streams one tick before failing.
	dialer := &scriptedDialer{streams: []venue.Stream{
		nil,
		&scriptedStream{
			ticks: []domain.PriceTick{tick("venueA", "BTC-USD", 100, 101)},
		},
	}}
	out := make(chan domain.PriceTick, 1)
	a := New("venueA", []string{"BTC-USD"}, dialer, out, nil, fastConfig(10), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
	require.Eventually(t, func() bool {
		return a.State() == domain.FeedStreaming
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, a.Attempts(), "surviving past first data receipt resets the budget")

	cancel()
	<-done
}

func TestStatusCallbackReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.FeedStatus
	onStatus := func(st domain.FeedStatus) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}

	dialer := &scriptedDialer{}
	a := New("venueA", []string{"BTC-USD"}, dialer, nil, onStatus, fastConfig(2), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return a.State() == domain.FeedGivenUp
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)

	states := make(map[domain.FeedState]bool)
	for _, st := range seen {
		assert.Equal(t, "venueA", st.Venue)
		assert.NotEqual(t, st.From, st.To, "self-transitions are not reported")
		states[st.To] = true
	}
	assert.True(t, states[domain.FeedConnecting])
	assert.True(t, states[domain.FeedFaulted])
	assert.True(t, states[domain.FeedGivenUp])

	last := seen[len(seen)-1]
	assert.Equal(t, domain.FeedGivenUp, last.To)
	assert.Equal(t, 2, last.Attempt)
	assert.NotEmpty(t, last.Reason)
}
