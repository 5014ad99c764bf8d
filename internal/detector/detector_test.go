package detector

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrell/arbcore/internal/book"
	"github.com/quantrell/arbcore/internal/domain"
)

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

// commandRecorder collects submitted commands in arrival order.
type commandRecorder struct {
	mu   sync.Mutex
	cmds []domain.Command
}

func (r *commandRecorder) submit(_ context.Context, cmd domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *commandRecorder) commands() []domain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Command(nil), r.cmds...)
}

func TestScanEmitsSingleOpportunity(t *testing.T) {
	agg := book.New(testLogger())
	require.NoError(t, agg.Ingest(tick("venueA", "BTC-USD", 41950, 42050)))
	require.NoError(t, agg.Ingest(tick("venueB", "BTC-USD", 42150, 42300)))

	det := New(agg, nil, nil,
		decimal.RequireFromString("0.1"), decimal.NewFromInt(1), testLogger())

	opps := det.Scan("BTC-USD")
	require.Len(t, opps, 1, "only buy-on-A sell-on-B clears the threshold")

	opp := opps[0]
	assert.Equal(t, "venueA", opp.BuyVenue)
	assert.Equal(t, "venueB", opp.SellVenue)
	assert.True(t, opp.BuyPrice.Equal(decimal.NewFromInt(42050)))
	assert.True(t, opp.SellPrice.Equal(decimal.NewFromInt(42150)))

	// (42150 - 42050) / 42050 * 100 ~= 0.2378%
	expected := decimal.RequireFromString("0.2378")
	assert.True(t, opp.SpreadPct.Sub(expected).Abs().LessThan(decimal.RequireFromString("0.0001")),
		"spread %s, want ~%s", opp.SpreadPct, expected)
}

func TestScanThresholdIsStrictlyGreater(t *testing.T) {
	agg := book.New(testLogger())
	// (100.1 - 100) / 100 * 100 = exactly 0.1%.
	require.NoError(t, agg.Ingest(tick("venueA", "BTC-USD", 99, 100)))
	require.NoError(t, agg.Ingest(tick("venueB", "BTC-USD", 100.1, 101)))

	det := New(agg, nil, nil,
		decimal.RequireFromString("0.1"), decimal.NewFromInt(1), testLogger())
	assert.Empty(t, det.Scan("BTC-USD"), "spread equal to threshold must not emit")

	det.SetMinSpread(decimal.RequireFromString("0.09"))
	assert.Len(t, det.Scan("BTC-USD"), 1, "spread above threshold emits")
}

func TestScanDeterministicOrdering(t *testing.T) {
	agg := book.New(testLogger())
	// Three venues priced so several pairs clear a zero threshold.
	require.NoError(t, agg.Ingest(tick("alpha", "ETH-USD", 101, 102)))
	require.NoError(t, agg.Ingest(tick("beta", "ETH-USD", 104, 105)))
	require.NoError(t, agg.Ingest(tick("gamma", "ETH-USD", 107, 108)))

	det := New(agg, nil, nil, decimal.Zero, decimal.NewFromInt(1), testLogger())

	type pair struct{ buy, sell, spread string }
	scan := func() []pair {
		var out []pair
		for _, o := range det.Scan("ETH-USD") {
			out = append(out, pair{o.BuyVenue, o.SellVenue, o.SpreadPct.String()})
		}
		return out
	}

	first := scan()
	require.Len(t, first, 3)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scan(), "identical snapshots must scan identically")
	}

	// Lexicographic (buy, sell) visit order over sorted venues.
	want := []pair{
		{"alpha", "beta", first[0].spread},
		{"alpha", "gamma", first[1].spread},
		{"beta", "gamma", first[2].spread},
	}
	assert.Equal(t, want, first)
}

func TestScanSkipsSameVenueAndSingleQuote(t *testing.T) {
	agg := book.New(testLogger())
	require.NoError(t, agg.Ingest(tick("venueA", "BTC-USD", 41950, 42050)))

	det := New(agg, nil, nil, decimal.Zero, decimal.NewFromInt(1), testLogger())
	assert.Nil(t, det.Scan("BTC-USD"), "one venue can never arbitrage against itself")
	assert.Nil(t, det.Scan("ETH-USD"), "unknown symbol scans empty")
}

func TestHandleDerivesPairedLegs(t *testing.T) {
	agg := book.New(testLogger())
	require.NoError(t, agg.Ingest(tick("venueA", "BTC-USD", 41950, 42050)))
	require.NoError(t, agg.Ingest(tick("venueB", "BTC-USD", 42150, 42300)))

	rec := &commandRecorder{}
	var opps []domain.Opportunity
	onOpp := func(_ context.Context, o domain.Opportunity) { opps = append(opps, o) }

	qty := decimal.RequireFromString("0.5")
	det := New(agg, rec.submit, onOpp, decimal.RequireFromString("0.1"), qty, testLogger())

	det.handle(context.Background(), tick("venueB", "BTC-USD", 42150, 42300))

	require.Len(t, opps, 1)
	require.NotEmpty(t, opps[0].ID, "emitted opportunity carries an id")

	cmds := rec.commands()
	require.Len(t, cmds, 2, "one opportunity derives exactly two legs")

	buy := cmds[0].Place
	sell := cmds[1].Place
	require.NotNil(t, buy)
	require.NotNil(t, sell)

	assert.Equal(t, domain.CommandPlace, cmds[0].Type)
	assert.Equal(t, domain.OrderSideBuy, buy.Side)
	assert.Equal(t, "venueA", buy.Venue)
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(42050)))
	assert.True(t, buy.Quantity.Equal(qty))

	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.Equal(t, "venueB", sell.Venue)
	assert.True(t, sell.Price.Equal(decimal.NewFromInt(42150)))
	assert.True(t, sell.Quantity.Equal(qty))

	assert.Equal(t, opps[0].ID, buy.OpportunityID)
	assert.Equal(t, opps[0].ID, sell.OpportunityID, "both legs share the opportunity id")
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	agg := book.New(testLogger())
	det := New(agg, nil, nil, decimal.Zero, decimal.NewFromInt(1), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- det.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("detector did not stop on cancellation")
	}
}

func TestStopEndsRunCleanly(t *testing.T) {
	agg := book.New(testLogger())
	rec := &commandRecorder{}
	det := New(agg, rec.submit, nil, decimal.Zero, decimal.NewFromInt(1), testLogger())

	done := make(chan error, 1)
	go func() { done <- det.Run(context.Background()) }()

	// Stop blocks until the run loop has exited, so by the time it returns
	// no submission can be in flight.
	det.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("detector did not stop")
	}

	require.NoError(t, agg.Ingest(tick("venueA", "BTC-USD", 99, 100)))
	require.NoError(t, agg.Ingest(tick("venueB", "BTC-USD", 110, 111)))
	assert.Empty(t, rec.commands(), "no commands after stop")

	det.Stop() // second stop is a no-op
}

func TestStopBeforeRun(t *testing.T) {
	agg := book.New(testLogger())
	det := New(agg, nil, nil, decimal.Zero, decimal.NewFromInt(1), testLogger())

	det.Stop()
	assert.NoError(t, det.Run(context.Background()), "a pre-stopped detector returns immediately")
}

func TestRuntimeTuning(t *testing.T) {
	agg := book.New(testLogger())
	det := New(agg, nil, nil, decimal.RequireFromString("0.1"), decimal.NewFromInt(1), testLogger())

	det.SetMinSpread(decimal.RequireFromString("0.5"))
	assert.True(t, det.MinSpread().Equal(decimal.RequireFromString("0.5")))

	det.SetQuantity(decimal.RequireFromString("2.5"))
	assert.True(t, det.Quantity().Equal(decimal.RequireFromString("2.5")))
}
