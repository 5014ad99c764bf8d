package app

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

	"github.com/quantrell/arbcore/internal/config"
	"github.com/quantrell/arbcore/internal/control"
	"github.com/quantrell/arbcore/internal/domain"
	"github.com/quantrell/arbcore/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures notifications for assertions.
type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingSender) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) received() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

func TestOpportunitySinkNotifiesOperators(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	sender := &recordingSender{}
	deps := &Dependencies{
		Notifier: notify.NewNotifier([]notify.Sender{sender}, nil, testLogger()),
	}

	sink := a.opportunitySink(deps)
	sink(context.Background(), domain.Opportunity{
		ID:         "opp-1",
		Symbol:     "BTC-USD",
		BuyVenue:   "venueA",
		SellVenue:  "venueB",
		BuyPrice:   decimal.NewFromInt(42050),
		SellPrice:  decimal.NewFromInt(42150),
		SpreadPct:  decimal.RequireFromString("0.2378"),
		DetectedAt: time.Now().UTC(),
	})

	got := sender.received()
	require.Len(t, got, 1)
	assert.Equal(t, notify.EventOpportunity, got[0].Event)
	assert.Equal(t, "Opportunity: BTC-USD", got[0].Title)
	assert.Contains(t, got[0].Body, "buy venueA @ 42050")
	assert.Contains(t, got[0].Body, "sell venueB @ 42150")
}

func TestOpportunitySinkFilteredEvent(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	sender := &recordingSender{}
	deps := &Dependencies{
		Notifier: notify.NewNotifier([]notify.Sender{sender},
			[]string{notify.EventRiskAlert}, testLogger()),
	}

	a.opportunitySink(deps)(context.Background(), domain.Opportunity{Symbol: "ETH-USD"})
	assert.Empty(t, sender.received(), "opportunity events outside the allow-list stay quiet")
}

func TestApplyControlDrainAnnounces(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	sender := &recordingSender{}
	// A restrictive filter must not swallow the drain announcement.
	notifier := notify.NewNotifier([]notify.Sender{sender},
		[]string{notify.EventRiskAlert}, testLogger())

	lane := make(chan domain.Command, 2)
	ctrl := control.New(nil, nil,
		map[string]chan<- domain.Command{"venueA": lane}, testLogger())

	err := a.applyControl(context.Background(), ctrl, notifier, controlMessage{Action: "drain"})
	require.NoError(t, err)

	cmd, ok := <-lane
	require.True(t, ok)
	assert.Equal(t, domain.CommandShutdown, cmd.Type)
	_, open := <-lane
	assert.False(t, open)

	got := sender.received()
	require.Len(t, got, 1)
	assert.Equal(t, "Execution drained", got[0].Title)
}
