package domain

import "time"

// FeedState is one state of a venue feed adapter's connection machine.
type FeedState string

const (
	FeedDisconnected FeedState = "disconnected"
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedStreaming    FeedState = "streaming"
	FeedFaulted      FeedState = "faulted"
	// FeedGivenUp is terminal: the adapter has exhausted its reconnect budget
	// and will not dial again until an operator reset.
	FeedGivenUp FeedState = "given_up"
)

// FeedStatus describes one state transition of a venue feed adapter.
type FeedStatus struct {
	Venue   string
	From    FeedState
	To      FeedState
	Attempt int    // consecutive failed reconnect attempts so far
	Reason  string // error text for Faulted/GivenUp transitions
	At      time.Time
}

// FeedStatusFunc observes adapter state transitions. Implementations must not
// block; they are invoked from the adapter's run loop.
type FeedStatusFunc func(FeedStatus)
