package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// WSDialer dials venue WebSocket endpoints that speak the normalized tick
// protocol: one JSON frame per tick. Endpoint URLs are keyed by venue id.
type WSDialer struct {
	endpoints map[string]string
}

// NewWSDialer creates a dialer for the given venue id -> ws URL mapping.
func NewWSDialer(endpoints map[string]string) *WSDialer {
	return &WSDialer{endpoints: endpoints}
}

// Connect dials the venue's endpoint, sends the subscription frame for the
// requested symbols, and returns the live stream.
func (d *WSDialer) Connect(ctx context.Context, venueID string, symbols []string) (Stream, error) {
	url, ok := d.endpoints[venueID]
	if !ok {
		return nil, fmt.Errorf("venue/ws: %w: %s", domain.ErrUnknownVenue, venueID)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("venue/ws: connect %s: %w", venueID, err)
	}

	s := &wsStream{venue: venueID, conn: conn, ticks: make(chan domain.PriceTick, 64), done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := wsSubscribe{Type: "subscribe", Channel: "ticks", Symbols: symbols}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("venue/ws: subscribe %s: %w", venueID, err)
	}

	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// wsSubscribe is the subscription frame sent after connecting.
type wsSubscribe struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// wsTick is the normalized tick frame venues deliver.
type wsTick struct {
	Symbol  string `json:"symbol"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	BidSize string `json:"bid_size"`
	AskSize string `json:"ask_size"`
	TsMs    int64  `json:"ts"`
}

type wsStream struct {
	venue string
	conn  *websocket.Conn
	ticks chan domain.PriceTick

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	readErr error
}

// Next returns the next tick from the connection. It returns the underlying
// read error once the connection is lost.
func (s *wsStream) Next(ctx context.Context) (domain.PriceTick, error) {
	select {
	case <-ctx.Done():
		return domain.PriceTick{}, ctx.Err()
	case tick, ok := <-s.ticks:
		if !ok {
			s.mu.Lock()
			err := s.readErr
			s.mu.Unlock()
			if err == nil {
				err = domain.ErrWSDisconnect
			}
			return domain.PriceTick{}, err
		}
		return tick, nil
	}
}

// Close shuts the connection down. Safe to call more than once.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = s.conn.Close()
	})
	return nil
}

// readLoop reads frames until the connection fails and converts them to
// domain ticks. Unparseable frames are dropped silently.
func (s *wsStream) readLoop() {
	defer close(s.ticks)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		var msg wsTick
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		tick, err := s.toDomain(msg)
		if err != nil {
			continue
		}

		select {
		case s.ticks <- tick:
		case <-s.done:
			return
		}
	}
}

// pingLoop keeps the connection alive until the stream is closed.
func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) toDomain(msg wsTick) (domain.PriceTick, error) {
	bid, err := decimal.NewFromString(msg.Bid)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("venue/ws: bid: %w", err)
	}
	ask, err := decimal.NewFromString(msg.Ask)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("venue/ws: ask: %w", err)
	}
	bidSize, err := decimal.NewFromString(msg.BidSize)
	if err != nil {
		bidSize = decimal.Zero
	}
	askSize, err := decimal.NewFromString(msg.AskSize)
	if err != nil {
		askSize = decimal.Zero
	}
	ts := time.UnixMilli(msg.TsMs)
	if msg.TsMs == 0 {
		ts = time.Now().UTC()
	}
	return domain.PriceTick{
		Venue:     s.venue,
		Symbol:    msg.Symbol,
		Bid:       bid,
		Ask:       ask,
		BidSize:   bidSize,
		AskSize:   askSize,
		Timestamp: ts,
	}, nil
}

var _ Dialer = (*WSDialer)(nil)
