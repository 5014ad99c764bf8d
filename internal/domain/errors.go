package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrMalformedTick = errors.New("malformed tick")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrUnknownVenue  = errors.New("unknown venue")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrFeedGivenUp   = errors.New("feed gave up after max reconnect attempts")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
