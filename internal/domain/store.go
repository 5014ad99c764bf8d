package domain

import (
	"context"
	"time"
)

// OrderJournal receives terminal order records as append-only writes. The
// engine hands records off fire-and-forget; durability is the journal's
// concern, and a journal failure never blocks or fails order processing.
type OrderJournal interface {
	// Append writes one terminal order record. Records are never updated.
	Append(ctx context.Context, o Order) error
	// ListBefore returns terminal records closed before the cutoff, oldest
	// first, up to limit.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	// DeleteBefore removes records closed before the cutoff and returns the
	// number deleted. Used by the archiver after a successful upload.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TickCache stores the latest tick per (venue, symbol) for external readers.
type TickCache interface {
	SetTick(ctx context.Context, tick PriceTick) error
	GetTick(ctx context.Context, venue, symbol string) (PriceTick, error)
}

// StreamMessage is a single entry read from a durable signal stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes detected opportunities and other structured events to
// external consumers (the observability sink).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads published on the given
	// channel. The returned channel closes when the context is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter writes an object to blob storage. Used by the journal archiver.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}
