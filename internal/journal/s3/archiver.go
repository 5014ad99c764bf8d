package s3journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantrell/arbcore/internal/domain"
)

// archiveBatch caps how many records one archive pass reads from the journal.
const archiveBatch = 10000

// Archiver moves terminal order records older than the retention window out
// of the journal into object storage. Records are only deleted after the
// upload succeeded.
type Archiver struct {
	writer  domain.BlobWriter
	journal domain.OrderJournal
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, journal domain.OrderJournal, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		journal: journal,
		logger:  logger.With(slog.String("component", "journal_archiver")),
	}
}

// archivedOrder is the JSONL record layout written to object storage.
type archivedOrder struct {
	OrderID       int64      `json:"order_id"`
	Venue         string     `json:"venue"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Price         string     `json:"price"`
	Quantity      string     `json:"quantity"`
	Status        string     `json:"status"`
	OpportunityID string     `json:"opportunity_id,omitempty"`
	VenueOrderID  string     `json:"venue_order_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Archive uploads all journal records closed before the cutoff as one JSONL
// object at archive/orders/YYYY-MM-DD.jsonl, then deletes them from the
// journal. It returns the number of records archived.
func (a *Archiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.journal.ListBefore(ctx, before, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3journal: archive query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, o := range orders {
		rec := archivedOrder{
			OrderID:       o.ID,
			Venue:         o.Venue,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Price:         o.Price.String(),
			Quantity:      o.Quantity.String(),
			Status:        string(o.Status),
			OpportunityID: o.OpportunityID,
			VenueOrderID:  o.VenueOrderID,
			Reason:        o.Reason,
			CreatedAt:     o.CreatedAt,
			ClosedAt:      o.ClosedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3journal: archive marshal order %d: %w", o.ID, err)
		}
	}

	key := fmt.Sprintf("archive/orders/%s.jsonl", before.UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("s3journal: archive upload: %w", err)
	}

	deleted, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded; the rows will be re-archived (idempotent
		// object key) on the next pass.
		return int64(len(orders)), fmt.Errorf("s3journal: archive delete: %w", err)
	}

	a.logger.Info("journal records archived",
		slog.String("key", key),
		slog.Int("archived", len(orders)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(orders)), nil
}
