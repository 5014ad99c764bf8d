package s3journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memBlobWriter captures uploaded objects.
type memBlobWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (w *memBlobWriter) Put(_ context.Context, key string, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[key] = append([]byte(nil), data...)
	return nil
}

// memJournal is an in-memory domain.OrderJournal.
type memJournal struct {
	orders    []domain.Order
	deleteErr error
	deleted   int
}

func (j *memJournal) Append(_ context.Context, o domain.Order) error {
	j.orders = append(j.orders, o)
	return nil
}

func (j *memJournal) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range j.orders {
		if o.ClosedAt != nil && o.ClosedAt.Before(cutoff) {
			out = append(out, o)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (j *memJournal) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if j.deleteErr != nil {
		return 0, j.deleteErr
	}
	var kept []domain.Order
	var n int64
	for _, o := range j.orders {
		if o.ClosedAt != nil && o.ClosedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	j.orders = kept
	j.deleted = int(n)
	return n, nil
}

func terminalOrder(id int64, closedAt time.Time) domain.Order {
	return domain.Order{
		ID:        id,
		Venue:     "venueA",
		Symbol:    "BTC-USD",
		Side:      domain.OrderSideBuy,
		Price:     decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(1),
		Status:    domain.OrderStatusFilled,
		CreatedAt: closedAt.Add(-time.Minute),
		ClosedAt:  &closedAt,
	}
}

func TestArchiveUploadsAndDeletes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	jr := &memJournal{}
	_ = jr.Append(context.Background(), terminalOrder(1, cutoff.Add(-48*time.Hour)))
	_ = jr.Append(context.Background(), terminalOrder(2, cutoff.Add(-time.Hour)))
	_ = jr.Append(context.Background(), terminalOrder(3, cutoff.Add(time.Hour))) // inside retention

	w := &memBlobWriter{}
	a := NewArchiver(w, jr, testLogger())

	n, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := w.objects["archive/orders/2026-08-01.jsonl"]
	require.True(t, ok, "object key is derived from the cutoff date")

	// One JSON document per line, ids preserved.
	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec struct {
			OrderID int64  `json:"order_id"`
			Status  string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.OrderID)
		assert.Equal(t, "filled", rec.Status)
	}
	assert.Equal(t, []int64{1, 2}, ids)

	// Archived rows are gone, the recent one stays.
	remaining, err := jr.ListBefore(context.Background(), cutoff.Add(72*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(3), remaining[0].ID)
}

func TestArchiveEmptyJournalIsNoOp(t *testing.T) {
	w := &memBlobWriter{}
	a := NewArchiver(w, &memJournal{}, testLogger())

	n, err := a.Archive(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects, "nothing to archive, nothing uploaded")
}

func TestArchiveUploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Now().UTC()
	jr := &memJournal{}
	_ = jr.Append(context.Background(), terminalOrder(1, cutoff.Add(-time.Hour)))

	w := &memBlobWriter{err: errors.New("bucket unavailable")}
	a := NewArchiver(w, jr, testLogger())

	_, err := a.Archive(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, jr.orders, 1, "rows are only deleted after a successful upload")
}

func TestArchiveDeleteFailureStillReportsCount(t *testing.T) {
	cutoff := time.Now().UTC()
	jr := &memJournal{deleteErr: errors.New("connection reset")}
	_ = jr.Append(context.Background(), terminalOrder(1, cutoff.Add(-time.Hour)))

	w := &memBlobWriter{}
	a := NewArchiver(w, jr, testLogger())

	n, err := a.Archive(context.Background(), cutoff)
	require.Error(t, err)
	assert.Equal(t, int64(1), n, "upload succeeded, count reflects archived rows")
	assert.Len(t, w.objects, 1)
}
