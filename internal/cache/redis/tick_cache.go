package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantrell/arbcore/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes. The latest tick
// for each key is stored at "tick:{venue}:{symbol}" with bid/ask/size fields
// and a Unix-nanosecond timestamp, optionally expiring after a TTL.
type TickCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickCache creates a TickCache backed by the given Client. A zero ttl
// disables expiry.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{rdb: c.DB(), ttl: ttl}
}

func tickKey(venue, symbol string) string {
	return "tick:" + venue + ":" + symbol
}

// SetTick stores the latest tick for its (venue, symbol) key.
func (tc *TickCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	key := tickKey(tick.Venue, tick.Symbol)
	fields := map[string]interface{}{
		"bid":      tick.Bid.String(),
		"ask":      tick.Ask.String(),
		"bid_size": tick.BidSize.String(),
		"ask_size": tick.AskSize.String(),
		"ts":       strconv.FormatInt(tick.Timestamp.UnixNano(), 10),
	}
	pipe := tc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if tc.ttl > 0 {
		pipe.Expire(ctx, key, tc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", key, err)
	}
	return nil
}

// GetTick retrieves the latest cached tick for a (venue, symbol) key. It
// returns domain.ErrNotFound when the key does not exist or has expired.
func (tc *TickCache) GetTick(ctx context.Context, venue, symbol string) (domain.PriceTick, error) {
	key := tickKey(venue, symbol)
	vals, err := tc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceTick{}, domain.ErrNotFound
	}

	tick := domain.PriceTick{Venue: venue, Symbol: symbol}
	if tick.Bid, err = decimal.NewFromString(vals["bid"]); err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse bid %s: %w", key, err)
	}
	if tick.Ask, err = decimal.NewFromString(vals["ask"]); err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse ask %s: %w", key, err)
	}
	tick.BidSize, _ = decimal.NewFromString(vals["bid_size"])
	tick.AskSize, _ = decimal.NewFromString(vals["ask_size"])

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	tick.Timestamp = time.Unix(0, tsNano)

	return tick, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
