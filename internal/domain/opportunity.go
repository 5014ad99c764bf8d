package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a detected cross-venue pricing discrepancy: buy at BuyPrice
// on BuyVenue, sell at SellPrice on SellVenue. Opportunities are ephemeral
// values recomputed on every detection pass; they are never cached between
// scans.
type Opportunity struct {
	ID         string
	Symbol     string
	BuyVenue   string
	SellVenue  string
	BuyPrice   decimal.Decimal // ask on the buy venue
	SellPrice  decimal.Decimal // bid on the sell venue
	SpreadPct  decimal.Decimal
	DetectedAt time.Time
}
