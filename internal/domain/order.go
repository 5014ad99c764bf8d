package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle. Pending is the only non-terminal
// status; once an order reaches a terminal status it is never mutated again.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderRequest is what callers (detector, operator) submit to the execution
// engine. The engine assigns the id and owns the resulting Order.
type OrderRequest struct {
	Venue         string
	Symbol        string
	Side          OrderSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	OpportunityID string // empty for operator-placed orders
}

// Order is an order with identity. The execution engine is the sole writer of
// order state; other components observe orders through OrderUpdate events or
// journal records.
type Order struct {
	ID            int64
	Venue         string
	Symbol        string
	Side          OrderSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Status        OrderStatus
	OpportunityID string
	VenueOrderID  string // id assigned by the venue, empty until confirmed
	Reason        string // rejection or cancellation detail
	CreatedAt     time.Time
	ClosedAt      *time.Time // set when the order reaches a terminal status
}

// Terminal reports whether the order has reached a terminal status.
func (o Order) Terminal() bool {
	return o.Status.Terminal()
}

// OrderUpdate notifies downstream consumers of an order state change.
type OrderUpdate struct {
	Order Order
	At    time.Time
}
