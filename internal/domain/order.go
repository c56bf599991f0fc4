package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderProcessing     OrderStatus = "processing"
	OrderShipped        OrderStatus = "shipped"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
	OrderFailed         OrderStatus = "failed"
)

// Terminal reports whether no further transition is permitted for the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled || s == OrderFailed
}

type Order struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine carries the price as it was at order creation time. Later offer
// price changes never affect an existing order's total.
type OrderLine struct {
	OrderID         uuid.UUID
	OfferID         uuid.UUID
	Quantity        int
	PriceAtPurchase int64
}

// LinesTotal is the amount recorded on the transaction at creation; it is
// never recomputed afterwards.
func LinesTotal(lines []OrderLine) int64 {
	var total int64
	for _, l := range lines {
		total += int64(l.Quantity) * l.PriceAtPurchase
	}
	return total
}
