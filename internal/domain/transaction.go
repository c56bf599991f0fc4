package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSuccess   TransactionStatus = "success"
	TransactionFail      TransactionStatus = "fail"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction is the single payment attempt for an order. A retried checkout
// produces a new order with its own transaction, never a reused one.
type Transaction struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    TransactionStatus
	Amount    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParseOutcome validates a provider callback outcome. Anything outside the
// three settled states is rejected; "pending" is not a deliverable outcome.
func ParseOutcome(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case TransactionSuccess, TransactionFail, TransactionCancelled:
		return TransactionStatus(s), nil
	default:
		return "", ErrInvalidStatus
	}
}

// OrderStatusFor maps a settled transaction outcome to the order status that
// must be written in the same atomic unit.
func OrderStatusFor(outcome TransactionStatus) OrderStatus {
	switch outcome {
	case TransactionSuccess:
		return OrderProcessing
	case TransactionFail:
		return OrderFailed
	default:
		return OrderCancelled
	}
}
