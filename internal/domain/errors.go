package domain

import "errors"

var (
	// checkout validation / availability
	ErrEmptyCart         = errors.New("checkout: cart is empty")
	ErrOfferNotFound     = errors.New("offer: not found")
	ErrOfferNotAvailable = errors.New("offer: not available")
	ErrInsufficientStock = errors.New("offer: insufficient stock")

	// persistence outcome surfaced by the orchestrator after compensation
	ErrOrderCreationFailed = errors.New("order: creation failed")

	// callback reconciliation
	ErrTransactionNotFound = errors.New("transaction: not found")
	ErrInvalidStatus       = errors.New("transaction: invalid status")

	// admin override
	ErrOrderNotFound = errors.New("order: not found")
	ErrCannotCancel  = errors.New("order: cannot cancel")
)
