package service

import (
	"context"
	"fmt"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/repo"

	"github.com/google/uuid"
)

// CallbackService reconciles FastPay's asynchronous payment notification
// into the final order state. The provider delivers at least once and in any
// order; only the first delivery for a transaction has effect.
type CallbackService struct {
	ledger  repo.OfferLedger
	store   repo.OrderStore
	auditor audit.Recorder
}

func NewCallbackService(ledger repo.OfferLedger, store repo.OrderStore, auditor audit.Recorder) *CallbackService {
	return &CallbackService{
		ledger:  ledger,
		store:   store,
		auditor: auditor,
	}
}

// HandleCallback applies the provider outcome for a transaction and returns
// the resulting order status. Duplicate deliveries return the recorded
// status without touching inventory again.
func (s *CallbackService) HandleCallback(ctx context.Context, transactionID uuid.UUID, rawOutcome string) (domain.OrderStatus, error) {
	outcome, err := domain.ParseOutcome(rawOutcome)
	if err != nil {
		return "", err
	}

	txn, err := s.store.FindTransaction(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if txn == nil {
		return "", domain.ErrTransactionNotFound
	}

	applied, orderID, err := s.store.Finalize(ctx, transactionID, outcome)
	if err != nil {
		return "", err
	}
	if !applied {
		// Duplicate or out-of-order delivery: report what the first one did.
		order, err := s.store.FindOrder(ctx, txn.OrderID)
		if err != nil {
			return "", err
		}
		if order == nil {
			return "", domain.ErrOrderNotFound
		}
		return order.Status, nil
	}

	lines, err := s.store.FindLines(ctx, orderID)
	if err != nil {
		return "", err
	}

	// The guarded transition above committed, so this block runs exactly
	// once per transaction regardless of delivery count.
	switch outcome {
	case domain.TransactionSuccess:
		for _, line := range lines {
			if err := s.ledger.CommitSale(ctx, line.OfferID, line.Quantity); err != nil {
				s.auditor.Record(ctx, audit.Event{
					Kind:    audit.KindStockCommitted,
					Message: fmt.Sprintf("commit failed for offer %s: %v", line.OfferID, err),
				})
			}
		}
	default:
		for _, line := range lines {
			if err := s.ledger.Release(ctx, line.OfferID, line.Quantity); err != nil {
				s.auditor.Record(ctx, audit.Event{
					Kind:    audit.KindStockReleased,
					Message: fmt.Sprintf("release failed for offer %s qty %d: %v", line.OfferID, line.Quantity, err),
				})
			}
		}
	}

	status := domain.OrderStatusFor(outcome)
	s.auditor.Record(ctx, audit.Event{
		Kind:    audit.KindPaymentCallback,
		Message: fmt.Sprintf("transaction %s settled %s, order %s now %s", transactionID, outcome, orderID, status),
	})
	return status, nil
}
