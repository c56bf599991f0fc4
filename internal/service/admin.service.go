package service

import (
	"context"
	"fmt"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/repo"

	"github.com/google/uuid"
)

// AdminService cancels an order outside the payment flow. Stock committed by
// an already-successful payment is not restocked here; that needs a separate
// seller action.
type AdminService struct {
	ledger  repo.OfferLedger
	store   repo.OrderStore
	auditor audit.Recorder
}

func NewAdminService(ledger repo.OfferLedger, store repo.OrderStore, auditor audit.Recorder) *AdminService {
	return &AdminService{
		ledger:  ledger,
		store:   store,
		auditor: auditor,
	}
}

func (s *AdminService) CancelOrder(ctx context.Context, orderID uuid.UUID, adminID uuid.UUID) (*domain.Order, error) {
	applied, txWasPending, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domain.ErrCannotCancel
	}

	// Only a never-successful payment leaves provisional reservations to
	// give back.
	if txWasPending {
		lines, err := s.store.FindLines(ctx, orderID)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			if err := s.ledger.Release(ctx, line.OfferID, line.Quantity); err != nil {
				s.auditor.Record(ctx, audit.Event{
					Kind:    audit.KindStockReleased,
					Message: fmt.Sprintf("release failed for offer %s qty %d: %v", line.OfferID, line.Quantity, err),
				})
			}
		}
	}

	s.auditor.Record(ctx, audit.Event{
		Kind:    audit.KindAdminCancel,
		UserID:  &adminID,
		Message: fmt.Sprintf("order %s cancelled, stock released=%t", orderID, txWasPending),
	})

	order, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
