package service

import (
	"context"
	"fmt"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/repo"
	"sort"
	"time"

	"github.com/google/uuid"
)

type CartItem struct {
	OfferID  uuid.UUID
	Quantity int
}

type CheckoutResult struct {
	OrderID         uuid.UUID
	PaymentRedirect string
	Status          domain.OrderStatus
	CreatedAt       time.Time
}

// CheckoutService turns a validated cart into a pending order plus a payment
// redirect. It is the only component allowed to compensate a partially
// reserved checkout.
type CheckoutService struct {
	ledger  repo.OfferLedger
	store   repo.OrderStore
	gateway payment.Gateway
	auditor audit.Recorder
}

func NewCheckoutService(
	ledger repo.OfferLedger,
	store repo.OrderStore,
	gateway payment.Gateway,
	auditor audit.Recorder,
) *CheckoutService {
	return &CheckoutService{
		ledger:  ledger,
		store:   store,
		gateway: gateway,
		auditor: auditor,
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, buyerID uuid.UUID, items []CartItem) (*CheckoutResult, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	// Reservations are taken in ascending offer id so two multi-item
	// checkouts can never hold each other's next offer.
	sorted := make([]CartItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OfferID.String() < sorted[j].OfferID.String()
	})

	// Repeated offer ids collapse into one line; an order holds at most one
	// line per offer.
	merged := sorted[:1]
	for _, item := range sorted[1:] {
		if last := &merged[len(merged)-1]; last.OfferID == item.OfferID {
			last.Quantity += item.Quantity
			continue
		}
		merged = append(merged, item)
	}
	sorted = merged

	lines := make([]domain.OrderLine, 0, len(sorted))
	for _, item := range sorted {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInsufficientStock)
		}
		offer, err := s.ledger.FindOffer(ctx, item.OfferID)
		if err != nil {
			return nil, err
		}
		if offer == nil {
			return nil, domain.ErrOfferNotFound
		}
		if !offer.Available() {
			return nil, domain.ErrOfferNotAvailable
		}
		if offer.Quantity < item.Quantity {
			return nil, domain.ErrInsufficientStock
		}
		lines = append(lines, domain.OrderLine{
			OfferID:         item.OfferID,
			Quantity:        item.Quantity,
			PriceAtPurchase: offer.Price,
		})
	}

	// Provisional reservations. The stock leaves the salable pool now, not
	// at payment time, so nobody can oversell between checkout and callback.
	reserved := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		if err := s.ledger.Reserve(ctx, line.OfferID, line.Quantity); err != nil {
			s.releaseAll(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, line)
	}

	order, txn, err := s.store.CreateOrder(ctx, buyerID, lines)
	if err != nil {
		// Persistence failed after stock was taken: put every unit back
		// before surfacing anything.
		s.releaseAll(ctx, reserved)
		s.auditor.Record(ctx, audit.Event{
			Kind:    audit.KindCheckoutFailed,
			UserID:  &buyerID,
			Message: fmt.Sprintf("order persistence failed, %d reservations released", len(reserved)),
		})
		return nil, fmt.Errorf("%w: %v", domain.ErrOrderCreationFailed, err)
	}

	s.auditor.Record(ctx, audit.Event{
		Kind:    audit.KindCheckout,
		UserID:  &buyerID,
		Message: fmt.Sprintf("order %s created, transaction %s amount %d", order.ID, txn.ID, txn.Amount),
	})

	return &CheckoutResult{
		OrderID:         order.ID,
		PaymentRedirect: s.gateway.PaymentURL(txn.ID, txn.Amount),
		Status:          order.Status,
		CreatedAt:       order.CreatedAt,
	}, nil
}

func (s *CheckoutService) releaseAll(ctx context.Context, lines []domain.OrderLine) {
	for _, line := range lines {
		if err := s.ledger.Release(ctx, line.OfferID, line.Quantity); err != nil {
			s.auditor.Record(ctx, audit.Event{
				Kind:    audit.KindStockReleased,
				Message: fmt.Sprintf("compensating release failed for offer %s qty %d: %v", line.OfferID, line.Quantity, err),
			})
		}
	}
}
