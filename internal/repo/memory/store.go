// Package memory holds a mutex-guarded implementation of the ledger and
// order store interfaces. It backs the unit tests and the local simulator;
// the conditional-update semantics mirror the SQL implementations exactly.
package memory

import (
	"context"
	"market-engine/internal/domain"
	"market-engine/internal/repo"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	mu           sync.RWMutex
	offers       map[uuid.UUID]*domain.Offer
	orders       map[uuid.UUID]*domain.Order
	lines        map[uuid.UUID][]domain.OrderLine
	transactions map[uuid.UUID]*domain.Transaction
	txByOrder    map[uuid.UUID]uuid.UUID
}

var (
	_ repo.OfferLedger = (*Store)(nil)
	_ repo.OrderStore  = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		offers:       make(map[uuid.UUID]*domain.Offer),
		orders:       make(map[uuid.UUID]*domain.Order),
		lines:        make(map[uuid.UUID][]domain.OrderLine),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		txByOrder:    make(map[uuid.UUID]uuid.UUID),
	}
}

// AddOffer seeds an offer; listing CRUD lives outside the engine.
func (s *Store) AddOffer(offer *domain.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offer.ID] = cloneOffer(offer)
}

func (s *Store) FindOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[id]
	if !ok {
		return nil, nil
	}
	return cloneOffer(offer), nil
}

func (s *Store) Reserve(ctx context.Context, offerID uuid.UUID, quantity int) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return domain.ErrOfferNotFound
	}
	if !offer.Available() {
		return domain.ErrOfferNotAvailable
	}
	if offer.Quantity < quantity {
		return domain.ErrInsufficientStock
	}
	offer.Quantity -= quantity
	offer.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CommitSale(ctx context.Context, offerID uuid.UUID, quantity int) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return domain.ErrOfferNotFound
	}
	if offer.Status == domain.OfferActive && offer.Quantity == 0 {
		offer.Status = domain.OfferSold
		offer.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) Release(ctx context.Context, offerID uuid.UUID, quantity int) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[offerID]
	if !ok {
		return domain.ErrOfferNotFound
	}
	offer.Quantity += quantity
	offer.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, buyerID uuid.UUID, lines []domain.OrderLine) (*domain.Order, *domain.Transaction, error) {
	_ = ctx

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		Status:    domain.OrderPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	txn := &domain.Transaction{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Status:    domain.TransactionPending,
		Amount:    domain.LinesTotal(lines),
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored := make([]domain.OrderLine, len(lines))
	for i, line := range lines {
		line.OrderID = order.ID
		stored[i] = line
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	s.lines[order.ID] = stored
	s.transactions[txn.ID] = cloneTransaction(txn)
	s.txByOrder[order.ID] = txn.ID
	return order, txn, nil
}

func (s *Store) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (s *Store) FindLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.OrderLine, len(s.lines[orderID]))
	copy(lines, s.lines[orderID])
	return lines, nil
}

func (s *Store) FindTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(txn), nil
}

func (s *Store) FindTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	txID, ok := s.txByOrder[orderID]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(s.transactions[txID]), nil
}

func (s *Store) Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) (bool, uuid.UUID, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.transactions[transactionID]
	if !ok {
		return false, uuid.Nil, domain.ErrTransactionNotFound
	}
	if txn.Status != domain.TransactionPending {
		return false, uuid.Nil, nil // already reconciled
	}

	now := time.Now().UTC()
	txn.Status = outcome
	txn.UpdatedAt = now

	order := s.orders[txn.OrderID]
	if order != nil && order.Status == domain.OrderPendingPayment {
		order.Status = domain.OrderStatusFor(outcome)
		order.UpdatedAt = now
	}
	return true, txn.OrderID, nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID) (bool, bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return false, false, domain.ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return false, false, nil
	}

	now := time.Now().UTC()
	order.Status = domain.OrderCancelled
	order.UpdatedAt = now

	txWasPending := false
	if txID, ok := s.txByOrder[orderID]; ok {
		txn := s.transactions[txID]
		if txn.Status == domain.TransactionPending {
			txn.Status = domain.TransactionCancelled
			txn.UpdatedAt = now
			txWasPending = true
		}
	}
	return true, txWasPending, nil
}

func (s *Store) FindStalePendingPayment(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	_ = ctx

	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []domain.Order
	for _, order := range s.orders {
		if order.Status == domain.OrderPendingPayment && order.UpdatedAt.Before(cutoff) {
			orders = append(orders, *cloneOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].UpdatedAt.Before(orders[j].UpdatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func cloneOffer(o *domain.Offer) *domain.Offer {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

func cloneOrder(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
