package service

import (
	"context"
	"errors"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/repo/memory"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCheckoutFixture() (*memory.Store, *payment.FastPayGateway, *CheckoutService) {
	store := memory.NewStore()
	gateway := payment.NewFastPayGateway("https://pay.test")
	auditor := audit.New(zap.NewNop(), nil, nil)
	return store, gateway, NewCheckoutService(store, store, gateway, auditor)
}

func addOffer(store *memory.Store, price int64, quantity int, status domain.OfferStatus) *domain.Offer {
	offer := &domain.Offer{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Price:    price,
		Quantity: quantity,
		Status:   status,
	}
	store.AddOffer(offer)
	return offer
}

func TestCheckoutValidation(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	active := addOffer(store, 1000, 5, domain.OfferActive)
	inactive := addOffer(store, 1000, 5, domain.OfferModerated)

	tests := []struct {
		name    string
		items   []CartItem
		wantErr error
	}{
		{"empty cart", nil, domain.ErrEmptyCart},
		{"unknown offer", []CartItem{{OfferID: uuid.New(), Quantity: 1}}, domain.ErrOfferNotFound},
		{"moderated offer", []CartItem{{OfferID: inactive.ID, Quantity: 1}}, domain.ErrOfferNotAvailable},
		{"too much", []CartItem{{OfferID: active.ID, Quantity: 6}}, domain.ErrInsufficientStock},
		{"zero quantity", []CartItem{{OfferID: active.ID, Quantity: 0}}, domain.ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Checkout(ctx, uuid.New(), tt.items)
			assert.ErrorIs(t, err, tt.wantErr)

			// validation and availability failures take no reservation
			fresh, _ := store.FindOffer(ctx, active.ID)
			assert.Equal(t, 5, fresh.Quantity)
		})
	}
}

func TestCheckoutSuccess(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	offerA := addOffer(store, 1000, 5, domain.OfferActive)
	offerB := addOffer(store, 250, 2, domain.OfferActive)
	buyerID := uuid.New()

	result, err := svc.Checkout(ctx, buyerID, []CartItem{
		{OfferID: offerA.ID, Quantity: 2},
		{OfferID: offerB.ID, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, result.Status)
	assert.True(t, strings.HasPrefix(result.PaymentRedirect, "https://pay.test/pay?txn="))
	assert.Contains(t, result.PaymentRedirect, "amount=2250")

	freshA, _ := store.FindOffer(ctx, offerA.ID)
	freshB, _ := store.FindOffer(ctx, offerB.ID)
	assert.Equal(t, 3, freshA.Quantity, "reservation decrements at checkout time")
	assert.Equal(t, 1, freshB.Quantity)

	order, _ := store.FindOrder(ctx, result.OrderID)
	require.NotNil(t, order)
	assert.Equal(t, buyerID, order.BuyerID)

	txn, _ := store.FindTransactionByOrder(ctx, result.OrderID)
	require.NotNil(t, txn)
	assert.Equal(t, domain.TransactionPending, txn.Status)
	assert.Equal(t, int64(2250), txn.Amount)

	lines, _ := store.FindLines(ctx, result.OrderID)
	require.Len(t, lines, 2)
	for _, line := range lines {
		if line.OfferID == offerA.ID {
			assert.Equal(t, int64(1000), line.PriceAtPurchase)
		}
	}
}

func TestCheckoutPriceSnapshotIsImmutable(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	offer := addOffer(store, 1000, 5, domain.OfferActive)

	result, err := svc.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 1}})
	require.NoError(t, err)

	// price change after checkout must not affect the recorded line
	changed := *offer
	changed.Price = 9999
	changed.Quantity = 4
	store.AddOffer(&changed)

	lines, _ := store.FindLines(ctx, result.OrderID)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(1000), lines[0].PriceAtPurchase)
}

func TestCheckoutMergesDuplicateCartLines(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	offer := addOffer(store, 100, 5, domain.OfferActive)

	result, err := svc.Checkout(ctx, uuid.New(), []CartItem{
		{OfferID: offer.ID, Quantity: 1},
		{OfferID: offer.ID, Quantity: 2},
	})
	require.NoError(t, err)

	lines, _ := store.FindLines(ctx, result.OrderID)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)

	fresh, _ := store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 2, fresh.Quantity)
}

func TestCheckoutPartialReservationIsCompensated(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	// both active at validation time, but offerB's stock vanishes between
	// validation and its reservation because offerA sorts first
	offerA := addOffer(store, 100, 5, domain.OfferActive)
	offerB := addOffer(store, 100, 1, domain.OfferActive)

	// another buyer grabs offerB's last unit between our two reservations:
	// simulate by requesting more than B holds while A succeeds first
	_, err := svc.Checkout(ctx, uuid.New(), []CartItem{
		{OfferID: offerA.ID, Quantity: 2},
		{OfferID: offerB.ID, Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	freshA, _ := store.FindOffer(ctx, offerA.ID)
	freshB, _ := store.FindOffer(ctx, offerB.ID)
	assert.Equal(t, 5, freshA.Quantity, "failed checkout leaves zero net inventory effect")
	assert.Equal(t, 1, freshB.Quantity)
}

// failingOrderStore persists nothing, forcing the compensation path.
type failingOrderStore struct {
	*memory.Store
}

func (f *failingOrderStore) CreateOrder(ctx context.Context, buyerID uuid.UUID, lines []domain.OrderLine) (*domain.Order, *domain.Transaction, error) {
	return nil, nil, errors.New("storage down")
}

func TestCheckoutPersistenceFailureReleasesReservations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gateway := payment.NewFastPayGateway("")
	auditor := audit.New(zap.NewNop(), nil, nil)
	svc := NewCheckoutService(store, &failingOrderStore{store}, gateway, auditor)

	offer := addOffer(store, 100, 5, domain.OfferActive)

	_, err := svc.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 3}})
	assert.ErrorIs(t, err, domain.ErrOrderCreationFailed)

	fresh, _ := store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 5, fresh.Quantity, "all reservations must be released")
}

func TestCheckoutLastUnitRace(t *testing.T) {
	ctx := context.Background()
	store, _, svc := newCheckoutFixture()
	offer := addOffer(store, 100, 1, domain.OfferActive)

	type result struct {
		res *CheckoutResult
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := svc.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 1}})
			results <- result{res, err}
		}()
	}

	var okCount, failCount int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			okCount++
			assert.NotEqual(t, uuid.Nil, r.res.OrderID)
		} else {
			failCount++
			assert.ErrorIs(t, r.err, domain.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, failCount)

	fresh, _ := store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 0, fresh.Quantity)
}
