package service

import (
	"context"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/repo/memory"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type adminFixture struct {
	store     *memory.Store
	checkout  *CheckoutService
	callbacks *CallbackService
	admin     *AdminService
}

func newAdminFixture() *adminFixture {
	store := memory.NewStore()
	auditor := audit.New(zap.NewNop(), nil, nil)
	gateway := payment.NewFastPayGateway("")
	return &adminFixture{
		store:     store,
		checkout:  NewCheckoutService(store, store, gateway, auditor),
		callbacks: NewCallbackService(store, store, auditor),
		admin:     NewAdminService(store, store, auditor),
	}
}

func TestAdminCancelPendingReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture()
	offer := addOffer(f.store, 100, 4, domain.OfferActive)

	result, err := f.checkout.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 3}})
	require.NoError(t, err)

	order, err := f.admin.CancelOrder(ctx, result.OrderID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)

	fresh, _ := f.store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 4, fresh.Quantity, "provisional reservation comes back")

	txn, _ := f.store.FindTransactionByOrder(ctx, result.OrderID)
	assert.Equal(t, domain.TransactionCancelled, txn.Status)
}

func TestAdminCancelAfterPaymentSuccessDoesNotRestock(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture()
	offer := addOffer(f.store, 100, 3, domain.OfferActive)

	result, err := f.checkout.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 2}})
	require.NoError(t, err)
	txn, _ := f.store.FindTransactionByOrder(ctx, result.OrderID)
	_, err = f.callbacks.HandleCallback(ctx, txn.ID, "success")
	require.NoError(t, err)

	order, err := f.admin.CancelOrder(ctx, result.OrderID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)

	// committed stock stays sold; restocking is a separate seller action
	fresh, _ := f.store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 1, fresh.Quantity)

	settled, _ := f.store.FindTransaction(ctx, txn.ID)
	assert.Equal(t, domain.TransactionSuccess, settled.Status, "a settled transaction is never rewritten")
}

func TestAdminCancelTerminalOrders(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture()

	for _, outcome := range []string{"fail", "cancelled"} {
		t.Run(outcome, func(t *testing.T) {
			offer := addOffer(f.store, 100, 2, domain.OfferActive)
			result, err := f.checkout.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 1}})
			require.NoError(t, err)
			txn, _ := f.store.FindTransactionByOrder(ctx, result.OrderID)
			_, err = f.callbacks.HandleCallback(ctx, txn.ID, outcome)
			require.NoError(t, err)

			_, err = f.admin.CancelOrder(ctx, result.OrderID, uuid.New())
			assert.ErrorIs(t, err, domain.ErrCannotCancel)

			// terminal immutability: nothing moved
			fresh, _ := f.store.FindOffer(ctx, offer.ID)
			assert.Equal(t, 2, fresh.Quantity)
		})
	}
}

func TestAdminCancelTwice(t *testing.T) {
	ctx := context.Background()
	f := newAdminFixture()
	offer := addOffer(f.store, 100, 2, domain.OfferActive)

	result, err := f.checkout.Checkout(ctx, uuid.New(), []CartItem{{OfferID: offer.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = f.admin.CancelOrder(ctx, result.OrderID, uuid.New())
	require.NoError(t, err)

	_, err = f.admin.CancelOrder(ctx, result.OrderID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCannotCancel)

	// the release from the first cancel must not repeat
	fresh, _ := f.store.FindOffer(ctx, offer.ID)
	assert.Equal(t, 2, fresh.Quantity)
}

func TestAdminCancelUnknownOrder(t *testing.T) {
	f := newAdminFixture()
	_, err := f.admin.CancelOrder(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
