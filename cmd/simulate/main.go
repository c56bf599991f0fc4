package main

import (
	"context"
	"fmt"
	"market-engine/internal/audit"
	"market-engine/internal/domain"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/repo/memory"
	"market-engine/internal/service"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	buyers       = 10
	initialStock = 3
)

// Races concurrent buyers for a nearly sold-out offer, then delivers every
// provider callback twice to demonstrate that duplicates are absorbed and
// stock is conserved.
func main() {
	ctx := context.Background()

	logger := zap.NewNop()
	store := memory.NewStore()
	gateway := payment.NewFastPayGateway("")
	auditor := audit.New(logger, nil, nil)

	checkoutSvc := service.NewCheckoutService(store, store, gateway, auditor)
	callbackSvc := service.NewCallbackService(store, store, auditor)

	offer := &domain.Offer{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Title:    "limited edition",
		Price:    2500,
		Quantity: initialStock,
		Status:   domain.OfferActive,
	}
	store.AddOffer(offer)

	fmt.Printf("--- %d BUYERS RACING FOR %d UNITS ---\n", buyers, initialStock)

	var mu sync.Mutex
	var winners []uuid.UUID // transaction ids
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := checkoutSvc.Checkout(ctx, uuid.New(), []service.CartItem{
				{OfferID: offer.ID, Quantity: 1},
			})
			if err != nil {
				fmt.Printf("[buyer %2d] rejected: %v\n", n, err)
				return
			}
			txn, _ := store.FindTransactionByOrder(ctx, result.OrderID)
			fmt.Printf("[buyer %2d] order %s -> %s\n", n, result.OrderID, result.PaymentRedirect)
			mu.Lock()
			winners = append(winners, txn.ID)
			mu.Unlock()
		}(i + 1)
	}
	wg.Wait()

	current, _ := store.FindOffer(ctx, offer.ID)
	fmt.Printf("\nreservations done: %d winners, offer quantity now %d\n\n", len(winners), current.Quantity)

	fmt.Println("--- SETTLING PAYMENTS (EACH CALLBACK DELIVERED TWICE) ---")
	for _, txID := range winners {
		outcome := gateway.SettleRandom(txID)
		first, err := callbackSvc.HandleCallback(ctx, txID, string(outcome))
		if err != nil {
			fmt.Printf("[txn %s] callback failed: %v\n", txID, err)
			continue
		}
		// Duplicate delivery, same payload.
		second, _ := callbackSvc.HandleCallback(ctx, txID, string(outcome))
		fmt.Printf("[txn %s] settled %-9s -> order %s (duplicate returned %s)\n", txID, outcome, first, second)
		time.Sleep(50 * time.Millisecond)
	}

	final, _ := store.FindOffer(ctx, offer.ID)
	fmt.Printf("\nfinal offer: quantity=%d status=%s\n", final.Quantity, final.Status)
	fmt.Printf("conservation: initial %d = remaining %d + committed-or-still-reserved %d\n",
		initialStock, final.Quantity, initialStock-final.Quantity)
}
