package payment

import (
	"context"
	"fmt"
	"market-engine/internal/domain"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// Gateway is the engine's view of FastPay, the external provider. Checkout
// only needs a redirect target; the reconciliation worker additionally polls
// settled status for transactions whose callback never arrived.
type Gateway interface {
	PaymentURL(transactionID uuid.UUID, amount int64) string
	// CheckStatus reports the settled outcome for a transaction. known=false
	// means the provider has not settled it yet.
	CheckStatus(ctx context.Context, transactionID uuid.UUID) (domain.TransactionStatus, bool, error)
}

type FastPayGateway struct {
	baseURL string

	mu      sync.RWMutex
	settled map[string]domain.TransactionStatus
}

// NewFastPayGateway builds the hosted-checkout client. Outside of tests and
// the simulator the settled map stays empty and only callbacks drive state;
// Settle exists so simulations can script provider behaviour.
func NewFastPayGateway(baseURL string) *FastPayGateway {
	if baseURL == "" {
		baseURL = "https://pay.fastpay.example"
	}
	return &FastPayGateway{
		baseURL: baseURL,
		settled: make(map[string]domain.TransactionStatus),
	}
}

func (g *FastPayGateway) PaymentURL(transactionID uuid.UUID, amount int64) string {
	return fmt.Sprintf("%s/pay?txn=%s&amount=%d", g.baseURL, transactionID, amount)
}

func (g *FastPayGateway) CheckStatus(ctx context.Context, transactionID uuid.UUID) (domain.TransactionStatus, bool, error) {
	_ = ctx

	g.mu.RLock()
	defer g.mu.RUnlock()

	status, ok := g.settled[transactionID.String()]
	if !ok {
		return "", false, nil
	}
	return status, true, nil
}

// Settle records the provider-side outcome for a transaction.
func (g *FastPayGateway) Settle(transactionID uuid.UUID, outcome domain.TransactionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settled[transactionID.String()] = outcome
}

// SettleRandom settles with success/fail/cancelled weighted roughly like a
// real provider and returns the chosen outcome.
func (g *FastPayGateway) SettleRandom(transactionID uuid.UUID) domain.TransactionStatus {
	var outcome domain.TransactionStatus
	switch chance := rand.IntN(100); {
	case chance < 70:
		outcome = domain.TransactionSuccess
	case chance < 90:
		outcome = domain.TransactionFail
	default:
		outcome = domain.TransactionCancelled
	}
	g.Settle(transactionID, outcome)
	return outcome
}
