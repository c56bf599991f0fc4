package worker

import (
	"context"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/repo"
	"market-engine/internal/service"
	"time"

	"go.uber.org/zap"
)

const stuckBatchSize = 100

// ReconciliationWorker resolves orders whose provider callback never
// arrived. It polls FastPay for the settled outcome and feeds it through the
// callback service, so the idempotency guard stays the single transition
// path; a late real callback after the worker ran is just a duplicate.
type ReconciliationWorker struct {
	store     repo.OrderStore
	gateway   payment.Gateway
	callbacks *service.CallbackService
	interval  time.Duration
	staleAge  time.Duration
	log       *zap.Logger
}

func NewReconciliationWorker(
	store repo.OrderStore,
	gateway payment.Gateway,
	callbacks *service.CallbackService,
	interval time.Duration,
	staleAge time.Duration,
	log *zap.Logger,
) *ReconciliationWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationWorker{
		store:     store,
		gateway:   gateway,
		callbacks: callbacks,
		interval:  interval,
		staleAge:  staleAge,
		log:       log,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stale_age", rw.staleAge),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rw.Process(ctx); err != nil {
				rw.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// Process runs one reconciliation pass.
func (rw *ReconciliationWorker) Process(ctx context.Context) error {
	stuck, err := rw.store.FindStalePendingPayment(ctx, rw.staleAge, stuckBatchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	rw.log.Info("found stuck orders", zap.Int("count", len(stuck)))

	for _, order := range stuck {
		txn, err := rw.store.FindTransactionByOrder(ctx, order.ID)
		if err != nil {
			rw.log.Error("transaction lookup failed", zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		if txn == nil {
			rw.log.Error("pending order without transaction", zap.String("order_id", order.ID.String()))
			continue
		}

		outcome, known, err := rw.gateway.CheckStatus(ctx, txn.ID)
		if err != nil {
			rw.log.Warn("provider status check failed", zap.String("transaction_id", txn.ID.String()), zap.Error(err))
			continue // leave it for the next pass
		}
		if !known {
			continue // provider has not settled it yet
		}

		status, err := rw.callbacks.HandleCallback(ctx, txn.ID, string(outcome))
		if err != nil {
			rw.log.Error("reconciliation transition failed", zap.String("transaction_id", txn.ID.String()), zap.Error(err))
			continue
		}
		rw.log.Info("stuck order resolved",
			zap.String("order_id", order.ID.String()),
			zap.String("transaction_id", txn.ID.String()),
			zap.String("status", string(status)),
		)
	}
	return nil
}
