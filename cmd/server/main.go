package main

import (
	"context"
	"log"
	"market-engine/internal/audit"
	"market-engine/internal/database"
	"market-engine/internal/handler"
	"market-engine/internal/infrastructure/payment"
	"market-engine/internal/logging"
	"market-engine/internal/metrics"
	"market-engine/internal/repo"
	"market-engine/internal/service"
	"market-engine/internal/worker"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.MustNewLogger("market-engine", envOr("MARKET_ENV", "dev"))
	defer logger.Sync()

	db := database.NewPostgres()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal(err)
	}

	ledger := repo.NewOfferLedger(db)
	store := repo.NewOrderStore(db)
	gateway := payment.NewFastPayGateway(os.Getenv("FASTPAY_BASE_URL"))

	publisher := audit.NewPublisher(os.Getenv("MARKET_KAFKA_BROKERS"), envOr("MARKET_KAFKA_TOPIC", "market.audit"))
	defer publisher.Close()
	auditor := audit.New(logger, db, publisher)

	checkoutSvc := service.NewCheckoutService(ledger, store, gateway, auditor)
	callbackSvc := service.NewCallbackService(ledger, store, auditor)
	adminSvc := service.NewAdminService(ledger, store, auditor)

	reconciler := worker.NewReconciliationWorker(
		store, gateway, callbackSvc,
		30*time.Second, 5*time.Minute,
		logger,
	)
	go reconciler.Run(ctx)

	engineMetrics := metrics.NewEngineMetrics(nil)
	h := handler.New(checkoutSvc, callbackSvc, adminSvc, store, database.New(), engineMetrics, logger)

	addr := envOr("MARKET_HTTP_ADDR", ":8080")
	if err := h.Router().Run(addr); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
