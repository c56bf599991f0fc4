package repo

import (
	"context"
	"database/sql"
	"market-engine/internal/domain"
	"time"

	"github.com/google/uuid"
)

// OrderStore owns the order aggregate: order, its lines and its one
// transaction. Every mutating method is a single SQL transaction; partial
// state never escapes it.
type OrderStore interface {
	// CreateOrder persists order + lines + transaction atomically. Lines are
	// already validated and reserved by the caller.
	CreateOrder(ctx context.Context, buyerID uuid.UUID, lines []domain.OrderLine) (*domain.Order, *domain.Transaction, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error)
	// Finalize advances transaction + order together, guarded on the
	// transaction still being pending. applied=false means the pair was
	// already reconciled and nothing was written.
	Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) (applied bool, orderID uuid.UUID, err error)
	// CancelOrder sets the order cancelled unless it is already terminal.
	// txWasPending tells the caller whether reserved stock still needs to be
	// released (the transaction never reached success).
	CancelOrder(ctx context.Context, orderID uuid.UUID) (applied bool, txWasPending bool, err error)
	// FindStalePendingPayment lists orders stuck awaiting a provider
	// callback, oldest first.
	FindStalePendingPayment(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

type orderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) OrderStore {
	return &orderStore{db: db}
}

func (s *orderStore) CreateOrder(ctx context.Context, buyerID uuid.UUID, lines []domain.OrderLine) (*domain.Order, *domain.Transaction, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO orders (id, buyer_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		order.ID, order.BuyerID, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO order_lines (order_id, offer_id, quantity, price_at_purchase) VALUES ($1, $2, $3, $4)",
			order.ID, line.OfferID, line.Quantity, line.PriceAtPurchase,
		)
		if err != nil {
			return nil, nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO transactions (id, order_id, status, amount, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		txn.ID, txn.OrderID, txn.Status, txn.Amount, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return order, txn, nil
}

func (s *orderStore) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx,
		"SELECT id, buyer_id, status, created_at, updated_at FROM orders WHERE id = $1", id).Scan(
		&order.ID,
		&order.BuyerID,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return &order, nil
}

func (s *orderStore) FindLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT order_id, offer_id, quantity, price_at_purchase FROM order_lines WHERE order_id = $1 ORDER BY offer_id",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.OrderID, &line.OfferID, &line.Quantity, &line.PriceAtPurchase); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *orderStore) FindTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.scanTransaction(ctx, "SELECT id, order_id, status, amount, created_at, updated_at FROM transactions WHERE id = $1", id)
}

func (s *orderStore) FindTransactionByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	return s.scanTransaction(ctx, "SELECT id, order_id, status, amount, created_at, updated_at FROM transactions WHERE order_id = $1", orderID)
}

func (s *orderStore) scanTransaction(ctx context.Context, query string, arg any) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.Status,
		&txn.Amount,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *orderStore) Finalize(ctx context.Context, transactionID uuid.UUID, outcome domain.TransactionStatus) (bool, uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, uuid.Nil, err
	}
	defer tx.Rollback()

	// The idempotency guard: only the first settlement finds the row still
	// pending. Concurrent duplicates serialize on the row lock and every
	// later one affects zero rows.
	var orderID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE transactions
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING order_id
	`, transactionID, outcome, domain.TransactionPending).Scan(&orderID)
	if err == sql.ErrNoRows {
		return false, uuid.Nil, nil // already reconciled
	}
	if err != nil {
		return false, uuid.Nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, orderID, domain.OrderStatusFor(outcome), domain.OrderPendingPayment)
	if err != nil {
		return false, uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, uuid.Nil, err
	}
	return true, orderID, nil
}

func (s *orderStore) CancelOrder(ctx context.Context, orderID uuid.UUID) (bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()

	// Lock the transaction row before the order row, same order Finalize
	// takes them, so a concurrent callback cannot deadlock against a
	// concurrent admin cancel.
	var txStatus domain.TransactionStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM transactions WHERE order_id = $1 FOR UPDATE", orderID).Scan(&txStatus)
	if err == sql.ErrNoRows {
		return false, false, domain.ErrOrderNotFound
	}
	if err != nil {
		return false, false, err
	}

	var status domain.OrderStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID).Scan(&status)
	if err != nil {
		return false, false, err
	}
	if status.Terminal() {
		return false, false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $2, updated_at = now() WHERE id = $1",
		orderID, domain.OrderCancelled,
	)
	if err != nil {
		return false, false, err
	}

	txWasPending := txStatus == domain.TransactionPending
	if txWasPending {
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $2,
			    updated_at = now()
			WHERE order_id = $1
			  AND status = $3
		`, orderID, domain.TransactionCancelled, domain.TransactionPending)
		if err != nil {
			return false, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	return true, txWasPending, nil
}

func (s *orderStore) FindStalePendingPayment(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, status, created_at, updated_at
		FROM orders
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, domain.OrderPendingPayment, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.BuyerID,
			&order.Status,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
