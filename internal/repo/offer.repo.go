package repo

import (
	"context"
	"database/sql"
	"fmt"
	"market-engine/internal/domain"

	"github.com/google/uuid"
)

// OfferLedger owns offer quantity and availability. Reserve, CommitSale and
// Release are each a single conditional statement; callers never get to do a
// read-then-write on quantity.
type OfferLedger interface {
	FindOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
	// Reserve atomically decrements quantity, failing when the offer is not
	// active or holds less stock than requested.
	Reserve(ctx context.Context, offerID uuid.UUID, quantity int) error
	// CommitSale marks the offer sold once a paid order depleted it. Setting
	// sold on an already-sold offer is a no-op.
	CommitSale(ctx context.Context, offerID uuid.UUID, quantity int) error
	// Release returns provisionally reserved stock. It never reactivates a
	// sold, inactive or moderated offer.
	Release(ctx context.Context, offerID uuid.UUID, quantity int) error
}

type offerLedger struct {
	db *sql.DB
}

func NewOfferLedger(db *sql.DB) OfferLedger {
	return &offerLedger{db: db}
}

func (r *offerLedger) FindOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	var offer domain.Offer
	err := r.db.QueryRowContext(ctx,
		"SELECT id, seller_id, title, price, quantity, status, created_at, updated_at FROM offers WHERE id = $1", id).Scan(
		&offer.ID,
		&offer.SellerID,
		&offer.Title,
		&offer.Price,
		&offer.Quantity,
		&offer.Status,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return &offer, nil
}

func (r *offerLedger) Reserve(ctx context.Context, offerID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: reserve quantity must be positive, got %d", quantity)
	}

	// Decrement-if-sufficient in one statement: two buyers racing for the
	// last unit cannot both pass the WHERE clause.
	res, err := r.db.ExecContext(ctx, `
		UPDATE offers
		SET quantity = quantity - $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND quantity >= $2
	`, offerID, quantity, domain.OfferActive)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// The conditional update rejected; look the offer up once to report why.
	offer, err := r.FindOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer == nil {
		return domain.ErrOfferNotFound
	}
	if !offer.Available() {
		return domain.ErrOfferNotAvailable
	}
	return domain.ErrInsufficientStock
}

func (r *offerLedger) CommitSale(ctx context.Context, offerID uuid.UUID, quantity int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE offers
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND quantity = 0
	`, offerID, domain.OfferSold, domain.OfferActive)
	return err
}

func (r *offerLedger) Release(ctx context.Context, offerID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: release quantity must be positive, got %d", quantity)
	}

	// Status is deliberately untouched: a sold offer regaining stock stays
	// sold until the seller relists it, and moderation holds stay in place.
	_, err := r.db.ExecContext(ctx, `
		UPDATE offers
		SET quantity = quantity + $2,
		    updated_at = now()
		WHERE id = $1
	`, offerID, quantity)
	return err
}
