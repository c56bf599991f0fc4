package domain

import (
	"time"

	"github.com/google/uuid"
)

type OfferStatus string

const (
	OfferActive    OfferStatus = "active"
	OfferInactive  OfferStatus = "inactive"
	OfferSold      OfferStatus = "sold"
	OfferModerated OfferStatus = "moderated"
	OfferArchived  OfferStatus = "archived"
	OfferDeleted   OfferStatus = "deleted"
)

// Offer is the sellable listing. Only Quantity and Status are mutated by
// this engine; everything else belongs to the listing CRUD outside it.
type Offer struct {
	ID        uuid.UUID
	SellerID  uuid.UUID
	Title     string
	Price     int64 // minor currency units
	Quantity  int
	Status    OfferStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Offer) Available() bool {
	return o.Status == OfferActive
}
