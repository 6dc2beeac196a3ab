package models

import "time"

// Plan is a local catalog entry mirroring a Stripe price/product pair. Plans
// are provisioned out of band (seed migration or admin tooling) and read-only
// at runtime; reconciliation treats a missing plan as a hard error because it
// means the catalog is stale relative to Stripe.
type Plan struct {
	ID              string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(150);not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description,omitempty"`
	StripePriceID   *string   `gorm:"type:varchar(191);uniqueIndex" json:"stripe_price_id,omitempty"`
	StripeProductID string    `gorm:"type:varchar(191);default:''" json:"stripe_product_id,omitempty"`
	Price           int64     `gorm:"not null" json:"price"`
	Currency        string    `gorm:"type:varchar(8);not null;default:'eur'" json:"currency"`
	Interval        string    `gorm:"type:varchar(16);default:null" json:"interval,omitempty"`
	Features        string    `gorm:"type:text" json:"features,omitempty"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	SortOrder       int       `gorm:"default:0" json:"sort_order"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
