package models

import "time"

// Customer links a local user to the Stripe customer record that all billing
// objects for that user hang off. One row per user, created lazily on the
// first checkout or portal request.
type Customer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	Email            string    `gorm:"type:varchar(200);not null" json:"email"`
	Name             string    `gorm:"type:varchar(150);default:null" json:"name,omitempty"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_customer_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
