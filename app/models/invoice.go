package models

import "time"

// Invoice mirrors a Stripe invoice. The Stripe invoice id is used directly as
// the primary key, so repeated syncs are idempotent upserts with no local
// identity translation. SubscriptionID stays nil when the owning subscription
// is not (yet) tracked locally; that must not block invoice recording.
type Invoice struct {
	ID               string     `gorm:"type:varchar(191);primaryKey" json:"id"`
	SubscriptionID   *uint      `gorm:"index" json:"subscription_id,omitempty"`
	CustomerID       uint       `gorm:"not null;index" json:"customer_id"`
	AmountPaid       int64      `gorm:"not null" json:"amount_paid"`
	AmountDue        int64      `gorm:"not null" json:"amount_due"`
	Currency         string     `gorm:"type:varchar(8);not null;default:'eur'" json:"currency"`
	Status           string     `gorm:"type:varchar(32);not null" json:"status"`
	HostedInvoiceURL string     `gorm:"type:varchar(512);default:null" json:"hosted_invoice_url,omitempty"`
	InvoicePDF       string     `gorm:"type:varchar(512);default:null" json:"invoice_pdf,omitempty"`
	Paid             bool       `gorm:"not null;default:false" json:"paid"`
	PeriodStart      time.Time  `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time  `gorm:"not null" json:"period_end"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        *time.Time `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
}
