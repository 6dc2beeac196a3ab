package models

import "time"

// WebhookEvent is the idempotency and audit ledger for inbound Stripe webhook
// deliveries. The Stripe event id is the primary key; the unique constraint on
// it is the real mutual-exclusion mechanism against concurrent duplicate
// deliveries, which holds across processes where an in-memory lock would not.
type WebhookEvent struct {
	ID              string     `gorm:"type:varchar(191);primaryKey" json:"id"`
	Type            string     `gorm:"type:varchar(100);not null;index" json:"type"`
	Processed       bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessingError *string    `gorm:"type:text" json:"processing_error,omitempty"`
	Payload         string     `gorm:"type:longtext;not null" json:"payload"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
