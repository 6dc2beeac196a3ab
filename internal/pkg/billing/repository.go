package billing

import (
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing services. Not-found
// lookups return gorm.ErrRecordNotFound; callers translate at the service
// boundary.
type Repository interface {
	// WithTx runs fn against a repository bound to a single transaction.
	// Processor API calls must stay outside fn; only DB work belongs here.
	WithTx(fn func(Repository) error) error

	GetCustomerByUserID(userID uint) (*models.Customer, error)
	GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error)
	CreateCustomer(customer *models.Customer) error

	GetActivePlanByPriceID(priceID string) (*models.Plan, error)
	ListActivePlans() ([]models.Plan, error)

	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	GetLatestSubscriptionByUserID(userID uint) (*models.Subscription, error)

	UpsertInvoice(inv *models.Invoice) error
	ListInvoicesByCustomerID(customerID uint) ([]models.Invoice, error)

	GetWebhookEvent(eventID string) (*models.WebhookEvent, error)
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookEvent(eventID string, processed bool, processingError string) error
	ListUnprocessedEvents(limit int) ([]models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetCustomerByUserID(userID uint) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) CreateCustomer(customer *models.Customer) error {
	return r.db.Create(customer).Error
}

func (r *gormRepository) GetActivePlanByPriceID(priceID string) (*models.Plan, error) {
	var p models.Plan
	err := r.db.
		Where("stripe_price_id = ? AND is_active = ?", priceID, true).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListActivePlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("sort_order asc").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	// Single atomic insert-or-update keyed on the Stripe subscription id.
	// Select-then-write here would open a lost-update race between concurrent
	// reconciliations of the same subscription.
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"plan_id",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"ended_at",
			"trial_start",
			"trial_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetLatestSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) UpsertInvoice(inv *models.Invoice) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"customer_id",
			"amount_paid",
			"amount_due",
			"currency",
			"status",
			"hosted_invoice_url",
			"invoice_pdf",
			"paid",
			"period_start",
			"period_end",
			"updated_at",
		}),
	}).Create(inv).Error
}

func (r *gormRepository) ListInvoicesByCustomerID(customerID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("customer_id = ?", customerID).Order("created_at desc").Find(&invoices).Error
	return invoices, err
}

func (r *gormRepository) GetWebhookEvent(eventID string) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := r.db.Where("id = ?", eventID).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("id = ?", event.ID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookEvent(eventID string, processed bool, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed":    processed,
		"processed_at": &now,
	}
	if processingError != "" {
		updates["processing_error"] = processingError
	} else {
		updates["processing_error"] = nil
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", eventID).Updates(updates).Error
}

func (r *gormRepository) ListUnprocessedEvents(limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.Where("processed = ?", false).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}
