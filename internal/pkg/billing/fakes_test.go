package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository with the same not-found and upsert
// semantics as the GORM implementation.
type fakeRepo struct {
	mu            sync.Mutex
	customers     []*models.Customer
	plans         []*models.Plan
	subscriptions []*models.Subscription
	invoices      []*models.Invoice
	events        map[string]*models.WebhookEvent
	nextID        uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: map[string]*models.WebhookEvent{}}
}

func (f *fakeRepo) WithTx(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) GetCustomerByUserID(userID uint) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.StripeCustomerID == stripeCustomerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateCustomer(customer *models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	customer.ID = f.nextID
	cp := *customer
	f.customers = append(f.customers, &cp)
	return nil
}

func (f *fakeRepo) GetActivePlanByPriceID(priceID string) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.IsActive && p.StripePriceID != nil && *p.StripePriceID == priceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListActivePlans() ([]models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Plan
	for _, p := range f.plans {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.subscriptions {
		if existing.StripeSubscriptionID == sub.StripeSubscriptionID {
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			*existing = *sub
			return nil
		}
	}
	f.nextID++
	sub.ID = f.nextID
	sub.CreatedAt = time.Now()
	cp := *sub
	f.subscriptions = append(f.subscriptions, &cp)
	return nil
}

func (f *fakeRepo) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subscriptions {
		if s.StripeSubscriptionID == stripeSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetLatestSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Subscription
	for _, s := range f.subscriptions {
		if s.UserID != userID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRepo) UpsertInvoice(inv *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invoices {
		if existing.ID == inv.ID {
			*existing = *inv
			return nil
		}
	}
	cp := *inv
	f.invoices = append(f.invoices, &cp)
	return nil
}

func (f *fakeRepo) ListInvoicesByCustomerID(customerID uint) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.invoices {
		if inv.CustomerID == customerID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetWebhookEvent(eventID string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.events[event.ID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.CreatedAt = time.Now()
	cp := *event
	f.events[event.ID] = &cp
	stored := cp
	return true, &stored, nil
}

func (f *fakeRepo) MarkWebhookEvent(eventID string, processed bool, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	ev.Processed = processed
	ev.ProcessedAt = &now
	if processingError != "" {
		msg := processingError
		ev.ProcessingError = &msg
	} else {
		ev.ProcessingError = nil
	}
	return nil
}

func (f *fakeRepo) ListUnprocessedEvents(limit int) ([]models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookEvent
	for _, ev := range f.events {
		if !ev.Processed {
			out = append(out, *ev)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscriptions)
}

// fakeProcessor returns canned Stripe objects and counts calls.
type fakeProcessor struct {
	mu sync.Mutex

	subscriptions map[string]*stripe.Subscription
	invoices      map[string]*stripe.Invoice
	subErr        error
	invoiceErr    error

	customerCalls int
	checkoutCalls int
	portalCalls   int
	subCalls      int
	invoiceCalls  int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		subscriptions: map[string]*stripe.Subscription{},
		invoices:      map[string]*stripe.Invoice{},
	}
}

func (f *fakeProcessor) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, errSubscriptionNotFound(id)
	}
	return sub, nil
}

func (f *fakeProcessor) GetInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceCalls++
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	inv, ok := f.invoices[id]
	if !ok {
		return nil, errInvoiceNotFound(id)
	}
	return inv, nil
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, email, _ string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCalls++
	return &stripe.Customer{ID: fmt.Sprintf("cus_fake_%d", f.customerCalls), Email: email}, nil
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, p CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	return &stripe.CheckoutSession{
		ID:  "cs_fake_1",
		URL: "https://checkout.stripe.test/" + p.PriceID,
	}, nil
}

func (f *fakeProcessor) CreatePortalSession(_ context.Context, customerID, _ string) (*stripe.BillingPortalSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portalCalls++
	return &stripe.BillingPortalSession{URL: "https://portal.stripe.test/" + customerID}, nil
}

func (f *fakeProcessor) ConstructWebhookEvent(payload []byte, _ string) (stripe.Event, error) {
	var event stripe.Event
	return event, webhookError("signature verification is not available in the fake", nil)
}

func strPtr(s string) *string { return &s }
