package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/billing"
)

const testSignatureHeader = "t=1,v1=valid"

// webhookStubRepo backs the webhook ledger with a map; every other lookup
// reports not-found so the handler tests stay independent of billing rows.
type webhookStubRepo struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func newWebhookStubRepo() *webhookStubRepo {
	return &webhookStubRepo{events: map[string]*models.WebhookEvent{}}
}

func (r *webhookStubRepo) WithTx(fn func(billing.Repository) error) error { return fn(r) }

func (r *webhookStubRepo) GetCustomerByUserID(uint) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookStubRepo) GetCustomerByStripeID(string) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookStubRepo) CreateCustomer(*models.Customer) error { return nil }

func (r *webhookStubRepo) GetActivePlanByPriceID(string) (*models.Plan, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookStubRepo) ListActivePlans() ([]models.Plan, error) { return nil, nil }

func (r *webhookStubRepo) UpsertSubscription(*models.Subscription) error { return nil }

func (r *webhookStubRepo) GetSubscriptionByStripeID(string) (*models.Subscription, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookStubRepo) GetLatestSubscriptionByUserID(uint) (*models.Subscription, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookStubRepo) UpsertInvoice(*models.Invoice) error { return nil }

func (r *webhookStubRepo) ListInvoicesByCustomerID(uint) ([]models.Invoice, error) {
	return nil, nil
}

func (r *webhookStubRepo) GetWebhookEvent(eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *webhookStubRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[event.ID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *event
	r.events[event.ID] = &cp
	stored := cp
	return true, &stored, nil
}

func (r *webhookStubRepo) MarkWebhookEvent(eventID string, processed bool, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	ev.Processed = processed
	if processingError == "" {
		ev.ProcessingError = nil
	} else {
		msg := processingError
		ev.ProcessingError = &msg
	}
	return nil
}

func (r *webhookStubRepo) ListUnprocessedEvents(int) ([]models.WebhookEvent, error) {
	return nil, nil
}

// webhookStubProcessor accepts exactly one signature value and hands back a
// canned event, mirroring the error taxonomy of the real client.
type webhookStubProcessor struct {
	event  stripe.Event
	subErr error
}

func (p *webhookStubProcessor) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	if len(payload) == 0 || strings.TrimSpace(signature) == "" {
		return stripe.Event{}, apperr.Validation("webhook signature and body are required")
	}
	if signature != testSignatureHeader {
		return stripe.Event{}, apperr.Wrap(apperr.CodeStripeWebhook, 400, "webhook signature verification failed", nil)
	}
	return p.event, nil
}

func (p *webhookStubProcessor) GetSubscription(_ context.Context, _ string) (*stripe.Subscription, error) {
	return nil, p.subErr
}

func (p *webhookStubProcessor) GetInvoice(_ context.Context, _ string) (*stripe.Invoice, error) {
	return nil, gorm.ErrRecordNotFound
}

func (p *webhookStubProcessor) CreateCustomer(_ context.Context, _, _ string) (*stripe.Customer, error) {
	return nil, nil
}

func (p *webhookStubProcessor) CreateCheckoutSession(_ context.Context, _ billing.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, nil
}

func (p *webhookStubProcessor) CreatePortalSession(_ context.Context, _, _ string) (*stripe.BillingPortalSession, error) {
	return nil, nil
}

func stubEvent(id, eventType, objectID string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"` + objectID + `"}`)},
	}
}

func newWebhookTestApp(repo *webhookStubRepo, processor *webhookStubProcessor) *fiber.App {
	svc := billing.NewService(repo, processor, billing.Config{BaseURL: "http://localhost"})
	bc := NewBillingController(svc)

	app := fiber.New()
	app.Post("/api/v1/stripe/webhook", bc.HandleStripeWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body, signature string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/stripe/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return resp.StatusCode, parsed
}

func TestHandleStripeWebhookInvalidSignature(t *testing.T) {
	app := newWebhookTestApp(newWebhookStubRepo(), &webhookStubProcessor{})

	status, body := postWebhook(t, app, `{"id":"evt_1"}`, "t=1,v1=wrong")

	assert.Equal(t, fiber.StatusBadRequest, status)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error object, got %v", body)
	assert.Equal(t, "STRIPE_WEBHOOK_ERROR", errBody["code"])
}

func TestHandleStripeWebhookMissingSignature(t *testing.T) {
	app := newWebhookTestApp(newWebhookStubRepo(), &webhookStubProcessor{})

	status, body := postWebhook(t, app, `{"id":"evt_1"}`, "")

	assert.Equal(t, fiber.StatusBadRequest, status)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error object, got %v", body)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
}

func TestHandleStripeWebhookSuccess(t *testing.T) {
	repo := newWebhookStubRepo()
	processor := &webhookStubProcessor{event: stubEvent("evt_ok", "invoice.finalized", "in_1")}
	app := newWebhookTestApp(repo, processor)

	status, body := postWebhook(t, app, `{"id":"evt_ok"}`, testSignatureHeader)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "message")

	ev, err := repo.GetWebhookEvent("evt_ok")
	require.NoError(t, err)
	assert.True(t, ev.Processed)
}

func TestHandleStripeWebhookDuplicate(t *testing.T) {
	repo := newWebhookStubRepo()
	repo.events["evt_dup"] = &models.WebhookEvent{
		ID:        "evt_dup",
		Type:      "invoice.finalized",
		Processed: true,
	}
	processor := &webhookStubProcessor{event: stubEvent("evt_dup", "invoice.finalized", "in_1")}
	app := newWebhookTestApp(repo, processor)

	status, body := postWebhook(t, app, `{"id":"evt_dup"}`, testSignatureHeader)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "Already processed", body["message"])
}

func TestHandleStripeWebhookProcessingFailureStays200(t *testing.T) {
	repo := newWebhookStubRepo()
	processor := &webhookStubProcessor{
		event:  stubEvent("evt_fail", "customer.subscription.updated", "sub_1"),
		subErr: apperr.Wrap(apperr.CodeStripeAPI, 500, "stripe unavailable", nil),
	}
	app := newWebhookTestApp(repo, processor)

	status, body := postWebhook(t, app, `{"id":"evt_fail"}`, testSignatureHeader)

	// 200 on purpose: the event is in the ledger and gets replayed from
	// there, provider redelivery would add nothing.
	assert.Equal(t, fiber.StatusOK, status)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error object, got %v", body)
	assert.Equal(t, "PROCESSING_ERROR", errBody["code"])

	// The failure is recorded on the ledger entry for the replay sweep
	ev, err := repo.GetWebhookEvent("evt_fail")
	require.NoError(t, err)
	assert.False(t, ev.Processed)
	require.NotNil(t, ev.ProcessingError)
	assert.Contains(t, *ev.ProcessingError, "stripe unavailable")
}
