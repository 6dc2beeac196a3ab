package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoHuber/SaaSKit/internal/pkg/billing"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/jobqueue"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/metrics/counter"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/statistics"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const webhookTimeout = 15 * time.Second

// BillingController exposes the billing service over HTTP. The service is
// injected once at startup; handlers hold no package state.
type BillingController struct {
	svc *billing.Service
}

func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{svc: svc}
}

// HandleStripeWebhook receives provider webhooks. Signature failures get 400
// so the provider retries after the secret is fixed; processing failures get
// 200 because the event is already persisted in the ledger and will be
// replayed from there, and provider-side retries of a stored event buy
// nothing.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	if err := counter.AddWebhookOutcome(counter.OutcomeReceived); err != nil {
		log.Warnf("[Billing] webhook counter unavailable: %v", err)
	}

	event, err := bc.svc.VerifyWebhookSignature(rawBody, signature)
	if err != nil {
		_ = counter.AddWebhookOutcome(counter.OutcomeInvalidSignature)
		log.Warnf("[Billing] webhook signature rejected: %v", err)
		return respondError(c, err)
	}

	_ = counter.AddWebhookEventType(string(event.Type))

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	processed, err := bc.svc.ProcessEvent(ctx, event)
	if err != nil {
		_ = counter.AddWebhookOutcome(counter.OutcomeFailed)
		log.Errorf("[Billing] webhook event %s failed: %v", event.ID, err)
		// 200 on purpose: the event sits in the ledger, redelivery buys nothing
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"error": fiber.Map{"code": "PROCESSING_ERROR", "message": "event processing failed"},
		})
	}
	if !processed {
		_ = counter.AddWebhookOutcome(counter.OutcomeDuplicate)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "message": "Already processed"})
	}

	_ = counter.AddWebhookOutcome(counter.OutcomeProcessed)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleCreateCheckout starts a subscription checkout for the logged-in user.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var body struct {
		PriceID string `json:"priceId"`
		Email   string `json:"email"`
		Name    string `json:"name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fiber.Map{"code": "VALIDATION_ERROR", "message": "invalid request body"},
		})
	}

	session, err := bc.svc.CreateSubscriptionCheckout(c.UserContext(), billing.CheckoutInput{
		UserID:  userCtx.UserID,
		Email:   body.Email,
		Name:    body.Name,
		PriceID: body.PriceID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

// HandleCreatePortal opens the hosted billing portal for the logged-in user.
func (bc *BillingController) HandleCreatePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	url, err := bc.svc.CreatePortalSession(c.UserContext(), userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleGetSubscription returns the current user's subscription, or null
// when there is none.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, err := bc.svc.GetUserSubscription(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleListInvoices returns the current user's invoices.
func (bc *BillingController) HandleListInvoices(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	invoices, err := bc.svc.GetUserInvoices(userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

// HandleListPlans returns the active plan catalog. Public, no auth.
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := bc.svc.ListPlans()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleAdminWebhookMetrics exposes the webhook delivery counters.
func (bc *BillingController) HandleAdminWebhookMetrics(c *fiber.Ctx) error {
	outcomes, err := counter.WebhookOutcomes()
	if err != nil {
		log.Errorf("[Billing] failed to read webhook counters: %v", err)
		outcomes = map[string]int64{}
	}
	types, err := counter.WebhookEventTypes()
	if err != nil {
		types = map[string]int64{}
	}
	return c.JSON(fiber.Map{"outcomes": outcomes, "event_types": types})
}

// HandleAdminUnprocessedEvents lists failed or pending ledger entries.
func (bc *BillingController) HandleAdminUnprocessedEvents(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	events, err := bc.svc.ListUnprocessedEvents(limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

// HandleAdminReplayEvent re-runs a stored webhook event.
func (bc *BillingController) HandleAdminReplayEvent(c *fiber.Ctx) error {
	eventID := strings.TrimSpace(c.Params("id"))

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	processed, err := bc.svc.ReplayEvent(ctx, eventID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"event_id": eventID, "processed": processed})
}

// HandleAdminReplaySweep queues background replays for everything that is
// still unprocessed in the ledger.
func (bc *BillingController) HandleAdminReplaySweep(c *fiber.Ctx) error {
	if err := jobqueue.GetManager().RunReplaySweepOnce(); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"queued": true})
}

// HandleAdminStats returns the cached dashboard statistics.
func (bc *BillingController) HandleAdminStats(c *fiber.Ctx) error {
	return c.JSON(statistics.GetStatistics())
}
