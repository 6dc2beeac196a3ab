package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/invoice"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/env"
)

// CheckoutSessionParams carries everything needed to open a Stripe-hosted
// subscription checkout. UserID ends up in session metadata so dashboard and
// support tooling can attribute the session; reconciliation itself re-derives
// ownership via the customer id, the metadata is advisory only.
type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     uint
}

// ProcessorClient is the capability surface of the payment processor that the
// billing services need. Stripe's responses are the source of truth for all
// billing facts; the local store only mirrors them.
type ProcessorClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error)
	CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
	ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeClient implements ProcessorClient against the Stripe API.
type StripeClient struct {
	webhookSecret string
}

// NewStripeClientFromEnv configures the global Stripe key and returns a
// client bound to the configured webhook signing secret.
func NewStripeClientFromEnv() *StripeClient {
	stripe.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	return &StripeClient{
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

// NewStripeClient returns a client with an explicit webhook secret (tests).
func NewStripeClient(webhookSecret string) *StripeClient {
	return &StripeClient{webhookSecret: webhookSecret}
}

func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, errSubscriptionNotFound(subscriptionID)
		}
		return nil, apiError("failed to retrieve subscription: "+subscriptionID, err)
	}
	return sub, nil
}

func (c *StripeClient) GetInvoice(ctx context.Context, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := invoice.Get(invoiceID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, errInvoiceNotFound(invoiceID)
		}
		return nil, apiError("failed to retrieve invoice: "+invoiceID, err)
	}
	return inv, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}

	cust, err := customer.New(params)
	if err != nil {
		return nil, apiError("failed to create stripe customer", err)
	}
	return cust, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(p.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", strconv.FormatUint(uint64(p.UserID), 10))
	// A fresh idempotency key per call; retries of the same HTTP request are
	// handled by Stripe, not by replaying checkout creation.
	params.IdempotencyKey = stripe.String(uuid.NewString())

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, apiError("failed to create checkout session", err)
	}
	return sess, nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, apiError("failed to create portal session", err)
	}
	return sess, nil
}

// ConstructWebhookEvent verifies the Stripe-Signature header against the raw
// request bytes and returns the parsed event. The payload must be the exact
// bytes Stripe sent; re-serialized JSON breaks the signature.
func (c *StripeClient) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	if len(payload) == 0 || strings.TrimSpace(signature) == "" {
		return stripe.Event{}, apperr.Validation("webhook signature and body are required")
	}
	if c.webhookSecret == "" {
		return stripe.Event{}, webhookError("stripe webhook secret is not configured", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, webhookError("webhook signature verification failed", err)
	}
	return event, nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
