package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/stripe/stripe-go/v79"
)

func newTestService(repo *fakeRepo, processor *fakeProcessor) *Service {
	return NewService(repo, processor, Config{BaseURL: "https://app.test"})
}

func seedCustomer(repo *fakeRepo, userID uint, stripeID string) *models.Customer {
	c := &models.Customer{UserID: userID, Email: "user@test.dev", StripeCustomerID: stripeID}
	_ = repo.CreateCustomer(c)
	return c
}

func seedPlan(repo *fakeRepo, planID, priceID string) {
	repo.plans = append(repo.plans, &models.Plan{
		ID:            planID,
		Name:          planID,
		StripePriceID: strPtr(priceID),
		Price:         990,
		Currency:      "eur",
		IsActive:      true,
	})
}

func fixtureSubscription(id, customerID, priceID string, status stripe.SubscriptionStatus) *stripe.Subscription {
	now := time.Now()
	return &stripe.Subscription{
		ID:       id,
		Status:   status,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: priceID}},
			},
		},
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour).Unix(),
	}
}

func fixtureEvent(id, eventType, objectID string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{
			Raw: json.RawMessage(fmt.Sprintf(`{"id":%q}`, objectID)),
		},
	}
}

func TestProcessEvent_SyncsSubscriptionAndMarksProcessed(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)

	processed, err := svc.ProcessEvent(context.Background(), fixtureEvent("evt_1", "customer.subscription.updated", "sub_1"))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if !processed {
		t.Fatalf("expected first delivery to be processed")
	}

	sub, err := repo.GetSubscriptionByStripeID("sub_1")
	if err != nil {
		t.Fatalf("expected subscription to be stored: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %q", sub.Status)
	}
	if sub.UserID != 7 {
		t.Fatalf("expected subscription attributed to user 7, got %d", sub.UserID)
	}
	if sub.PlanID != "premium" {
		t.Fatalf("expected plan premium, got %q", sub.PlanID)
	}

	ev, err := repo.GetWebhookEvent("evt_1")
	if err != nil {
		t.Fatalf("expected event ledger entry: %v", err)
	}
	if !ev.Processed {
		t.Fatalf("expected event marked processed")
	}
	if ev.ProcessingError != nil {
		t.Fatalf("expected no processing error, got %q", *ev.ProcessingError)
	}
}

func TestProcessEvent_DuplicateDeliveryIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)
	event := fixtureEvent("evt_1", "customer.subscription.updated", "sub_1")

	processed, err := svc.ProcessEvent(context.Background(), event)
	if err != nil || !processed {
		t.Fatalf("first delivery: processed=%v err=%v", processed, err)
	}

	processed, err = svc.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("duplicate delivery must not error: %v", err)
	}
	if processed {
		t.Fatalf("duplicate delivery must report already-processed")
	}
	if processor.subCalls != 1 {
		t.Fatalf("duplicate must not trigger another fetch, got %d calls", processor.subCalls)
	}
}

func TestProcessEvent_UnfinishedLedgerEntryIsReconciledAgain(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)
	event := fixtureEvent("evt_1", "customer.subscription.updated", "sub_1")

	// The event sits in the ledger unprocessed, as if another delivery
	// claimed it and is still mid-flight. A concurrent delivery dispatches
	// anyway: the overwrite upsert makes the double reconciliation converge.
	repo.events[event.ID] = &models.WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: `{"id":"sub_1"}`,
	}

	processed, err := svc.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("delivery against an unfinished entry must not error: %v", err)
	}
	if !processed {
		t.Fatalf("delivery against an unfinished entry must reconcile")
	}
	if processor.subCalls != 1 {
		t.Fatalf("expected one subscription fetch, got %d", processor.subCalls)
	}
	if got := repo.subscriptionCount(); got != 1 {
		t.Fatalf("expected exactly one subscription row, got %d", got)
	}
	ev, err := repo.GetWebhookEvent(event.ID)
	if err != nil || !ev.Processed {
		t.Fatalf("ledger entry must end up processed: processed=%v err=%v", ev.Processed, err)
	}
}

func TestProcessEvent_FailureIsRecordedAndRetryable(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subErr = apiError("stripe is down", nil)

	svc := newTestService(repo, processor)
	event := fixtureEvent("evt_1", "customer.subscription.updated", "sub_1")

	_, err := svc.ProcessEvent(context.Background(), event)
	if err == nil {
		t.Fatalf("expected processing failure")
	}
	if !apperr.IsCode(err, apperr.CodeStripeWebhook) {
		t.Fatalf("expected STRIPE_WEBHOOK_ERROR, got %v", err)
	}

	ev, err := repo.GetWebhookEvent("evt_1")
	if err != nil {
		t.Fatalf("failed event must still be in the ledger: %v", err)
	}
	if ev.Processed {
		t.Fatalf("failed event must stay unprocessed")
	}
	if ev.ProcessingError == nil {
		t.Fatalf("expected processing error recorded")
	}

	// Next delivery of the same event retries and succeeds.
	processor.mu.Lock()
	processor.subErr = nil
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)
	processor.mu.Unlock()

	processed, err := svc.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !processed {
		t.Fatalf("retry of a failed event must process it")
	}
	ev, _ = repo.GetWebhookEvent("evt_1")
	if !ev.Processed || ev.ProcessingError != nil {
		t.Fatalf("retry must clear the failure state: processed=%v err=%v", ev.Processed, ev.ProcessingError)
	}
}

func TestProcessEvent_UnhandledTypeIsAcknowledged(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	svc := newTestService(repo, processor)

	processed, err := svc.ProcessEvent(context.Background(), fixtureEvent("evt_9", "charge.refunded", "ch_1"))
	if err != nil {
		t.Fatalf("unhandled type must not error: %v", err)
	}
	if !processed {
		t.Fatalf("unhandled type must still be marked processed")
	}
	if processor.subCalls != 0 || processor.invoiceCalls != 0 {
		t.Fatalf("unhandled type must not trigger any sync")
	}
	ev, err := repo.GetWebhookEvent("evt_9")
	if err != nil || !ev.Processed {
		t.Fatalf("unhandled type must land processed in the ledger")
	}
}

func TestSyncSubscription_ConvergesOnFetchedState(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")

	svc := newTestService(repo, processor)

	// Stale webhook arrives after the state already moved on: the sync
	// always fetches current state, so both deliveries converge on it.
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusCanceled)
	if _, err := svc.SyncSubscription(context.Background(), "sub_1"); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if _, err := svc.SyncSubscription(context.Background(), "sub_1"); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if repo.subscriptionCount() != 1 {
		t.Fatalf("expected exactly one row after repeated syncs, got %d", repo.subscriptionCount())
	}
	sub, _ := repo.GetSubscriptionByStripeID("sub_1")
	if sub.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %q", sub.Status)
	}
}

func TestSyncSubscription_ScheduledCancellationApproximatesCanceledAt(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")

	remote := fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)
	remote.CancelAt = time.Now().Add(10 * 24 * time.Hour).Unix()
	processor.subscriptions["sub_1"] = remote

	svc := newTestService(repo, processor)
	sub, err := svc.SyncSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("scheduled cancellation must set cancel_at_period_end")
	}
	if sub.CanceledAt == nil {
		t.Fatalf("scheduled cancellation must approximate canceled_at")
	}
}

func TestSyncSubscription_MissingPlanLeavesNoRow(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_missing", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)
	_, err := svc.SyncSubscription(context.Background(), "sub_1")
	if err == nil {
		t.Fatalf("expected sync to fail for unknown price")
	}
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown price, got %v", err)
	}
	if repo.subscriptionCount() != 0 {
		t.Fatalf("failed sync must not write a subscription row")
	}
}

func TestSyncSubscription_InvalidStatusRejected(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", "paused")

	svc := newTestService(repo, processor)
	_, err := svc.SyncSubscription(context.Background(), "sub_1")
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for unknown status, got %v", err)
	}
}

func TestSyncInvoice_LinksKnownSubscription(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	customer := seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)
	if _, err := svc.SyncSubscription(context.Background(), "sub_1"); err != nil {
		t.Fatalf("subscription sync failed: %v", err)
	}

	now := time.Now()
	processor.invoices["in_1"] = &stripe.Invoice{
		ID:           "in_1",
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
		AmountPaid:   990,
		AmountDue:    990,
		Currency:     stripe.CurrencyEUR,
		Status:       stripe.InvoiceStatusPaid,
		PeriodStart:  now.Unix(),
		PeriodEnd:    now.Add(30 * 24 * time.Hour).Unix(),
	}

	inv, err := svc.SyncInvoice(context.Background(), "in_1")
	if err != nil {
		t.Fatalf("invoice sync failed: %v", err)
	}
	if inv.SubscriptionID == nil {
		t.Fatalf("expected invoice linked to the local subscription")
	}
	if !inv.Paid {
		t.Fatalf("paid status must set the paid flag")
	}

	invoices, err := svc.GetUserInvoices(7)
	if err != nil {
		t.Fatalf("GetUserInvoices failed: %v", err)
	}
	if len(invoices) != 1 || invoices[0].CustomerID != customer.ID {
		t.Fatalf("expected one invoice for the user's customer, got %+v", invoices)
	}
}

func TestSyncInvoice_UnknownSubscriptionLinkStaysEmpty(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")

	now := time.Now()
	processor.invoices["in_1"] = &stripe.Invoice{
		ID:           "in_1",
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_unknown"},
		AmountDue:    990,
		Currency:     stripe.CurrencyEUR,
		Status:       stripe.InvoiceStatusOpen,
		PeriodStart:  now.Unix(),
		PeriodEnd:    now.Add(30 * 24 * time.Hour).Unix(),
	}

	svc := newTestService(repo, processor)
	inv, err := svc.SyncInvoice(context.Background(), "in_1")
	if err != nil {
		t.Fatalf("invoice sync failed: %v", err)
	}
	if inv.SubscriptionID != nil {
		t.Fatalf("invoice arriving before its subscription must not fail, link must stay empty")
	}
}

func TestGetOrCreateCustomer_CreatesRemoteOnce(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	svc := newTestService(repo, processor)

	first, err := svc.GetOrCreateCustomer(context.Background(), 7, "user@test.dev", "Test User")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := svc.GetOrCreateCustomer(context.Background(), 7, "user@test.dev", "Test User")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if first.StripeCustomerID != second.StripeCustomerID {
		t.Fatalf("expected stable customer id, got %q then %q", first.StripeCustomerID, second.StripeCustomerID)
	}
	if processor.customerCalls != 1 {
		t.Fatalf("expected one remote create, got %d", processor.customerCalls)
	}
}

func TestGetOrCreateCustomer_RequiresEmail(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProcessor())
	_, err := svc.GetOrCreateCustomer(context.Background(), 7, "", "")
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateSubscriptionCheckout(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedPlan(repo, "premium", "price_1")
	svc := newTestService(repo, processor)

	session, err := svc.CreateSubscriptionCheckout(context.Background(), CheckoutInput{
		UserID:  7,
		Email:   "user@test.dev",
		PriceID: "price_1",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if session.ID == "" || session.URL == "" {
		t.Fatalf("expected a checkout session id and URL, got %+v", session)
	}
	if processor.checkoutCalls != 1 {
		t.Fatalf("expected one checkout session, got %d", processor.checkoutCalls)
	}
}

func TestCreateSubscriptionCheckout_UnknownPrice(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	svc := newTestService(repo, processor)

	_, err := svc.CreateSubscriptionCheckout(context.Background(), CheckoutInput{
		UserID:  7,
		Email:   "user@test.dev",
		PriceID: "price_missing",
	})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown price, got %v", err)
	}
	if processor.checkoutCalls != 0 {
		t.Fatalf("no checkout session may be created for an unknown price")
	}
}

func TestCreatePortalSession_RequiresCustomer(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProcessor())
	_, err := svc.CreatePortalSession(context.Background(), 7)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for user without billing customer, got %v", err)
	}
}

func TestGetUserSubscription_NoneIsNil(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProcessor())
	sub, err := svc.GetUserSubscription(7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != nil {
		t.Fatalf("expected nil subscription for user without one")
	}
}

func TestHasActivePremium(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)

	svc := newTestService(repo, processor)
	if _, err := svc.SyncSubscription(context.Background(), "sub_1"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	active, err := svc.HasActivePremium(7)
	if err != nil || !active {
		t.Fatalf("expected active premium, got active=%v err=%v", active, err)
	}
	none, err := svc.HasActivePremium(99)
	if err != nil || none {
		t.Fatalf("expected no premium for unknown user, got %v err=%v", none, err)
	}
}

func TestReplayEvent(t *testing.T) {
	repo := newFakeRepo()
	processor := newFakeProcessor()
	seedCustomer(repo, 7, "cus_1")
	seedPlan(repo, "premium", "price_1")
	processor.subErr = apiError("stripe is down", nil)

	svc := newTestService(repo, processor)
	event := fixtureEvent("evt_1", "customer.subscription.updated", "sub_1")
	if _, err := svc.ProcessEvent(context.Background(), event); err == nil {
		t.Fatalf("expected initial processing to fail")
	}

	processor.mu.Lock()
	processor.subErr = nil
	processor.subscriptions["sub_1"] = fixtureSubscription("sub_1", "cus_1", "price_1", stripe.SubscriptionStatusActive)
	processor.mu.Unlock()

	processed, err := svc.ReplayEvent(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !processed {
		t.Fatalf("replay of a failed event must process it")
	}

	// Replaying a processed event is a no-op.
	processed, err = svc.ReplayEvent(context.Background(), "evt_1")
	if err != nil || processed {
		t.Fatalf("replay of processed event must be a no-op, got processed=%v err=%v", processed, err)
	}
}
