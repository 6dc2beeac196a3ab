package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

// VerifyWebhookSignature checks the processor signature over the raw request
// body and returns the decoded event. A bad or missing signature is a
// STRIPE_WEBHOOK_ERROR; the HTTP layer maps it to 400 so the processor
// retries delivery.
func (s *Service) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return s.processor.ConstructWebhookEvent(payload, signature)
}

// ProcessEvent runs a verified webhook event through the idempotency ledger
// and the matching sync. It returns true when this call performed the
// processing and false when the event had already been handled.
//
// The ledger insert is the dedup gate against completed work: a delivery
// whose event is already marked processed backs off without touching billing
// state. A delivery racing a winner that is still mid-flight does dispatch a
// second reconciliation; that is deliberate, since the sync is an atomic
// overwrite upsert of fetched state and running it twice converges on the
// same row.
func (s *Service) ProcessEvent(ctx context.Context, event stripe.Event) (bool, error) {
	existing, err := s.repo.GetWebhookEvent(event.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, webhookError(fmt.Sprintf("webhook processing failed: %s", event.ID), err)
	}
	if existing != nil && existing.Processed {
		log.Infof("[Billing] webhook event %s already processed", event.ID)
		return false, nil
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		return false, webhookError(fmt.Sprintf("failed to encode event payload: %s", event.ID), err)
	}

	// Persist before processing so failures are visible and retryable. The
	// insert commits independently of the sync transaction; it must, since
	// it is what other deliveries race against.
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: string(payload),
	})
	if err != nil {
		return false, webhookError(fmt.Sprintf("failed to persist webhook event: %s", event.ID), err)
	}
	if !created && stored.Processed {
		// Lost the race and the winner already finished. If the winner is
		// still running, fall through and reconcile again; the overwrite
		// upsert makes the double dispatch harmless.
		return false, nil
	}

	if err := s.dispatchEvent(ctx, event); err != nil {
		if markErr := s.repo.MarkWebhookEvent(event.ID, false, err.Error()); markErr != nil {
			log.Errorf("[Billing] failed to record processing error for event %s: %v", event.ID, markErr)
		}
		return false, webhookError(fmt.Sprintf("failed to process webhook event: %s", event.ID), err)
	}

	if err := s.repo.MarkWebhookEvent(event.ID, true, ""); err != nil {
		return false, webhookError(fmt.Sprintf("failed to mark webhook event processed: %s", event.ID), err)
	}
	return true, nil
}

func (s *Service) dispatchEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		id, err := eventObjectID(event)
		if err != nil {
			return err
		}
		log.Infof("[Billing] processing %s for subscription %s", event.Type, id)
		_, err = s.SyncSubscription(ctx, id)
		return err

	case "invoice.paid", "invoice.payment_failed":
		id, err := eventObjectID(event)
		if err != nil {
			return err
		}
		log.Infof("[Billing] processing %s for invoice %s", event.Type, id)
		_, err = s.SyncInvoice(ctx, id)
		return err

	default:
		// Unknown types are acknowledged and recorded, not failed. New
		// event types on the processor side must not break deliveries.
		log.Infof("[Billing] unhandled webhook event type: %s", event.Type)
		return nil
	}
}

// ListUnprocessedEvents returns ledger entries whose processing failed or
// never ran, oldest first, for operator inspection and replay.
func (s *Service) ListUnprocessedEvents(limit int) ([]models.WebhookEvent, error) {
	events, err := s.repo.ListUnprocessedEvents(limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to list unprocessed events", err)
	}
	return events, nil
}

// ReplayEvent re-runs a stored webhook event that previously failed.
func (s *Service) ReplayEvent(ctx context.Context, eventID string) (bool, error) {
	stored, err := s.repo.GetWebhookEvent(eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperr.NotFound(fmt.Sprintf("webhook event not found: %s", eventID))
		}
		return false, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load webhook event", err)
	}
	if stored.Processed {
		return false, nil
	}

	event := stripe.Event{ID: stored.ID, Type: stripe.EventType(stored.Type)}
	if err := json.Unmarshal([]byte(stored.Payload), &event.Data); err != nil {
		return false, webhookError(fmt.Sprintf("stored payload is not decodable: %s", eventID), err)
	}
	return s.ProcessEvent(ctx, event)
}

// eventObjectID pulls the object id out of the raw event payload. Only the
// id is read here; the sync always fetches the full current object from the
// processor rather than trusting possibly stale event data.
func eventObjectID(event stripe.Event) (string, error) {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return "", fmt.Errorf("failed to decode event object: %w", err)
	}
	if obj.ID == "" {
		return "", fmt.Errorf("event %s carries no object id", event.ID)
	}
	return obj.ID, nil
}
