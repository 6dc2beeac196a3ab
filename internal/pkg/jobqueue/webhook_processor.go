package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// EnqueueWebhookReplay queues a replay job for a webhook event that sits
// unprocessed in the ledger. The pending set keeps the periodic sweep from
// piling up duplicate jobs for the same event while one is still in flight.
func (q *Queue) EnqueueWebhookReplay(eventID, eventType string) (*Job, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event ID must not be empty")
	}

	ctx := context.Background()
	added, err := q.client.SAdd(ctx, ReplayPendingSetKey, eventID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mark event %s as pending: %w", eventID, err)
	}
	if added == 0 {
		// Replay already queued for this event
		return nil, nil
	}

	payload := WebhookReplayJobPayload{
		EventID:   eventID,
		EventType: eventType,
	}

	job, err := q.EnqueueJob(JobTypeWebhookReplay, payload.ToMap())
	if err != nil {
		_ = q.client.SRem(ctx, ReplayPendingSetKey, eventID).Err()
		return nil, err
	}
	return job, nil
}

// processWebhookReplayJob replays a stored webhook event against the billing
// state. The ledger itself decides whether anything is left to do, so a replay
// of an event that got processed in the meantime is a cheap no-op.
func (q *Queue) processWebhookReplayJob(ctx context.Context, job *Job) error {
	if q.replayer == nil {
		return fmt.Errorf("no replayer configured")
	}

	payload, err := WebhookReplayJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid webhook replay payload: %w", err)
	}

	defer func() {
		_ = q.client.SRem(context.Background(), ReplayPendingSetKey, payload.EventID).Err()
	}()

	replayCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	processed, err := q.replayer.ReplayEvent(replayCtx, payload.EventID)
	if err != nil {
		return fmt.Errorf("replay of event %s failed: %w", payload.EventID, err)
	}

	if processed {
		log.Infof("[JobQueue] Replayed webhook event %s (type=%s)", payload.EventID, payload.EventType)
	} else {
		log.Infof("[JobQueue] Webhook event %s already processed, nothing to do", payload.EventID)
	}
	return nil
}
