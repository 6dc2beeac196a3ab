package counter

import (
	"context"
	"strconv"

	"github.com/MarcoHuber/SaaSKit/internal/pkg/cache"
)

const (
	webhookOutcomesKey   = "billing:counters:webhook_outcomes"
	webhookEventTypesKey = "billing:counters:webhook_types"
)

// Webhook outcome labels.
const (
	OutcomeReceived         = "received"
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeFailed           = "failed"
	OutcomeInvalidSignature = "invalid_signature"
)

// AddWebhookOutcome increments the counter for one webhook delivery outcome.
// Counters live in Redis so they survive restarts and aggregate across
// instances; a lost increment is acceptable, billing state never depends on
// these numbers.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// AddWebhookEventType increments the per-event-type delivery counter.
func AddWebhookEventType(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookEventTypesKey, eventType, 1).Err()
}

// WebhookOutcomes returns the accumulated outcome counters.
func WebhookOutcomes() (map[string]int64, error) {
	return readHash(webhookOutcomesKey)
}

// WebhookEventTypes returns the accumulated per-event-type counters.
func WebhookEventTypes() (map[string]int64, error) {
	return readHash(webhookEventTypesKey)
}

// ResetWebhookCounters drops all webhook counters.
func ResetWebhookCounters() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, webhookOutcomesKey, webhookEventTypesKey).Err()
}

func readHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[field] = v
	}
	return out, nil
}
