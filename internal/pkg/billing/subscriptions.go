package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"gorm.io/gorm"
)

// SyncSubscription pulls the current subscription state from the payment
// processor and upserts it locally. The processor is the source of truth:
// regardless of which (possibly stale or reordered) webhook triggered the
// sync, the row converges to the freshly fetched state.
func (s *Service) SyncSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	remote, err := s.processor.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return nil, apiError(fmt.Sprintf("failed to sync subscription %s", subscriptionID), err)
	}

	status := string(remote.Status)
	if !models.IsValidSubscriptionStatus(status) {
		return nil, apperr.Validation(fmt.Sprintf("invalid subscription status: %s", status))
	}

	if remote.Customer == nil {
		return nil, apiError(fmt.Sprintf("subscription %s has no customer", subscriptionID), nil)
	}
	if len(remote.Items.Data) == 0 || remote.Items.Data[0].Price == nil {
		return nil, apiError(fmt.Sprintf("no price found in subscription %s", subscriptionID), nil)
	}
	priceID := remote.Items.Data[0].Price.ID

	// Newer API versions signal a scheduled cancellation via cancel_at
	// instead of the cancel_at_period_end flag alone.
	hasScheduledCancellation := remote.CancelAt > 0

	var sub *models.Subscription
	err = s.repo.WithTx(func(tx Repository) error {
		customer, err := tx.GetCustomerByStripeID(remote.Customer.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apiError(fmt.Sprintf("customer not found for subscription %s", subscriptionID), nil)
			}
			return apperr.Wrap(apperr.CodeDatabase, 500, "failed to load customer", err)
		}

		plan, err := tx.GetActivePlanByPriceID(priceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errPlanNotFound(priceID)
			}
			return apperr.Wrap(apperr.CodeDatabase, 500, "failed to load plan", err)
		}

		canceledAt := unixTimePtr(remote.CanceledAt)
		if canceledAt == nil && hasScheduledCancellation {
			// Cancellation requested, effective at the cancel_at date.
			now := time.Now()
			canceledAt = &now
		}

		sub = &models.Subscription{
			UserID:               customer.UserID,
			CustomerID:           &customer.ID,
			PlanID:               plan.ID,
			StripeSubscriptionID: remote.ID,
			Status:               status,
			CurrentPeriodStart:   unixTimePtr(remote.CurrentPeriodStart),
			CurrentPeriodEnd:     unixTimePtr(remote.CurrentPeriodEnd),
			CancelAtPeriodEnd:    hasScheduledCancellation || remote.CancelAtPeriodEnd,
			CanceledAt:           canceledAt,
			EndedAt:              unixTimePtr(remote.EndedAt),
			TrialStart:           unixTimePtr(remote.TrialStart),
			TrialEnd:             unixTimePtr(remote.TrialEnd),
		}
		if err := tx.UpsertSubscription(sub); err != nil {
			return apperr.Wrap(apperr.CodeDatabase, 500, "failed to upsert subscription", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetUserSubscription returns the user's most recent subscription, or nil
// when the user has none. Absence of a subscription is a normal state for
// free-tier users, not an error.
func (s *Service) GetUserSubscription(userID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetLatestSubscriptionByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load subscription", err)
	}
	return sub, nil
}

// GetSubscriptionByStripeID looks up a subscription by its processor id.
func (s *Service) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByStripeID(stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSubscriptionNotFound(stripeSubscriptionID)
		}
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load subscription", err)
	}
	return sub, nil
}

// HasActivePremium reports whether the user currently holds an active paid
// subscription.
func (s *Service) HasActivePremium(userID uint) (bool, error) {
	sub, err := s.GetUserSubscription(userID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Status == models.SubscriptionStatusActive, nil
}

func unixTimePtr(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0)
	return &t
}

func unixTime(v int64) time.Time {
	return time.Unix(v, 0)
}
