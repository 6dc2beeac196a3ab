package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/cache"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	plansCacheKey = "billing:plans:active"
	plansCacheTTL = 5 * time.Minute
)

// CheckoutInput is the user-supplied data for starting a subscription
// checkout.
type CheckoutInput struct {
	UserID  uint   `validate:"required"`
	Email   string `validate:"required,email"`
	Name    string
	PriceID string `validate:"required"`
}

// CheckoutSession is what the caller needs to redirect the user into the
// hosted checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSubscriptionCheckout creates the billing customer if needed,
// verifies the requested price maps to an active plan and opens a hosted
// checkout session.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, 400, "invalid checkout data", err)
	}

	customer, err := s.GetOrCreateCustomer(ctx, in.UserID, in.Email, in.Name)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetActivePlanByPriceID(in.PriceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errPlanNotFound(in.PriceID)
		}
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load plan", err)
	}

	session, err := s.processor.CreateCheckoutSession(ctx, CheckoutSessionParams{
		CustomerID: customer.StripeCustomerID,
		PriceID:    in.PriceID,
		SuccessURL: s.baseURL + "/success",
		CancelURL:  s.baseURL + "/cancel",
		UserID:     in.UserID,
	})
	if err != nil {
		return nil, apiError("failed to create subscription checkout", err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession opens the hosted billing portal for an existing
// customer. Users who never subscribed have no customer and get a
// not-found error.
func (s *Service) CreatePortalSession(ctx context.Context, userID uint) (string, error) {
	customer, err := s.GetCustomerByUserID(userID)
	if err != nil {
		return "", err
	}

	session, err := s.processor.CreatePortalSession(ctx, customer.StripeCustomerID, s.baseURL)
	if err != nil {
		return "", apiError("failed to create portal session", err)
	}
	return session.URL, nil
}

// ListPlans returns all active plans ordered for display. Results are
// cached briefly since the catalog changes rarely but is read on every
// pricing page view.
func (s *Service) ListPlans() ([]models.Plan, error) {
	if cached, err := cache.Get(plansCacheKey); err == nil && cached != "" {
		var plans []models.Plan
		if err := json.Unmarshal([]byte(cached), &plans); err == nil {
			return plans, nil
		}
		log.Warnf("[Billing] discarding undecodable plan cache entry")
	}

	plans, err := s.repo.ListActivePlans()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load plans", err)
	}

	if encoded, err := json.Marshal(plans); err == nil {
		if err := cache.Set(plansCacheKey, string(encoded), plansCacheTTL); err != nil {
			log.Warnf("[Billing] failed to cache plans: %v", err)
		}
	}
	return plans, nil
}

// InvalidatePlanCache drops the cached plan catalog, for use after admin
// plan changes.
func InvalidatePlanCache() {
	if err := cache.Delete(plansCacheKey); err != nil {
		log.Warnf("[Billing] failed to invalidate plan cache: %v", err)
	}
}

// GetPlan returns an active plan by its processor price id.
func (s *Service) GetPlan(priceID string) (*models.Plan, error) {
	plan, err := s.repo.GetActivePlanByPriceID(priceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errPlanNotFound(priceID)
		}
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load plan", err)
	}
	return plan, nil
}
