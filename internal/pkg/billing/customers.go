package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"gorm.io/gorm"
)

// GetOrCreateCustomer returns the local customer record for the user,
// creating the processor-side customer and the local row on first use.
// The remote customer is created before the local insert so a crash between
// the two steps leaves at worst an orphaned processor customer, never a
// local row pointing at nothing.
func (s *Service) GetOrCreateCustomer(ctx context.Context, userID uint, email, name string) (*models.Customer, error) {
	customer, err := s.repo.GetCustomerByUserID(userID)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load customer", err)
	}

	if email == "" {
		return nil, apperr.Validation("email is required to create a billing customer")
	}

	remote, err := s.processor.CreateCustomer(ctx, email, name)
	if err != nil {
		return nil, apiError(fmt.Sprintf("failed to create customer for user %d", userID), err)
	}

	customer = &models.Customer{
		UserID:           userID,
		Email:            email,
		Name:             name,
		StripeCustomerID: remote.ID,
	}
	if err := s.repo.CreateCustomer(customer); err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to store customer", err)
	}
	return customer, nil
}

// GetCustomerByUserID returns the local customer for a user or a not-found
// error when the user has never entered billing.
func (s *Service) GetCustomerByUserID(userID uint) (*models.Customer, error) {
	customer, err := s.repo.GetCustomerByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errCustomerNotFound(userID)
		}
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load customer", err)
	}
	return customer, nil
}
