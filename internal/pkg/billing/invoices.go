package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"gorm.io/gorm"
)

// SyncInvoice pulls the current invoice state from the payment processor and
// upserts it locally, keyed on the processor invoice id. Like subscription
// sync, the freshly fetched state wins regardless of webhook ordering.
func (s *Service) SyncInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	remote, err := s.processor.GetInvoice(ctx, invoiceID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return nil, apiError(fmt.Sprintf("failed to sync invoice %s", invoiceID), err)
	}

	if remote.Customer == nil {
		return nil, apiError(fmt.Sprintf("invoice %s has no customer", invoiceID), nil)
	}

	status := string(remote.Status)
	if status == "" {
		status = "draft"
	}

	var inv *models.Invoice
	err = s.repo.WithTx(func(tx Repository) error {
		customer, err := tx.GetCustomerByStripeID(remote.Customer.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apiError(fmt.Sprintf("customer not found for invoice %s", invoiceID), nil)
			}
			return apperr.Wrap(apperr.CodeDatabase, 500, "failed to load customer", err)
		}

		// An invoice may predate the local subscription row (ordering is
		// not guaranteed); in that case the link stays empty.
		var subscriptionID *uint
		if remote.Subscription != nil {
			sub, err := tx.GetSubscriptionByStripeID(remote.Subscription.ID)
			switch {
			case err == nil:
				subscriptionID = &sub.ID
			case errors.Is(err, gorm.ErrRecordNotFound):
				// keep nil
			default:
				return apperr.Wrap(apperr.CodeDatabase, 500, "failed to load subscription", err)
			}
		}

		inv = &models.Invoice{
			ID:               remote.ID,
			SubscriptionID:   subscriptionID,
			CustomerID:       customer.ID,
			AmountPaid:       remote.AmountPaid,
			AmountDue:        remote.AmountDue,
			Currency:         string(remote.Currency),
			Status:           status,
			HostedInvoiceURL: remote.HostedInvoiceURL,
			InvoicePDF:       remote.InvoicePDF,
			Paid:             status == "paid",
			PeriodStart:      unixTime(remote.PeriodStart),
			PeriodEnd:        unixTime(remote.PeriodEnd),
		}
		if err := tx.UpsertInvoice(inv); err != nil {
			return apperr.Wrap(apperr.CodeDatabase, 500, "failed to upsert invoice", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetUserInvoices returns all invoices for the user's billing customer,
// newest first. A user without a customer record gets a not-found error.
func (s *Service) GetUserInvoices(userID uint) ([]models.Invoice, error) {
	customer, err := s.GetCustomerByUserID(userID)
	if err != nil {
		return nil, err
	}
	invoices, err := s.repo.ListInvoicesByCustomerID(customer.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabase, 500, "failed to load invoices", err)
	}
	return invoices, nil
}
