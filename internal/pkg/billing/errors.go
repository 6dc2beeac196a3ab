package billing

import (
	"fmt"

	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
)

// Error constructors for the billing core. All of them produce apperr values
// so controllers can map code/status without knowing billing internals.

func errCustomerNotFound(userID uint) *apperr.Error {
	return apperr.NotFound(fmt.Sprintf("stripe customer not found for user: %d", userID))
}

func errSubscriptionNotFound(subscriptionID string) *apperr.Error {
	return apperr.NotFound(fmt.Sprintf("stripe subscription not found: %s", subscriptionID))
}

func errInvoiceNotFound(invoiceID string) *apperr.Error {
	return apperr.NotFound(fmt.Sprintf("stripe invoice not found: %s", invoiceID))
}

func errPlanNotFound(priceID string) *apperr.Error {
	return apperr.NotFound(fmt.Sprintf("plan not found for price: %s", priceID))
}

func apiError(message string, err error) *apperr.Error {
	return apperr.Wrap(apperr.CodeStripeAPI, 500, message, err)
}

func webhookError(message string, err error) *apperr.Error {
	return apperr.Wrap(apperr.CodeStripeWebhook, 400, message, err)
}
