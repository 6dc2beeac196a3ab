package constants

// Static route constants
const (
	PublicRoute = "/"
	APIRoute    = "/api"
	// OAuth browser flow entry points
	OAuthRoute         = "/auth/:provider"
	OAuthCallbackRoute = "/auth/:provider/callback"
	// Stripe webhook path suffix, kept out of API rate limiting
	StripeWebhookSuffix = "/stripe/webhook"
)
