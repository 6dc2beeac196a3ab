package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MarcoHuber/SaaSKit/app/controllers"
	"github.com/MarcoHuber/SaaSKit/app/repository"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/billing"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/database"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/mail"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/middleware"
)

// APIServer bundles the v1 controllers. All dependencies are wired once at
// startup; nothing here reaches for package-level singletons at request time.
type APIServer struct {
	auth    *controllers.AuthController
	billing *controllers.BillingController
}

// NewAPIServer wires the default production server.
func NewAPIServer() *APIServer {
	db := database.GetDB()
	billingSvc := billing.NewServiceFromDB(db)
	users := repository.NewUserRepository(db)
	mailer := mail.NewFromEnv()

	return &APIServer{
		auth:    controllers.NewAuthController(users, mailer, billingSvc),
		billing: controllers.NewBillingController(billingSvc),
	}
}

// RegisterHandlers attaches all v1 routes to the given router group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ping": "pong"})
	})

	// Auth
	auth := r.Group("/auth")
	auth.Post("/register", s.auth.HandleRegister)
	auth.Post("/login", s.auth.HandleLogin)
	auth.Post("/logout", middleware.RequireAPISessionAuth, s.auth.HandleLogout)
	auth.Get("/verify", s.auth.HandleVerify)
	auth.Get("/me", middleware.RequireAPISessionAuth, s.auth.HandleMe)

	// Billing
	bill := r.Group("/stripe")
	bill.Post("/webhook", s.billing.HandleStripeWebhook)
	bill.Get("/plans", s.billing.HandleListPlans)
	bill.Post("/checkout/subscription", middleware.RequireAPISessionAuth, s.billing.HandleCreateCheckout)
	bill.Post("/portal", middleware.RequireAPISessionAuth, s.billing.HandleCreatePortal)
	bill.Get("/subscription", middleware.RequireAPISessionAuth, s.billing.HandleGetSubscription)
	bill.Get("/invoices", middleware.RequireAPISessionAuth, s.billing.HandleListInvoices)

	// Admin billing operations
	admin := r.Group("/admin/billing", middleware.RequireAPIAdmin)
	admin.Get("/webhooks/metrics", s.billing.HandleAdminWebhookMetrics)
	admin.Get("/webhooks/unprocessed", s.billing.HandleAdminUnprocessedEvents)
	admin.Post("/webhooks/:id/replay", s.billing.HandleAdminReplayEvent)
	admin.Post("/webhooks/sweep", s.billing.HandleAdminReplaySweep)
	admin.Get("/stats", s.billing.HandleAdminStats)
}
