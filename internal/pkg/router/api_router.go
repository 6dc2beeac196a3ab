package router

import (
	"strings"

	apiv1 "github.com/MarcoHuber/SaaSKit/internal/api/v1"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Provider webhooks are exempt from rate limiting: bursts of deliveries
	// are normal after an outage and dropping them delays reconciliation.
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), constants.StripeWebhookSuffix)
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer()
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
