package router

import (
	"github.com/MarcoHuber/SaaSKit/app/controllers"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/constants"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/middleware"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/oauth"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
	gothfiber "github.com/shareed2k/goth_fiber"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get(constants.PublicRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"name": "SaaSKit", "status": "ok"})
	})

	// Social OAuth (browser flow)
	app.Get(constants.OAuthRoute, gothfiber.BeginAuthHandler)
	app.Get(constants.OAuthCallbackRoute, controllers.HandleOAuthCallback)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
