package controllers

import (
	"github.com/MarcoHuber/SaaSKit/internal/pkg/apperr"
	"github.com/gofiber/fiber/v2"
)

// Shared session/locals keys.
const (
	AUTH_KEY       string = "authenticated"
	USER_ID        string = "user_id"
	USER_NAME      string = "username"
	USER_IS_ADMIN  string = "isAdmin"
	FROM_PROTECTED string = "from_protected"
)

// respondError maps application errors to a JSON error body with the status
// the error carries. Anything without an application code is a 500 with a
// generic message so internals never leak to clients.
func respondError(c *fiber.Ctx, err error) error {
	if appErr, ok := apperr.From(err); ok {
		return c.Status(appErr.Status).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "INTERNAL_ERROR",
			"message": "something went wrong",
		},
	})
}
