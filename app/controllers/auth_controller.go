package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/app/repository"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/billing"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/entitlements"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/env"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/hcaptcha"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/mail"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/session"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/usercontext"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// AuthController handles registration, login and account activation.
type AuthController struct {
	users   repository.UserRepository
	mailer  mail.Mailer
	billing *billing.Service
}

func NewAuthController(users repository.UserRepository, mailer mail.Mailer, billingSvc *billing.Service) *AuthController {
	return &AuthController{users: users, mailer: mailer, billing: billingSvc}
}

type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an inactive account and sends the activation mail.
func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Captcha is only enforced when a secret is configured
	if env.GetEnv("HCAPTCHA_SECRET", "") != "" {
		ok, err := hcaptcha.Verify(req.CaptchaToken)
		if err != nil || !ok {
			log.Warnf("[Auth] captcha verification failed: %v", err)
			return badRequest(c, "captcha verification failed")
		}
	}

	user, err := models.CreateUser(req.Username, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := user.GenerateActivationToken(); err != nil {
		log.Errorf("[Auth] failed to generate activation token: %v", err)
		return internalError(c)
	}

	if err := ac.users.Create(user); err != nil {
		// Do not reveal whether the email is taken beyond the conflict itself.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fiber.Map{"code": "VALIDATION_ERROR", "message": "registration failed"},
		})
	}

	activationURL := fmt.Sprintf("%s/api/v1/auth/verify?token=%s",
		strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080"), "/"),
		user.ActivationToken,
	)
	body := fmt.Sprintf("<p>Welcome to SaaSKit, %s!</p><p>Confirm your account: <a href=%q>%s</a></p>",
		user.Name, activationURL, activationURL)
	if err := ac.mailer.Send(user.Email, "Confirm your SaaSKit account", body); err != nil {
		log.Errorf("[Auth] failed to send activation mail to %s: %v", user.Email, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user": fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email},
	})
}

// HandleLogin authenticates by email and password and establishes a session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// notice: in production you should not inform the user
	// with detailed messages about login failures
	user, err := ac.users.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return unauthorized(c, "invalid credentials")
	}
	if !models.CheckPasswordHash(req.Password, user.Password) {
		return unauthorized(c, "invalid credentials")
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": fiber.Map{"code": "VALIDATION_ERROR", "message": "account is not activated"},
		})
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		log.Errorf("[Auth] session unavailable: %v", err)
		return internalError(c)
	}
	sess.Set(AUTH_KEY, true)
	sess.Set(USER_ID, user.ID)
	sess.Set(USER_NAME, user.Name)
	sess.Set(USER_IS_ADMIN, user.Role == models.ROLE_ADMIN)
	if err := sess.Save(); err != nil {
		log.Errorf("[Auth] failed to save session: %v", err)
		return internalError(c)
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := ac.users.Update(user); err != nil {
		log.Warnf("[Auth] failed to update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"user": fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email, "is_admin": user.Role == models.ROLE_ADMIN},
	})
}

// HandleLogout destroys the current session.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			log.Warnf("[Auth] failed to destroy session: %v", err)
		}
	}
	c.Locals(FROM_PROTECTED, false)
	return c.JSON(fiber.Map{"ok": true})
}

// HandleVerify activates an account via the emailed token.
func (ac *AuthController) HandleVerify(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return badRequest(c, "activation token is required")
	}

	user, err := ac.users.GetByActivationToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": fiber.Map{"code": "NOT_FOUND", "message": "invalid activation token"},
			})
		}
		return internalError(c)
	}

	user.Status = models.STATUS_ACTIVE
	user.ActivationToken = ""
	if err := ac.users.Update(user); err != nil {
		log.Errorf("[Auth] failed to activate user %d: %v", user.ID, err)
		return internalError(c)
	}

	return c.JSON(fiber.Map{"activated": true})
}

// HandleMe returns the logged-in user's profile together with the current
// subscription state.
func (ac *AuthController) HandleMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := ac.users.GetByID(userCtx.UserID)
	if err != nil {
		return unauthorized(c, "login required")
	}

	sub, err := ac.billing.GetUserSubscription(user.ID)
	if err != nil {
		log.Warnf("[Auth] failed to load subscription for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"user": fiber.Map{
			"id":       user.ID,
			"name":     user.Name,
			"email":    user.Email,
			"avatar":   utils.GetGravatarURL(user.Email, 200),
			"is_admin": user.Role == models.ROLE_ADMIN,
			"plan":     userCtx.Plan,
		},
		"features":     entitlements.ForPlan(entitlements.Normalize(userCtx.Plan)),
		"subscription": sub,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fiber.Map{"code": "VALIDATION_ERROR", "message": msg},
	})
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{"code": "UNAUTHORIZED", "message": msg},
	})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "INTERNAL_ERROR", "message": "something went wrong"},
	})
}
