package billing

import (
	"github.com/MarcoHuber/SaaSKit/internal/pkg/env"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Config carries the non-secret settings the billing service needs.
type Config struct {
	// BaseURL is the public origin used to build checkout and portal
	// return URLs, e.g. "https://app.example.com".
	BaseURL string
}

// Service coordinates the payment processor, the local billing tables and the
// webhook ledger. All dependencies are injected; there is no package state.
type Service struct {
	repo      Repository
	processor ProcessorClient
	validate  *validator.Validate
	baseURL   string
}

// NewService wires a billing service from explicit dependencies.
func NewService(repo Repository, processor ProcessorClient, cfg Config) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		validate:  validator.New(),
		baseURL:   cfg.BaseURL,
	}
}

// NewServiceFromDB builds the default production service: GORM repository,
// Stripe client and base URL from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		NewRepository(db),
		NewStripeClientFromEnv(),
		Config{BaseURL: env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")},
	)
}
