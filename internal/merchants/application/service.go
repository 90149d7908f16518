// Package application exposes merchant account management: registration
// with API key issuance and webhook endpoint configuration.
package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/merchants/domain/merchant"
)

// Service coordinates merchant account operations.
type Service struct {
	merchants merchant.Repository
	logger    *slog.Logger
}

// NewService creates a merchant service.
func NewService(merchants merchant.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{merchants: merchants, logger: logger}
}

// Register carries the fields for a new merchant account.
type Register struct {
	Name          string
	Email         string
	WalletAddress string
}

// Registered is the outcome of a registration. APIKey is returned exactly
// once; only its hash is stored.
type Registered struct {
	Merchant *merchant.Merchant
	APIKey   string
}

// Register creates a merchant account and issues its API key.
func (s *Service) Register(ctx context.Context, cmd Register) (*Registered, error) {
	apiKey, err := newAPIKey()
	if err != nil {
		return nil, err
	}

	m, err := merchant.New(merchant.NewParams{
		Name:          cmd.Name,
		Email:         cmd.Email,
		WalletAddress: cmd.WalletAddress,
		APIKeyHash:    HashAPIKey(apiKey),
	})
	if err != nil {
		return nil, err
	}

	if err := s.merchants.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("saving merchant: %w", err)
	}

	s.logger.Info("merchant registered",
		"merchant_id", m.ID(),
		"name", m.Name(),
	)
	return &Registered{Merchant: m, APIKey: apiKey}, nil
}

// Get loads a merchant account.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	return s.merchants.FindByID(ctx, id)
}

// Authenticate resolves an API key to its merchant account.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*merchant.Merchant, error) {
	return s.merchants.FindByAPIKeyHash(ctx, HashAPIKey(apiKey))
}

// ConfigureWebhook replaces a merchant's webhook endpoint configuration.
func (s *Service) ConfigureWebhook(ctx context.Context, id uuid.UUID, cfg merchant.WebhookConfig) (*merchant.Merchant, error) {
	m, err := s.merchants.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.ConfigureWebhook(cfg); err != nil {
		return nil, err
	}
	if err := s.merchants.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("saving merchant: %w", err)
	}

	s.logger.Info("merchant webhook configured",
		"merchant_id", m.ID(),
		"active", cfg.Active,
	)
	return m, nil
}

// HashAPIKey derives the stored lookup hash for an API key.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return "sk_" + hex.EncodeToString(buf), nil
}
