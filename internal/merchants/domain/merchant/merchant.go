// Package merchant models the businesses that accept subscription payments
// through the gateway, including their webhook endpoint configuration.
package merchant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/settlr/settlr/internal/shared/domain"
)

var (
	// ErrWebhookNotConfigured is returned when delivering to a merchant
	// without an active webhook endpoint.
	ErrWebhookNotConfigured = errors.New("merchant has no active webhook endpoint")
)

// WebhookConfig is a merchant's event delivery endpoint. Events lists the
// subscribed event types; an empty list means all forwarded types.
type WebhookConfig struct {
	URL    string
	Secret string
	Events []string
	Active bool
}

// Wants reports whether the endpoint subscribes to the event type.
func (c WebhookConfig) Wants(eventType string) bool {
	if !c.Active || c.URL == "" {
		return false
	}
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Merchant is a gateway account. The wallet address receives settlement
// minus the platform fee.
type Merchant struct {
	domain.BaseAggregateRoot

	name          string
	email         string
	walletAddress string
	apiKeyHash    string
	webhook       WebhookConfig
}

// NewParams carries the fields for a new merchant account.
type NewParams struct {
	Name          string
	Email         string
	WalletAddress string
	APIKeyHash    string
}

// New creates a merchant with no webhook configured.
func New(params NewParams) (*Merchant, error) {
	if params.Name == "" {
		return nil, errors.New("merchant name is required")
	}
	if !strings.Contains(params.Email, "@") {
		return nil, fmt.Errorf("invalid merchant email %q", params.Email)
	}
	if params.WalletAddress == "" {
		return nil, errors.New("merchant wallet address is required")
	}
	if params.APIKeyHash == "" {
		return nil, errors.New("merchant api key hash is required")
	}

	return &Merchant{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		name:              params.Name,
		email:             params.Email,
		walletAddress:     params.WalletAddress,
		apiKeyHash:        params.APIKeyHash,
	}, nil
}

// RehydrateParams carries a persisted merchant row.
type RehydrateParams struct {
	ID            uuid.UUID
	Name          string
	Email         string
	WalletAddress string
	APIKeyHash    string
	Webhook       WebhookConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
}

// Rehydrate reconstructs a merchant from storage.
func Rehydrate(params RehydrateParams) *Merchant {
	return &Merchant{
		BaseAggregateRoot: domain.RehydrateBaseAggregateRoot(
			domain.RehydrateBaseEntity(params.ID, params.CreatedAt, params.UpdatedAt),
			params.Version,
		),
		name:          params.Name,
		email:         params.Email,
		walletAddress: params.WalletAddress,
		apiKeyHash:    params.APIKeyHash,
		webhook:       params.Webhook,
	}
}

func (m *Merchant) Name() string           { return m.name }
func (m *Merchant) Email() string          { return m.email }
func (m *Merchant) WalletAddress() string  { return m.walletAddress }
func (m *Merchant) APIKeyHash() string     { return m.apiKeyHash }
func (m *Merchant) Webhook() WebhookConfig { return m.webhook }

// ConfigureWebhook sets or replaces the delivery endpoint. The secret signs
// every delivery; an empty secret disables signing and is rejected.
func (m *Merchant) ConfigureWebhook(cfg WebhookConfig) error {
	if cfg.URL != "" {
		parsed, err := url.Parse(cfg.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("invalid webhook url %q", cfg.URL)
		}
	}
	if cfg.Active {
		if cfg.URL == "" {
			return errors.New("webhook url is required to activate deliveries")
		}
		if cfg.Secret == "" {
			return errors.New("webhook secret is required to activate deliveries")
		}
	}

	m.webhook = cfg
	m.Touch()
	return nil
}

// DisableWebhook stops deliveries without discarding the endpoint.
func (m *Merchant) DisableWebhook() {
	m.webhook.Active = false
	m.Touch()
}

// WebhookTarget returns the endpoint and secret for a delivery, or
// ErrWebhookNotConfigured when the merchant does not receive the event.
func (m *Merchant) WebhookTarget(eventType string) (url, secret string, err error) {
	if !m.webhook.Wants(eventType) {
		return "", "", ErrWebhookNotConfigured
	}
	return m.webhook.URL, m.webhook.Secret, nil
}
