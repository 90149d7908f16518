package merchant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMerchant(t *testing.T) *Merchant {
	t.Helper()
	m, err := New(NewParams{
		Name:          "Acme Subscriptions",
		Email:         "ops@acme.example",
		WalletAddress: "AcmeWa11etXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		APIKeyHash:    "sha256:abc",
	})
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := New(NewParams{Email: "ops@acme.example", WalletAddress: "w", APIKeyHash: "h"})
	assert.Error(t, err)

	_, err = New(NewParams{Name: "Acme", Email: "not-an-email", WalletAddress: "w", APIKeyHash: "h"})
	assert.Error(t, err)

	_, err = New(NewParams{Name: "Acme", Email: "ops@acme.example", APIKeyHash: "h"})
	assert.Error(t, err)
}

func TestConfigureWebhook(t *testing.T) {
	m := newTestMerchant(t)

	err := m.ConfigureWebhook(WebhookConfig{
		URL:    "https://acme.example/hooks/settlr",
		Secret: "whsec_123",
		Events: []string{"subscription.renewed"},
		Active: true,
	})
	require.NoError(t, err)

	url, secret, err := m.WebhookTarget("subscription.renewed")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example/hooks/settlr", url)
	assert.Equal(t, "whsec_123", secret)

	// Not subscribed to this event type.
	_, _, err = m.WebhookTarget("subscription.expired")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

func TestConfigureWebhookValidation(t *testing.T) {
	m := newTestMerchant(t)

	err := m.ConfigureWebhook(WebhookConfig{URL: "ftp://acme.example", Secret: "s", Active: true})
	assert.Error(t, err)

	err = m.ConfigureWebhook(WebhookConfig{Secret: "s", Active: true})
	assert.Error(t, err)

	err = m.ConfigureWebhook(WebhookConfig{URL: "https://acme.example/h", Active: true})
	assert.Error(t, err)

	// Inactive config can be saved without a secret.
	err = m.ConfigureWebhook(WebhookConfig{URL: "https://acme.example/h"})
	assert.NoError(t, err)
}

func TestEmptyEventListReceivesAllForwardedTypes(t *testing.T) {
	m := newTestMerchant(t)
	require.NoError(t, m.ConfigureWebhook(WebhookConfig{
		URL:    "https://acme.example/hooks",
		Secret: "whsec_123",
		Active: true,
	}))

	for _, eventType := range []string{"subscription.renewed", "subscription.expired", "subscription.cancelled"} {
		_, _, err := m.WebhookTarget(eventType)
		assert.NoError(t, err, eventType)
	}
}

func TestDisableWebhook(t *testing.T) {
	m := newTestMerchant(t)
	require.NoError(t, m.ConfigureWebhook(WebhookConfig{
		URL:    "https://acme.example/hooks",
		Secret: "whsec_123",
		Active: true,
	}))

	m.DisableWebhook()

	_, _, err := m.WebhookTarget("subscription.renewed")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
	assert.Equal(t, "https://acme.example/hooks", m.Webhook().URL)
}
