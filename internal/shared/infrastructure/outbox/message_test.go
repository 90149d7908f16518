package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/settlr/internal/shared/domain"
)

type stubEvent struct {
	domain.BaseEvent
	Amount int64 `json:"amount"`
}

func newStubEvent(routingKey string) *stubEvent {
	return &stubEvent{
		BaseEvent: domain.NewBaseEvent(uuid.New(), "subscription", routingKey),
		Amount:    10_000_000,
	}
}

func TestNewMessage(t *testing.T) {
	t.Run("serializes event payload and metadata", func(t *testing.T) {
		event := newStubEvent("subscription.renewed")

		msg, err := NewMessage(event)
		require.NoError(t, err)

		assert.Equal(t, event.EventID(), msg.EventID)
		assert.Equal(t, event.AggregateID(), msg.AggregateID)
		assert.Equal(t, "subscription", msg.AggregateType)
		assert.Equal(t, "subscription.renewed", msg.RoutingKey)
		assert.Equal(t, "subscription.renewed", msg.EventType)
		assert.False(t, msg.IsPublished())

		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, float64(10_000_000), payload["amount"])
	})
}

func TestMessage_CanRetry(t *testing.T) {
	msg := &Message{RetryCount: 2}

	assert.True(t, msg.CanRetry(3))
	assert.False(t, msg.CanRetry(2))
	assert.False(t, msg.CanRetry(0))
}

func TestMessage_IsPublished(t *testing.T) {
	msg := &Message{}
	assert.False(t, msg.IsPublished())

	now := time.Now()
	msg.PublishedAt = &now
	assert.True(t, msg.IsPublished())
}
