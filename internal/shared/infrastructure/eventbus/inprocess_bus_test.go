package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessEventBus_Publish(t *testing.T) {
	t.Run("dispatches synchronously to registered consumers", func(t *testing.T) {
		bus := NewInProcessEventBus(nil)
		consumer := &testConsumer{types: []string{"subscription.renewed"}}
		bus.RegisterConsumer(consumer)

		event := ConsumedEvent{
			EventID:    uuid.New(),
			RoutingKey: "subscription.renewed",
		}
		payload, err := json.Marshal(event)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(context.Background(), "subscription.renewed", payload))
		require.Len(t, consumer.handled, 1)
		assert.Equal(t, event.EventID, consumer.handled[0].EventID)
	})

	t.Run("fills routing key from publish argument", func(t *testing.T) {
		bus := NewInProcessEventBus(nil)
		consumer := &testConsumer{types: []string{"subscription.expired"}}
		bus.RegisterConsumer(consumer)

		payload, err := json.Marshal(map[string]any{"event_id": uuid.New()})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(context.Background(), "subscription.expired", payload))
		require.Len(t, consumer.handled, 1)
		assert.Equal(t, "subscription.expired", consumer.handled[0].RoutingKey)
	})

	t.Run("malformed payload is dropped without error", func(t *testing.T) {
		bus := NewInProcessEventBus(nil)
		consumer := &testConsumer{types: []string{"subscription.renewed"}}
		bus.RegisterConsumer(consumer)

		assert.NoError(t, bus.Publish(context.Background(), "subscription.renewed", []byte("not json")))
		assert.Empty(t, consumer.handled)
	})
}
