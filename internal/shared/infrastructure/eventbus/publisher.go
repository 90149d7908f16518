// Package eventbus moves domain events between the billing engine and its
// background consumers, over RabbitMQ in production or in process locally.
package eventbus

import "context"

// Publisher sends serialized domain events to a message broker.
type Publisher interface {
	// Publish sends a message with the given routing key.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}
