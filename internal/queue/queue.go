// Package queue is the RabbitMQ event bus the relay listens on. Other
// platform services publish EventMessages here; the event worker consumes
// them and triggers webhook dispatch.
package queue

import (
	"context"
	"fmt"
)

const (
	// EventsQueueName is the work queue every inbound platform event lands on.
	EventsQueueName = "webhook.events"
)

// Publisher publishes event messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EventMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg EventMessage) error

// Consumer consumes event messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for a work queue, e.g.
// dlq.webhook.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
