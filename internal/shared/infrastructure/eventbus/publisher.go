package eventbus

import (
	"context"
)

// Publisher hands serialized domain events to the message broker. The
// outbox relay is the only production caller; payloads are already the
// exact bytes to put on the wire.
type Publisher interface {
	// Publish sends one message under the given routing key. A nil return
	// means the broker accepted the message.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close releases the broker connection.
	Close() error
}
