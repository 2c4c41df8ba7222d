package messaging

import "context"

// Consumer receives messages from a broker and hands each one to a Handler.
type Consumer interface {
	// StartListening blocks until the consumer is stopped, interrupted or
	// fails to make its first connection.
	StartListening(ctx context.Context, handler Handler) error

	// Stop shuts the consumer down gracefully. Calling it twice is a no-op.
	Stop(ctx context.Context) error

	// Ping reports whether the broker is reachable
	Ping(ctx context.Context) bool
}

// Publisher sends messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, body []byte, props Properties) error
	Ping(ctx context.Context) bool
}

// Transport builds the consumer and publisher of one broker backend
type Transport interface {
	Consumer() (Consumer, error)
	Publisher() (Publisher, error)
	Name() string
}
