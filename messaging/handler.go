package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInterrupted is the termination signal a handler returns when the
// operator wants the consumer to stop. The delivery being processed is
// rejected without requeue and the consumer shuts down gracefully.
var ErrInterrupted = errors.New("messaging: consumer interrupted")

// Properties carries the metadata that travels with a message body.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         map[string]interface{}
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string

	// Delivery metadata, filled in for inbound messages only.
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	ConsumerTag string
}

// Handler processes a single message body with its properties.
type Handler interface {
	Handle(ctx context.Context, body []byte, props Properties) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, body []byte, props Properties) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, body []byte, props Properties) error {
	return f(ctx, body, props)
}

// BodyHandlerFunc adapts a function that only cares about the message body.
type BodyHandlerFunc func(ctx context.Context, body []byte) error

// Handle implements Handler
func (f BodyHandlerFunc) Handle(ctx context.Context, body []byte, _ Properties) error {
	return f(ctx, body)
}

// LogHandler returns a handler that logs each message body and acknowledges it.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return HandlerFunc(func(ctx context.Context, body []byte, props Properties) error {
		logger.InfoContext(ctx, "message received",
			"body", string(body),
			"deliveryTag", props.DeliveryTag,
			"redelivered", props.Redelivered,
			"routingKey", props.RoutingKey,
		)
		return nil
	})
}

// Interrupt wraps err so that IsInterrupt reports true for it.
// A nil err yields ErrInterrupted itself.
func Interrupt(err error) error {
	if err == nil {
		return ErrInterrupted
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}

// IsInterrupt reports whether err carries the termination signal.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// SafeHandle invokes h and converts a panic into an error so that a broken
// handler is treated like any other processing failure.
func SafeHandle(ctx context.Context, h Handler, body []byte, props Properties) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in message handler: %v", r)
		}
	}()
	return h.Handle(ctx, body, props)
}
