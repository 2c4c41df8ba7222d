// Package messaging holds the pieces every transport shares.
//
// This package includes:
//   - Handler: the fixed callback contract, a body plus its Properties
//   - ErrInterrupted: the signal a handler returns to stop its consumer
//   - Chain and Interceptor: wrappers run around a handler (logging, timeouts)
//   - Consumer, Publisher and Transport: what the RabbitMQ and Pub/Sub
//     transports implement
//
// A handler's outcome decides what happens to the message. Returning nil
// acknowledges it, returning an error hands it back to the broker, and
// returning ErrInterrupted rejects it and stops consuming:
//
//	handler := messaging.BodyHandlerFunc(func(ctx context.Context, body []byte) error {
//		if bytes.Equal(body, []byte("quit")) {
//			return messaging.Interrupt(nil)
//		}
//		return process(body)
//	})
//
// Handlers that panic are treated as if they had returned an error.
package messaging
