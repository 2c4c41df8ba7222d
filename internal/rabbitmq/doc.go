// Package rabbitmq keeps a single queue subscription alive across broker
// failures.
//
// This package includes:
//   - Connector and Dialer: open a connection to one endpoint of a failover set
//   - Topology: the declare-exchange, declare-queue, bind sequence
//   - Consumer: the supervised subscription with its explicit state machine
//   - Publisher: one-shot publishing with publisher confirms
//   - QueueManager: push and pop on named queues
//
// A Consumer runs every state change on one goroutine, the caller of
// StartListening. Broker round trips run in the background and report back
// as events, so a handler never races with a reconnect. Deliveries are
// acknowledged on success, requeued on a first failure and rejected on a
// repeated one; a handler returning messaging.ErrInterrupted rejects the
// message and shuts the consumer down.
package rabbitmq
