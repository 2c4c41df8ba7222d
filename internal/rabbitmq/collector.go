package rabbitmq

import "time"

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked       Outcome = "acked"
	OutcomeRequeued    Outcome = "requeued"
	OutcomeRejected    Outcome = "rejected"
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeDropped means no ack was sent because the channel that produced
	// the delivery is gone.
	OutcomeDropped Outcome = "dropped"
)

// MetricsCollector receives consumer lifecycle notifications. Calls happen on
// the consumer's control loop and must not block.
type MetricsCollector interface {
	StateChanged(from, to State)
	DeliverySettled(outcome Outcome)
	ReconnectScheduled(delay time.Duration)
}

type nopCollector struct{}

func (nopCollector) StateChanged(State, State)         {}
func (nopCollector) DeliverySettled(Outcome)           {}
func (nopCollector) ReconnectScheduled(time.Duration) {}
