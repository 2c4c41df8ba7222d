package health

import (
	"context"
	"time"

	"github.com/glimte/queue-manager-go/internal/rabbitmq"
)

// Pinger is anything that can tell whether its broker is reachable.
// Consumers, publishers and queue managers of both transports qualify.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// PingChecker turns a Pinger into a Checker
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewPingChecker creates a checker bounded by timeout
func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, timeout: timeout}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result := CheckResult{Name: c.name, Timestamp: start}
	if c.pinger.Ping(ctx) {
		result.Status = StatusHealthy
		result.Message = "broker reachable"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "broker unreachable"
	}
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"response_time_ms": result.Duration.Milliseconds()}
	return result
}

// ConsumerState is the part of a consumer the ConsumerChecker reads
type ConsumerState interface {
	State() rabbitmq.State
	QueueName() string
	ConsumerTag() string
}

// ConsumerChecker reports the lifecycle state of a supervised consumer.
// Consuming is healthy, any reconnect phase is degraded, and a stopped or
// stopping consumer is unhealthy.
type ConsumerChecker struct {
	name     string
	consumer ConsumerState
}

// NewConsumerChecker creates a consumer state checker
func NewConsumerChecker(name string, consumer ConsumerState) *ConsumerChecker {
	return &ConsumerChecker{name: name, consumer: consumer}
}

func (c *ConsumerChecker) Name() string {
	return c.name
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.consumer.State()

	result := CheckResult{
		Name:      c.name,
		Timestamp: start,
		Message:   "consumer is " + state.String(),
		Details: map[string]interface{}{
			"state":        state.String(),
			"queue":        c.consumer.QueueName(),
			"consumer_tag": c.consumer.ConsumerTag(),
		},
	}

	switch state {
	case rabbitmq.StateConsuming:
		result.Status = StatusHealthy
	case rabbitmq.StateClosing, rabbitmq.StateStopped:
		result.Status = StatusUnhealthy
	default:
		result.Status = StatusDegraded
	}

	result.Duration = time.Since(start)
	return result
}
