package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology describes what a consumer expects to exist on the broker.
// It is set at construction and never mutated.
type Topology struct {
	Exchange       string
	ExchangeKind   string
	Queue          string
	QueueArguments amqp.Table
	RoutingKey     string
	// Durable applies to the declared exchange and named queue.
	Durable bool
	// Declare false means the caller guarantees the topology already exists.
	Declare bool
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding. An empty Queue binds the
// queue the server named in the preceding declaration.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// StepKind identifies one declare/bind operation.
type StepKind int

const (
	StepDeclareExchange StepKind = iota
	StepDeclareQueue
	StepBindQueue
)

func (k StepKind) String() string {
	switch k {
	case StepDeclareExchange:
		return "declare_exchange"
	case StepDeclareQueue:
		return "declare_queue"
	case StepBindQueue:
		return "bind_queue"
	}
	return "unknown"
}

// Step is one operation of the negotiation sequence. Exactly one of the
// declaration fields is set, matching Kind.
type Step struct {
	Kind     StepKind
	Exchange *ExchangeDeclaration
	Queue    *QueueDeclaration
	Binding  *Binding
}

// Plan returns the ordered declare sequence: exchange, queue, bind. Steps
// whose topology field is absent are skipped, and the whole plan is empty
// when Declare is false.
func (t Topology) Plan() []Step {
	if !t.Declare {
		return nil
	}

	var steps []Step

	if t.Exchange != "" {
		kind := t.ExchangeKind
		if kind == "" {
			kind = amqp.ExchangeDirect
		}
		steps = append(steps, Step{
			Kind: StepDeclareExchange,
			Exchange: &ExchangeDeclaration{
				Name:    t.Exchange,
				Type:    kind,
				Durable: t.Durable,
			},
		})
	}

	switch {
	case t.Queue != "":
		steps = append(steps, Step{
			Kind: StepDeclareQueue,
			Queue: &QueueDeclaration{
				Name:      t.Queue,
				Durable:   t.Durable,
				Arguments: t.QueueArguments,
			},
		})
	case t.Exchange != "":
		// Anonymous, exclusive, broker-named queue.
		steps = append(steps, Step{
			Kind: StepDeclareQueue,
			Queue: &QueueDeclaration{
				Exclusive: true,
				Arguments: t.QueueArguments,
			},
		})
	}

	if t.Exchange != "" {
		steps = append(steps, Step{
			Kind: StepBindQueue,
			Binding: &Binding{
				Queue:      t.Queue,
				Exchange:   t.Exchange,
				RoutingKey: t.RoutingKey,
			},
		})
	}

	return steps
}

// Run executes the step on ch. queue is the queue name resolved so far on
// this channel; the returned name is the one to carry into later steps.
func (s Step) Run(ch Channel, queue string) (string, error) {
	switch s.Kind {
	case StepDeclareExchange:
		if err := declareExchange(ch, *s.Exchange); err != nil {
			return queue, &TopologyError{
				Component: "exchange",
				Name:      s.Exchange.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		return queue, nil

	case StepDeclareQueue:
		q, err := declareQueue(ch, *s.Queue)
		if err != nil {
			return queue, &TopologyError{
				Component: "queue",
				Name:      s.Queue.Name,
				Op:        "declare",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		return q.Name, nil

	case StepBindQueue:
		binding := *s.Binding
		if binding.Queue == "" {
			binding.Queue = queue
		}
		if err := bindQueue(ch, binding); err != nil {
			return queue, &TopologyError{
				Component: "binding",
				Name:      fmt.Sprintf("%s->%s", binding.Exchange, binding.Queue),
				Op:        "bind",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		return queue, nil
	}

	return queue, fmt.Errorf("%w: unknown step %d", ErrInvalidConfiguration, s.Kind)
}

// declareExchange declares an exchange on the given channel
func declareExchange(ch Channel, exchange ExchangeDeclaration) error {
	return ch.ExchangeDeclare(
		exchange.Name,
		exchange.Type,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
}

// declareQueue declares a queue on the given channel
func declareQueue(ch Channel, queue QueueDeclaration) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
}

// bindQueue binds a queue to an exchange on the given channel
func bindQueue(ch Channel, binding Binding) error {
	return ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
}
