package rabbitmq

import (
	"log/slog"

	"github.com/glimte/queue-manager-go/internal/rabbitmq"
	"github.com/glimte/queue-manager-go/messaging"
)

// Transport implements messaging.Transport for RabbitMQ. Consumers and
// publishers it builds share one endpoint set and one topology.
type Transport struct {
	endpoints       []string
	topology        rabbitmq.Topology
	consumerOptions []rabbitmq.ConsumerOption
	clientOptions   []rabbitmq.ClientOption
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Topology        rabbitmq.Topology
	ConsumerOptions []rabbitmq.ConsumerOption
	ClientOptions   []rabbitmq.ClientOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithTopology sets the exchange, queue and binding both sides use
func WithTopology(topology rabbitmq.Topology) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Topology = topology
	}
}

// WithConsumerOptions appends consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithClientOptions appends publisher and queue manager options
func WithClientOptions(opts ...rabbitmq.ClientOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ClientOptions = append(cfg.ClientOptions, opts...)
	}
}

// WithLogger sets the logger on every component the transport builds
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, rabbitmq.WithConsumerLogger(logger))
		cfg.ClientOptions = append(cfg.ClientOptions, rabbitmq.WithClientLogger(logger))
	}
}

// WithDialer sets the connection strategy on every component
func WithDialer(dialer rabbitmq.Dialer) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, rabbitmq.WithDialer(dialer))
		cfg.ClientOptions = append(cfg.ClientOptions, rabbitmq.WithClientDialer(dialer))
	}
}

// NewTransport creates a new RabbitMQ transport. Nothing is dialed until a
// component built by it is used.
func NewTransport(endpoints []string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{
		Topology: rabbitmq.Topology{Declare: true},
	}

	for _, opt := range options {
		opt(cfg)
	}

	if len(endpoints) == 0 {
		return nil, rabbitmq.ErrNoEndpoints
	}

	return &Transport{
		endpoints:       append([]string(nil), endpoints...),
		topology:        cfg.Topology,
		consumerOptions: cfg.ConsumerOptions,
		clientOptions:   cfg.ClientOptions,
	}, nil
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "rabbitmq"
}

// Topology returns the shared topology
func (t *Transport) Topology() rabbitmq.Topology {
	return t.topology
}

// Consumer implements messaging.Transport
func (t *Transport) Consumer() (messaging.Consumer, error) {
	c, err := t.NewConsumer()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Publisher implements messaging.Transport
func (t *Transport) Publisher() (messaging.Publisher, error) {
	p, err := t.NewPublisher()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewConsumer builds a consumer for the transport's topology. The topology
// option comes first so per-consumer options can still override it.
func (t *Transport) NewConsumer(opts ...rabbitmq.ConsumerOption) (*rabbitmq.Consumer, error) {
	options := append([]rabbitmq.ConsumerOption{rabbitmq.WithTopology(t.topology)}, t.consumerOptions...)
	return rabbitmq.NewConsumer(t.endpoints, append(options, opts...)...)
}

// NewPublisher builds a publisher for the transport's topology
func (t *Transport) NewPublisher(opts ...rabbitmq.ClientOption) (*rabbitmq.Publisher, error) {
	options := append(append([]rabbitmq.ClientOption(nil), t.clientOptions...), opts...)
	return rabbitmq.NewPublisher(t.endpoints, t.topology, options...)
}

// NewQueueManager builds a push/pop client on the transport's endpoints
func (t *Transport) NewQueueManager(opts ...rabbitmq.ClientOption) (*rabbitmq.QueueManager, error) {
	options := append(append([]rabbitmq.ClientOption(nil), t.clientOptions...), opts...)
	return rabbitmq.NewQueueManager(t.endpoints, options...)
}
