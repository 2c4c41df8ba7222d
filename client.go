// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queuemanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/glimte/queue-manager-go/internal/rabbitmq"
	"github.com/glimte/queue-manager-go/messaging"
	rabbitmqTransport "github.com/glimte/queue-manager-go/transports/rabbitmq"
)

// Types callers need to describe a RabbitMQ setup without importing the
// internal package.
type (
	Topology         = rabbitmq.Topology
	State            = rabbitmq.State
	Dialer           = rabbitmq.Dialer
	MetricsCollector = rabbitmq.MetricsCollector
	ConsumerOption   = rabbitmq.ConsumerOption
)

// ErrClientClosed is returned by operations on a closed client
var ErrClientClosed = errors.New("queuemanager: client closed")

// Client provides the main entry point for queue-manager-go: one transport,
// a consumer built on first Listen and a publisher built on first Publish.
type Client struct {
	transport    messaging.Transport
	interceptors *messaging.Chain
	logger       *slog.Logger

	mu        sync.Mutex
	consumer  messaging.Consumer
	publisher messaging.Publisher
	closed    bool
}

// NewClient creates a new client with the default RabbitMQ transport
func NewClient(urls []string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	transportOpts := []rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithTopology(cfg.topology),
		rabbitmqTransport.WithLogger(cfg.logger),
	}
	if cfg.dialer != nil {
		transportOpts = append(transportOpts, rabbitmqTransport.WithDialer(cfg.dialer))
	}
	if len(cfg.consumerOptions) > 0 {
		transportOpts = append(transportOpts, rabbitmqTransport.WithConsumerOptions(cfg.consumerOptions...))
	}

	transport, err := rabbitmqTransport.NewTransport(urls, transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return newClient(transport, cfg), nil
}

// NewClientWithTransport creates a client on any transport, such as the
// Pub/Sub one.
func NewClientWithTransport(transport messaging.Transport, options ...ClientOption) *Client {
	return newClient(transport, newClientConfig(options))
}

func newClient(transport messaging.Transport, cfg *clientConfig) *Client {
	return &Client{
		transport:    transport,
		interceptors: messaging.NewChain(cfg.interceptors...),
		logger:       cfg.logger.With("transport", transport.Name()),
	}
}

// Transport returns the underlying transport
func (c *Client) Transport() messaging.Transport {
	return c.transport
}

// Listen consumes until Stop, ctx cancellation or a handler interrupt. The
// handler runs behind the configured interceptors.
func (c *Client) Listen(ctx context.Context, handler messaging.Handler) error {
	consumer, err := c.getConsumer()
	if err != nil {
		return err
	}
	return consumer.StartListening(ctx, c.interceptors.Then(handler))
}

// Stop stops a running Listen
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	consumer := c.consumer
	c.mu.Unlock()

	if consumer == nil {
		return nil
	}
	return consumer.Stop(ctx)
}

// Publish sends one message through the transport's publisher
func (c *Client) Publish(ctx context.Context, body []byte, props messaging.Properties) error {
	publisher, err := c.getPublisher()
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, body, props)
}

// Ping asks the consumer when Listen has built one, the publisher otherwise.
func (c *Client) Ping(ctx context.Context) bool {
	c.mu.Lock()
	consumer := c.consumer
	c.mu.Unlock()

	if consumer != nil {
		return consumer.Ping(ctx)
	}

	publisher, err := c.getPublisher()
	if err != nil {
		c.logger.Debug("ping failed", "error", err)
		return false
	}
	return publisher.Ping(ctx)
}

// Close stops the consumer and releases everything the client built
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumer, publisher := c.consumer, c.publisher
	c.mu.Unlock()

	var errs []error
	if consumer != nil {
		errs = append(errs, consumer.Stop(context.Background()))
		if closer, ok := consumer.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	if closer, ok := publisher.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func (c *Client) getConsumer() (messaging.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.consumer == nil {
		consumer, err := c.transport.Consumer()
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
		c.consumer = consumer
	}
	return c.consumer, nil
}

func (c *Client) getPublisher() (messaging.Publisher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.publisher == nil {
		publisher, err := c.transport.Publisher()
		if err != nil {
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}
		c.publisher = publisher
	}
	return c.publisher, nil
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	topology        Topology
	dialer          Dialer
	consumerOptions []ConsumerOption
	interceptors    []messaging.Interceptor
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger:   slog.Default(),
		topology: Topology{Declare: true},
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithTopology sets the exchange, queue and binding for RabbitMQ
func WithTopology(topology Topology) ClientOption {
	return func(cfg *clientConfig) {
		cfg.topology = topology
	}
}

// WithDialer sets the RabbitMQ connection strategy
func WithDialer(dialer Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// WithConsumerOptions tunes the RabbitMQ consumer (prefetch, reconnect
// delay, metrics, ...)
func WithConsumerOptions(opts ...ConsumerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.consumerOptions = append(cfg.consumerOptions, opts...)
	}
}

// WithInterceptors wraps the handler passed to Listen. The first
// interceptor runs outermost.
func WithInterceptors(interceptors ...messaging.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, interceptors...)
	}
}

// Re-exported RabbitMQ consumer options.
var (
	WithPrefetchCount     = rabbitmq.WithPrefetchCount
	WithReconnectDelay    = rabbitmq.WithReconnectDelay
	WithMetrics           = rabbitmq.WithMetrics
	WithConsumerTagPrefix = rabbitmq.WithConsumerTagPrefix
)
