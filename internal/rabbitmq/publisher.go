package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/queue-manager-go/messaging"
)

type clientConfig struct {
	dialer         Dialer
	dialTimeout    time.Duration
	logger         *slog.Logger
	confirm        bool
	confirmTimeout time.Duration
}

// ClientOption configures the short-lived clients: Publisher and QueueManager
type ClientOption func(*clientConfig)

// WithClientDialer sets the connection strategy
func WithClientDialer(dialer Dialer) ClientOption {
	return func(c *clientConfig) {
		c.dialer = dialer
	}
}

// WithClientConnectTimeout bounds each connection attempt
func WithClientConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.dialTimeout = timeout
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithConfirmMode enables or disables publisher confirms
func WithConfirmMode(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.confirm = enabled
	}
}

// WithConfirmTimeout sets how long to wait for a publisher confirm
func WithConfirmTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.confirmTimeout = timeout
	}
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		dialTimeout:    30 * time.Second,
		logger:         slog.Default(),
		confirm:        true,
		confirmTimeout: 5 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Publisher sends messages to the exchange or queue of its topology. Every
// call opens its own connection and closes it before returning.
type Publisher struct {
	connector      *Connector
	topology       Topology
	confirm        bool
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// NewPublisher creates a publisher for the given endpoints and topology
func NewPublisher(endpoints []string, topology Topology, options ...ClientOption) (*Publisher, error) {
	cfg := newClientConfig(options)

	connector, err := NewConnector(endpoints, cfg.dialer, cfg.dialTimeout, cfg.logger)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		connector:      connector,
		topology:       topology,
		confirm:        cfg.confirm,
		confirmTimeout: cfg.confirmTimeout,
		logger:         cfg.logger,
	}, nil
}

// RoutingKey is the key messages are published with: the topology's routing
// key, or the queue name when no routing key is set.
func (p *Publisher) RoutingKey() string {
	if p.topology.RoutingKey != "" {
		return p.topology.RoutingKey
	}
	return p.topology.Queue
}

// Publish sends one message with the mandatory flag set. In confirm mode it
// waits for the broker to acknowledge the message. A message the broker
// returns as unroutable fails with ErrUnroutable.
func (p *Publisher) Publish(ctx context.Context, body []byte, props messaging.Properties) error {
	conn, err := p.connector.DialNow(ctx)
	if err != nil {
		return err
	}
	defer p.disconnect(conn)

	ch, err := conn.Channel()
	if err != nil {
		return &ChannelError{Op: "open", ChannelID: "publish", Err: err, Timestamp: time.Now()}
	}
	defer ch.Close()

	var confirms chan amqp.Confirmation
	if p.confirm {
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable confirms: %w", err)
		}
		confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	if err := p.declare(ch); err != nil {
		return err
	}

	exchange, key := p.topology.Exchange, p.RoutingKey()
	if err := ch.PublishWithContext(ctx, exchange, key, true, false, publishingFromProperties(body, props)); err != nil {
		return p.publishError(err)
	}

	if confirms != nil {
		select {
		case ret, ok := <-returns:
			return p.returnedError(ret, ok)
		case confirm := <-confirms:
			if !confirm.Ack {
				return p.publishError(ErrPublishNotConfirmed)
			}
		case <-time.After(p.confirmTimeout):
			return p.publishError(ErrPublishTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The broker sends basic.return before the ack of the same message.
	select {
	case ret, ok := <-returns:
		return p.returnedError(ret, ok)
	default:
	}

	p.logger.Debug("published message", "exchange", exchange, "routingKey", key, "size", len(body))
	return nil
}

// MessageCount returns the number of ready messages in the topology's queue,
// or in the queue named by the routing key when no queue is set.
func (p *Publisher) MessageCount(ctx context.Context) (int, error) {
	queue := p.topology.Queue
	if queue == "" {
		queue = p.topology.RoutingKey
	}
	if queue == "" {
		return 0, ErrCountRequiresQueue
	}

	conn, err := p.connector.DialNow(ctx)
	if err != nil {
		return 0, err
	}
	defer p.disconnect(conn)

	ch, err := conn.Channel()
	if err != nil {
		return 0, &ChannelError{Op: "open", ChannelID: "count", Err: err, Timestamp: time.Now()}
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	if err != nil {
		return 0, &TopologyError{Component: "queue", Name: queue, Op: "inspect", Err: err, Timestamp: time.Now()}
	}
	return q.Messages, nil
}

// Ping opens a connection, reports whether it is open and closes it.
func (p *Publisher) Ping(ctx context.Context) bool {
	conn, err := p.connector.DialNow(ctx)
	if err != nil {
		p.logger.Debug("ping failed", "error", err)
		return false
	}
	defer p.disconnect(conn)
	return !conn.IsClosed()
}

// declare runs the named parts of the topology. An anonymous queue would
// vanish with the publisher's connection, so it is never declared here.
func (p *Publisher) declare(ch Channel) error {
	queue := p.topology.Queue
	for _, step := range p.topology.Plan() {
		if step.Kind == StepDeclareQueue && step.Queue.Name == "" {
			continue
		}
		if step.Kind == StepBindQueue && queue == "" {
			continue
		}
		var err error
		if queue, err = step.Run(ch, queue); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishError(err error) error {
	return &PublishError{
		Exchange:   p.topology.Exchange,
		RoutingKey: p.RoutingKey(),
		Mandatory:  true,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

func (p *Publisher) returnedError(ret amqp.Return, ok bool) error {
	if !ok {
		return p.publishError(ErrChannelClosed)
	}
	p.logger.Warn("message returned by broker",
		"exchange", ret.Exchange,
		"routingKey", ret.RoutingKey,
		"replyCode", ret.ReplyCode,
		"replyText", ret.ReplyText)
	return p.publishError(fmt.Errorf("%w: %d %s", ErrUnroutable, ret.ReplyCode, ret.ReplyText))
}

func (p *Publisher) disconnect(conn Connection) {
	if err := conn.Close(); err != nil {
		p.logger.Debug("connection close", "error", err)
	}
}

func publishingFromProperties(body []byte, props messaging.Properties) amqp.Publishing {
	return amqp.Publishing{
		Headers:         amqp.Table(props.Headers),
		ContentType:     props.ContentType,
		ContentEncoding: props.ContentEncoding,
		DeliveryMode:    props.DeliveryMode,
		Priority:        props.Priority,
		CorrelationId:   props.CorrelationID,
		ReplyTo:         props.ReplyTo,
		Expiration:      props.Expiration,
		MessageId:       props.MessageID,
		Timestamp:       props.Timestamp,
		Type:            props.Type,
		UserId:          props.UserID,
		AppId:           props.AppID,
		Body:            body,
	}
}
