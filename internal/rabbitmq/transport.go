package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection describes the part of *amqp.Connection used by this package.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel describes the part of *amqp.Channel used by this package.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(returns chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	NotifyCancel(c chan string) chan string
	IsClosed() bool
	Close() error
}

// Dialer is the connection strategy: it turns an endpoint set into one live
// connection. Implementations try the endpoints as a failover set.
type Dialer interface {
	Dial(ctx context.Context, endpoints []string) (Connection, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, endpoints []string) (Connection, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, endpoints []string) (Connection, error) {
	return f(ctx, endpoints)
}

// amqpConnection adapts *amqp.Connection to Connection
type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPDialer dials brokers with amqp091-go.
type AMQPDialer struct {
	connectionName string
	dialTimeout    time.Duration
	heartbeat      time.Duration
	logger         *slog.Logger
}

// AMQPDialerOption configures the AMQPDialer
type AMQPDialerOption func(*AMQPDialer)

// WithConnectionName sets the connection_name client property
func WithConnectionName(name string) AMQPDialerOption {
	return func(d *AMQPDialer) {
		d.connectionName = name
	}
}

// WithDialTimeout sets the TCP dial timeout per endpoint
func WithDialTimeout(timeout time.Duration) AMQPDialerOption {
	return func(d *AMQPDialer) {
		d.dialTimeout = timeout
	}
}

// WithHeartbeat sets the heartbeat interval negotiated with the broker
func WithHeartbeat(heartbeat time.Duration) AMQPDialerOption {
	return func(d *AMQPDialer) {
		d.heartbeat = heartbeat
	}
}

// WithDialerLogger sets the logger
func WithDialerLogger(logger *slog.Logger) AMQPDialerOption {
	return func(d *AMQPDialer) {
		d.logger = logger
	}
}

// NewAMQPDialer creates the default dialer
func NewAMQPDialer(options ...AMQPDialerOption) *AMQPDialer {
	d := &AMQPDialer{
		connectionName: "queue-manager",
		dialTimeout:    30 * time.Second,
		heartbeat:      10 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Dial tries every endpoint in order and returns the first connection that
// opens. The returned error is a *ConnectionError wrapping the last failure.
func (d *AMQPDialer) Dial(ctx context.Context, endpoints []string) (Connection, error) {
	if len(endpoints) == 0 {
		return nil, &ConnectionError{Op: "dial", Err: ErrNoEndpoints, Timestamp: time.Now()}
	}

	var lastErr error
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{
				Op:        "dial",
				URL:       SanitizeURL(endpoint),
				Err:       err,
				Timestamp: time.Now(),
				Attempts:  i,
			}
		}

		conn, err := d.dialOne(ctx, endpoint)
		if err == nil {
			return conn, nil
		}

		d.logger.Warn("endpoint unavailable",
			"url", SanitizeURL(endpoint),
			"error", err)
		lastErr = err
	}

	return nil, &ConnectionError{
		Op:        "dial",
		URL:       SanitizeURL(endpoints[len(endpoints)-1]),
		Err:       lastErr,
		Timestamp: time.Now(),
		Attempts:  len(endpoints),
	}
}

func (d *AMQPDialer) dialOne(ctx context.Context, endpoint string) (Connection, error) {
	if _, err := amqp.ParseURI(endpoint); err != nil {
		return nil, err
	}

	config := amqp.Config{
		Heartbeat:  d.heartbeat,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(d.dialTimeout),
		Properties: amqp.NewConnectionProperties(),
	}
	config.Properties.SetClientConnectionName(d.connectionName)

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.DialConfig(endpoint, config)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		return &amqpConnection{Connection: conn}, nil

	case err := <-errChan:
		return nil, err

	case <-ctx.Done():
		// The dial goroutine may still succeed; close whatever it produces.
		go func() {
			select {
			case conn := <-connChan:
				conn.Close()
			case <-errChan:
			}
		}()
		return nil, ErrConnectionTimeout
	}
}
