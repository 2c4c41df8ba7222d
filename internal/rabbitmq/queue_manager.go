package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/queue-manager-go/messaging"
)

// QueueManager pushes to and pops from named queues through the default
// exchange. Push and Pop disconnect when they are done; Ping keeps its
// connection until Close.
type QueueManager struct {
	connector *Connector
	logger    *slog.Logger

	mu   sync.Mutex
	conn Connection
}

// NewQueueManager creates a queue manager for the given endpoints
func NewQueueManager(endpoints []string, options ...ClientOption) (*QueueManager, error) {
	cfg := newClientConfig(options)

	connector, err := NewConnector(endpoints, cfg.dialer, cfg.dialTimeout, cfg.logger)
	if err != nil {
		return nil, err
	}

	return &QueueManager{
		connector: connector,
		logger:    cfg.logger,
	}, nil
}

// Push declares queue with args and publishes body to it.
func (m *QueueManager) Push(ctx context.Context, queue string, body []byte, args amqp.Table, props messaging.Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.disconnect()

	ch, err := m.channel(ctx, queue, args)
	if err != nil {
		return err
	}

	m.logger.Debug("pushing message", "queue", queue, "size", len(body))
	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishingFromProperties(body, props)); err != nil {
		return &PublishError{RoutingKey: queue, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Pop takes one message off queue and acknowledges it. It returns a nil body
// when the queue is empty.
func (m *QueueManager) Pop(ctx context.Context, queue string, args amqp.Table) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.disconnect()

	ch, err := m.channel(ctx, queue, args)
	if err != nil {
		return nil, err
	}

	d, ok, err := ch.Get(queue, false)
	if err != nil {
		return nil, &ConsumerError{Queue: queue, Op: "get", Err: err, Timestamp: time.Now()}
	}
	if !ok {
		m.logger.Debug("queue is empty", "queue", queue)
		return nil, nil
	}

	if err := d.Ack(false); err != nil {
		return nil, &ConsumerError{Queue: queue, Op: "ack", Err: err, Timestamp: time.Now()}
	}
	m.logger.Debug("received message", "queue", queue, "deliveryTag", d.DeliveryTag)
	return d.Body, nil
}

// Ping connects when needed and reports whether the connection is open.
func (m *QueueManager) Ping(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		m.logger.Debug("ping failed", "error", err)
		return false
	}
	return !m.conn.IsClosed()
}

// Close releases the connection kept by Ping.
func (m *QueueManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnect()
	return nil
}

func (m *QueueManager) connect(ctx context.Context) error {
	if m.conn != nil && !m.conn.IsClosed() {
		return nil
	}
	conn, err := m.connector.DialNow(ctx)
	if err != nil {
		return err
	}
	m.conn = conn
	return nil
}

// channel opens a channel and declares queue when one is named.
func (m *QueueManager) channel(ctx context.Context, queue string, args amqp.Table) (Channel, error) {
	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", ChannelID: "queue-manager", Err: err, Timestamp: time.Now()}
	}

	if queue != "" {
		step := Step{Kind: StepDeclareQueue, Queue: &QueueDeclaration{Name: queue, Arguments: args}}
		if _, err := step.Run(ch, queue); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return ch, nil
}

func (m *QueueManager) disconnect() {
	if m.conn == nil {
		return
	}
	m.logger.Debug("disconnecting")
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("connection close", "error", err)
	}
	m.conn = nil
}
