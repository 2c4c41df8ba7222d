package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/glimte/queue-manager-go/messaging"
)

// Consumer receives messages from one subscription. Handler success acks the
// message; any error nacks it so Pub/Sub redelivers.
type Consumer struct {
	client         *pubsub.Client
	ownsClient     bool
	subscription   string
	topic          string
	maxOutstanding int
	cfg            *config
	logger         *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	result  error
}

// NewConsumer creates a consumer for subscription. When the subscription is
// missing, StartListening creates it on topic.
func NewConsumer(ctx context.Context, project, subscription, topic string, options ...Option) (*Consumer, error) {
	if subscription == "" {
		return nil, fmt.Errorf("pubsub: subscription name is required")
	}

	cfg := newConfig(options)
	client, owns, err := cfg.newClient(ctx, project)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:         client,
		ownsClient:     owns,
		subscription:   subscription,
		topic:          topic,
		maxOutstanding: cfg.maxOutstanding,
		cfg:            cfg,
		logger:         cfg.logger.With("subscription", subscription),
		done:           make(chan struct{}),
	}, nil
}

// Subscription returns the subscription id
func (c *Consumer) Subscription() string {
	return c.subscription
}

// StartListening ensures the subscription exists and receives until Stop,
// ctx cancellation or a handler interrupt. An interrupted message is nacked
// and the interrupt error is returned.
func (c *Consumer) StartListening(ctx context.Context, handler messaging.Handler) error {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return ErrConsumerStopped
	case c.started:
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.done)
	defer cancel()

	c.logger.Info("connecting to Pub/Sub")
	sub, err := c.ensureSubscription(ctx)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = c.maxOutstanding

	c.logger.Info("listening")
	err = sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		props := propertiesFromMessage(m, c.subscription)
		if err := messaging.SafeHandle(ctx, handler, m.Data, props); err != nil {
			m.Nack()
			if messaging.IsInterrupt(err) {
				c.logger.Warn("handler interrupted consumption", "messageId", m.ID, "error", err)
				c.interrupt(err)
				return
			}
			c.logger.Error("couldn't process message", "messageId", m.ID, "error", err)
			return
		}
		m.Ack()
		c.logger.Debug("message acknowledged", "messageId", m.ID)
	})
	if err != nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("stopped listening")
	return c.result
}

// Stop cancels the receive loop and waits for StartListening to return.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	started, cancel := c.started, c.cancel
	c.mu.Unlock()

	if !started {
		return nil
	}
	cancel()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports whether the subscription exists.
func (c *Consumer) Ping(ctx context.Context) bool {
	ctx, cancel := c.cfg.pingContext(ctx)
	defer cancel()

	ok, err := c.client.Subscription(c.subscription).Exists(ctx)
	if err != nil {
		c.logger.Debug("ping failed", "error", err)
		return false
	}
	return ok
}

// Close releases the client when the consumer created it
func (c *Consumer) Close() error {
	if !c.ownsClient {
		return nil
	}
	return c.client.Close()
}

func (c *Consumer) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := c.client.Subscription(c.subscription)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", c.subscription, err)
	}
	if ok {
		return sub, nil
	}

	c.logger.Warn("subscription does not exist, creating it", "topic", c.topic)
	sub, err = c.client.CreateSubscription(ctx, c.subscription, pubsub.SubscriptionConfig{
		Topic: c.client.Topic(c.topic),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", c.subscription, err)
	}
	c.logger.Info("subscription created", "topic", c.topic)
	return sub, nil
}

func (c *Consumer) interrupt(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		c.result = err
	}
	c.cancel()
}

func propertiesFromMessage(m *pubsub.Message, subscription string) messaging.Properties {
	props := messaging.Properties{
		MessageID:   m.ID,
		Timestamp:   m.PublishTime,
		ConsumerTag: subscription,
	}
	if len(m.Attributes) > 0 {
		props.Headers = make(map[string]interface{}, len(m.Attributes))
		for k, v := range m.Attributes {
			props.Headers[k] = v
		}
		props.ContentType = m.Attributes["content-type"]
	}
	if m.DeliveryAttempt != nil && *m.DeliveryAttempt > 1 {
		props.Redelivered = true
	}
	return props
}
